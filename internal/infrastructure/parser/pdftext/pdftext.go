package pdftext

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// IsPDF sniffs the PDF magic header.
func IsPDF(raw []byte) bool {
	return bytes.HasPrefix(raw, []byte("%PDF-"))
}

// Extract pulls plain text out of a PDF payload.
func Extract(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(textReader); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}
