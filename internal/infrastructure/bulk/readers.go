package bulk

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/content-publisher/internal/core/usecase"
)

// Readers returns the bulk upload decoders keyed by format name.
func Readers() map[string]usecase.BulkReader {
	return map[string]usecase.BulkReader{
		"csv":    CSVReader{},
		"ndjson": NDJSONReader{},
		"xlsx":   XLSXReader{},
	}
}

// CSVReader expects a header row containing at least "title" and "body".
type CSVReader struct{}

func (CSVReader) ReadRows(r io.Reader) ([]usecase.BulkRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	titleIdx, bodyIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "title":
			titleIdx = i
		case "body":
			bodyIdx = i
		}
	}
	if titleIdx < 0 || bodyIdx < 0 {
		return nil, errors.New("csv header must contain title and body columns")
	}

	var rows []usecase.BulkRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := usecase.BulkRow{}
		if titleIdx < len(record) {
			row.Title = record[titleIdx]
		}
		if bodyIdx < len(record) {
			row.Body = record[bodyIdx]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// NDJSONReader expects one {"title": ..., "body": ...} object per line.
type NDJSONReader struct{}

func (NDJSONReader) ReadRows(r io.Reader) ([]usecase.BulkRow, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var rows []usecase.BulkRow
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var row usecase.BulkRow
		var decoded struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row.Title = decoded.Title
		row.Body = decoded.Body
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ndjson: %w", err)
	}
	return rows, nil
}

// XLSXReader reads the first sheet; row one is the header with "title" and
// "body" columns.
type XLSXReader struct{}

func (XLSXReader) ReadRows(r io.Reader) ([]usecase.BulkRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("xlsx has no sheets")
	}
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	if len(records) == 0 {
		return nil, errors.New("xlsx sheet is empty")
	}

	titleIdx, bodyIdx := -1, -1
	for i, col := range records[0] {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "title":
			titleIdx = i
		case "body":
			bodyIdx = i
		}
	}
	if titleIdx < 0 || bodyIdx < 0 {
		return nil, errors.New("xlsx header must contain title and body columns")
	}

	var rows []usecase.BulkRow
	for _, record := range records[1:] {
		row := usecase.BulkRow{}
		if titleIdx < len(record) {
			row.Title = record[titleIdx]
		}
		if bodyIdx < len(record) {
			row.Body = record[bodyIdx]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
