package llmparse

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/infrastructure/parser/pdftext"
)

// Parser implements the parsing collaborator: PDF payloads are converted to
// plain text first, then the model extracts structured fields. When the model
// fails fatally and the fallback is enabled, a heuristic split keeps the
// document moving instead of failing it.
type Parser struct {
	client   *Client
	fallback bool
}

func NewParser(client *Client, fallback bool) *Parser {
	return &Parser{client: client, fallback: fallback}
}

func (p *Parser) Parse(ctx context.Context, raw []byte, name string) (domain.ParsedContent, error) {
	text, err := toText(raw)
	if err != nil {
		return domain.ParsedContent{}, err
	}
	if strings.TrimSpace(text) == "" {
		return domain.ParsedContent{}, domain.WrapError(domain.ErrFatal, "parse", errors.New("empty document"))
	}

	parsed, err := p.parseWithModel(ctx, text, name)
	if err == nil {
		return parsed, nil
	}
	if domain.IsKind(err, domain.ErrTemporary) || !p.fallback {
		return domain.ParsedContent{}, err
	}
	return heuristicParse(text, name), nil
}

func (p *Parser) parseWithModel(ctx context.Context, text, name string) (domain.ParsedContent, error) {
	response, err := p.client.generateJSON(ctx, buildParsePrompt(text, name))
	if err != nil {
		return domain.ParsedContent{}, err
	}

	var parsed domain.ParsedContent
	if err := json.Unmarshal([]byte(extractJSONObject(response)), &parsed); err != nil {
		return domain.ParsedContent{}, domain.WrapError(domain.ErrTemporary, "parse model output", err)
	}
	if strings.TrimSpace(parsed.Body) == "" {
		return domain.ParsedContent{}, domain.WrapError(domain.ErrTemporary, "parse model output", errors.New("empty body"))
	}
	if parsed.Keywords == nil {
		parsed.Keywords = []string{}
	}
	return parsed, nil
}

func toText(raw []byte) (string, error) {
	if pdftext.IsPDF(raw) {
		text, err := pdftext.Extract(raw)
		if err != nil {
			return "", domain.WrapError(domain.ErrFatal, "extract pdf", err)
		}
		return text, nil
	}
	if !utf8.Valid(raw) {
		return "", domain.WrapError(domain.ErrFatal, "parse", errors.New("unsupported binary content"))
	}
	return string(raw), nil
}

// heuristicParse treats the first non-empty line as the title and the rest as
// the body.
func heuristicParse(text, name string) domain.ParsedContent {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	title := name
	bodyStart := 0
	for i, line := range lines {
		if strings.TrimSpace(line) != "" {
			title = strings.TrimSpace(line)
			bodyStart = i + 1
			break
		}
	}
	body := strings.TrimSpace(strings.Join(lines[bodyStart:], "\n"))
	if body == "" {
		body = text
	}
	return domain.ParsedContent{
		Title:    title,
		Body:     body,
		Keywords: []string{},
	}
}

// extractJSONObject trims any chatter the model wraps around the JSON body.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
