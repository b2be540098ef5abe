package llmparse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/infrastructure/resilience"
)

// Client calls an Ollama-compatible generation endpoint to turn raw document
// text into structured fields.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewClient(baseURL, model string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		executor:   executor,
	}
}

func (c *Client) generateJSON(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var out string
	call := func(ctx context.Context) error {
		text, err := c.generate(ctx, reqBody)
		if err != nil {
			return err
		}
		out = text
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "parser.generate", call, resilience.ClassifyDomainError)
	} else {
		err = call(ctx)
	}
	return out, err
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "parser request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "read parser response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", domain.WrapError(domain.ErrTemporary, "parser request", errors.New(resp.Status))
	default:
		return "", domain.WrapError(domain.ErrFatal, "parser request", errors.New(resp.Status))
	}

	var response struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", domain.WrapError(domain.ErrTemporary, "decode parser response", err)
	}
	return response.Response, nil
}
