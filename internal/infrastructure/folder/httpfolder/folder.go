package httpfolder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
	"github.com/kirillkom/content-publisher/internal/infrastructure/resilience"
)

// ListOperation keys the circuit breaker for folder listings; its state is
// surfaced as a watcher health signal.
const ListOperation = "folder.list"

// Client talks to a remote folder API:
//
//	GET {base}/items                -> [{"id","name","fingerprint"}]
//	GET {base}/items/{id}/content   -> raw bytes
//
// The listing API is a rate-limited collaborator, so calls go through a
// limiter and the shared resilience executor.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

func New(baseURL, token string, executor *resilience.Executor, limiter *rate.Limiter) *Client {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
		limiter:    limiter,
	}
}

func (c *Client) List(ctx context.Context) ([]ports.FolderItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var items []ports.FolderItem
	call := func(ctx context.Context) error {
		body, err := c.get(ctx, "/items")
		if err != nil {
			return err
		}
		var decoded []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Fingerprint string `json:"fingerprint"`
		}
		if err := json.Unmarshal(body, &decoded); err != nil {
			return domain.WrapError(domain.ErrFatal, "decode folder listing", err)
		}
		items = items[:0]
		for _, d := range decoded {
			items = append(items, ports.FolderItem{ID: d.ID, Name: d.Name, Fingerprint: d.Fingerprint})
		}
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, ListOperation, call, resilience.ClassifyDomainError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Fetch(ctx context.Context, itemID string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "/items/"+url.PathEscape(itemID)+"/content")
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build folder request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "folder request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "read folder response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.WrapError(domain.ErrNotFound, "folder request", errors.New(resp.Status))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.WrapError(domain.ErrFatal, "folder auth", errors.New(resp.Status))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.WrapError(domain.ErrTemporary, "folder request", errors.New(resp.Status))
	default:
		return nil, domain.WrapError(domain.ErrFatal, "folder request", errors.New(resp.Status))
	}
}
