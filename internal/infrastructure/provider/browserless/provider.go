package browserless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// Provider drives a remote browser automation service through the target CMS
// admin UI. It is the fallback path for targets without a usable API; each UI
// stage returns a screenshot that is stored as a task artifact.
type Provider struct {
	serviceURL string
	storage    ports.ObjectStorage
	httpClient *http.Client
}

func New(serviceURL string, storage ports.ObjectStorage) *Provider {
	return &Provider{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		storage:    storage,
		httpClient: &http.Client{Timeout: 180 * time.Second},
	}
}

func (p *Provider) Name() string { return "browserless" }

func (p *Provider) Publish(ctx context.Context, content domain.ParsedContent, target ports.PublishTarget) (<-chan ports.StepEvent, error) {
	if p.serviceURL == "" {
		return nil, domain.WrapError(domain.ErrFatal, "browser publish", errors.New("browser service url is empty"))
	}

	events := make(chan ports.StepEvent)
	go func() {
		defer close(events)
		p.run(ctx, content, target, events)
	}()
	return events, nil
}

type stepRequest struct {
	Session string         `json:"session"`
	Action  string         `json:"action"`
	Target  string         `json:"target,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

type stepResponse struct {
	Message    string `json:"message"`
	Screenshot []byte `json:"screenshot"`
	PostRef    string `json:"post_ref"`
}

func (p *Provider) run(ctx context.Context, content domain.ParsedContent, target ports.PublishTarget, events chan<- ports.StepEvent) {
	session := uuid.NewString()

	steps := []stepRequest{
		{Session: session, Action: "open", Target: target.Endpoint},
		{Session: session, Action: "login", Params: map[string]any{
			"username": target.Username,
			"password": target.Secret,
		}},
		{Session: session, Action: "new_post"},
		{Session: session, Action: "fill", Params: map[string]any{
			"title":    content.Title,
			"body":     content.Body,
			"summary":  content.Summary,
			"keywords": content.Keywords,
		}},
	}

	for _, step := range steps {
		resp, err := p.execute(ctx, step)
		if err != nil {
			p.terminal(ctx, events, ports.StepEvent{Name: step.Action, Terminal: true, Err: err})
			return
		}
		event := ports.StepEvent{
			Name:       step.Action,
			Message:    resp.Message,
			Screenshot: p.saveScreenshot(ctx, session, step.Action, resp.Screenshot),
			At:         time.Now().UTC(),
		}
		select {
		case events <- event:
		case <-ctx.Done():
			p.terminal(ctx, events, ports.StepEvent{Name: step.Action, Terminal: true, Err: ctx.Err()})
			return
		}
	}

	resp, err := p.execute(ctx, stepRequest{Session: session, Action: "submit"})
	if err != nil {
		p.terminal(ctx, events, ports.StepEvent{Name: "submit", Terminal: true, Err: err})
		return
	}
	p.terminal(ctx, events, ports.StepEvent{
		Name:       "submit",
		Message:    resp.Message,
		Screenshot: p.saveScreenshot(ctx, session, "submit", resp.Screenshot),
		Terminal:   true,
		PostRef:    resp.PostRef,
	})
}

func (p *Provider) terminal(ctx context.Context, events chan<- ports.StepEvent, event ports.StepEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case events <- event:
	case <-ctx.Done():
	}
}

func (p *Provider) execute(ctx context.Context, step stepRequest) (*stepResponse, error) {
	payload, err := json.Marshal(step)
	if err != nil {
		return nil, fmt.Errorf("marshal browser step: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serviceURL+"/v1/steps", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build browser request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "browser request", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnprocessableEntity:
		// The service reports an unrecoverable page state, e.g. a changed
		// selector or a rejected login.
		return nil, domain.WrapError(domain.ErrFatal, "browser step "+step.Action, errors.New(resp.Status))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.WrapError(domain.ErrTemporary, "browser step "+step.Action, errors.New(resp.Status))
	default:
		return nil, domain.WrapError(domain.ErrFatal, "browser step "+step.Action, errors.New(resp.Status))
	}

	var out stepResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "decode browser response", err)
	}
	return &out, nil
}

// saveScreenshot persists the step screenshot and returns its storage key.
// Storage failures only cost the artifact, not the publish run.
func (p *Provider) saveScreenshot(ctx context.Context, session, action string, raw []byte) string {
	if len(raw) == 0 || p.storage == nil {
		return ""
	}
	key := fmt.Sprintf("screenshots/%s_%s.png", session, action)
	if err := p.storage.Save(ctx, key, bytes.NewReader(raw)); err != nil {
		return ""
	}
	return key
}
