package cmsapi

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
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// Provider publishes through the target CMS REST API: authenticate, create a
// draft, fill the fields, submit. Each stage is emitted as a step event so the
// task trace shows where a run stopped.
type Provider struct {
	httpClient *http.Client
}

func New() *Provider {
	return &Provider{httpClient: &http.Client{Timeout: 60 * time.Second}}
}

func (p *Provider) Name() string { return "cms-api" }

func (p *Provider) Publish(ctx context.Context, content domain.ParsedContent, target ports.PublishTarget) (<-chan ports.StepEvent, error) {
	if target.Endpoint == "" {
		return nil, domain.WrapError(domain.ErrFatal, "cms publish", errors.New("target endpoint is empty"))
	}

	events := make(chan ports.StepEvent)
	go func() {
		defer close(events)
		p.run(ctx, content, target, events)
	}()
	return events, nil
}

func (p *Provider) run(ctx context.Context, content domain.ParsedContent, target ports.PublishTarget, events chan<- ports.StepEvent) {
	base := strings.TrimRight(target.Endpoint, "/")

	token, err := p.authenticate(ctx, base, target)
	if !emit(ctx, events, "authenticate", "session established", err) {
		return
	}

	draftID, err := p.createDraft(ctx, base, token)
	if !emit(ctx, events, "create_draft", fmt.Sprintf("draft %s created", draftID), err) {
		return
	}

	err = p.setFields(ctx, base, token, draftID, content)
	if !emit(ctx, events, "set_fields", "content fields written", err) {
		return
	}

	postRef, err := p.submit(ctx, base, token, draftID)
	if err != nil {
		terminal(ctx, events, ports.StepEvent{Name: "submit", Terminal: true, Err: err})
		return
	}
	terminal(ctx, events, ports.StepEvent{
		Name:     "submit",
		Message:  "post published",
		Terminal: true,
		PostRef:  postRef,
	})
}

// emit sends a progress step on success or a terminal failure event, and
// reports whether the sequence may continue.
func emit(ctx context.Context, events chan<- ports.StepEvent, name, message string, err error) bool {
	if err != nil {
		terminal(ctx, events, ports.StepEvent{Name: name, Terminal: true, Err: err})
		return false
	}
	select {
	case events <- ports.StepEvent{Name: name, Message: message, At: time.Now().UTC()}:
		return true
	case <-ctx.Done():
		terminal(ctx, events, ports.StepEvent{Name: name, Terminal: true, Err: ctx.Err()})
		return false
	}
}

func terminal(ctx context.Context, events chan<- ports.StepEvent, event ports.StepEvent) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	select {
	case events <- event:
	case <-ctx.Done():
		// Consumer is gone; the channel close is enough.
	}
}

func (p *Provider) authenticate(ctx context.Context, base string, target ports.PublishTarget) (string, error) {
	payload := map[string]string{"username": target.Username, "password": target.Secret}
	var response struct {
		Token string `json:"token"`
	}
	if err := p.postJSON(ctx, base+"/api/auth/login", "", payload, &response); err != nil {
		return "", err
	}
	if response.Token == "" {
		return "", domain.WrapError(domain.ErrFatal, "cms auth", errors.New("empty token in auth response"))
	}
	return response.Token, nil
}

func (p *Provider) createDraft(ctx context.Context, base, token string) (string, error) {
	var response struct {
		ID string `json:"id"`
	}
	if err := p.postJSON(ctx, base+"/api/posts", token, map[string]string{"status": "draft"}, &response); err != nil {
		return "", err
	}
	if response.ID == "" {
		return "", domain.WrapError(domain.ErrTemporary, "cms create draft", errors.New("empty draft id"))
	}
	return response.ID, nil
}

func (p *Provider) setFields(ctx context.Context, base, token, draftID string, content domain.ParsedContent) error {
	payload := map[string]any{
		"title":    content.Title,
		"body":     content.Body,
		"summary":  content.Summary,
		"keywords": content.Keywords,
	}
	return p.postJSON(ctx, base+"/api/posts/"+draftID+"/fields", token, payload, nil)
}

func (p *Provider) submit(ctx context.Context, base, token, draftID string) (string, error) {
	var response struct {
		URL string `json:"url"`
	}
	if err := p.postJSON(ctx, base+"/api/posts/"+draftID+"/publish", token, nil, &response); err != nil {
		return "", err
	}
	if response.URL == "" {
		response.URL = draftID
	}
	return response.URL, nil
}

func (p *Provider) postJSON(ctx context.Context, url, token string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal cms request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build cms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrTemporary, "cms request", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.WrapError(domain.ErrTemporary, "decode cms response", err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.WrapError(domain.ErrFatal, "cms request", fmt.Errorf("status %d", code))
	case code >= 500 || code == http.StatusTooManyRequests:
		return domain.WrapError(domain.ErrTemporary, "cms request", fmt.Errorf("status %d", code))
	default:
		return domain.WrapError(domain.ErrFatal, "cms request", fmt.Errorf("status %d", code))
	}
}
