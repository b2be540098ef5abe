package cmsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

func collect(t *testing.T, events <-chan ports.StepEvent) []ports.StepEvent {
	t.Helper()
	var out []ports.StepEvent
	for event := range events {
		out = append(out, event)
	}
	if len(out) == 0 {
		t.Fatalf("no events emitted")
	}
	last := out[len(out)-1]
	if !last.Terminal {
		t.Fatalf("last event is not terminal: %+v", last)
	}
	return out
}

func TestPublishHappyPath(t *testing.T) {
	var sawAuth, sawFields bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			var creds map[string]string
			_ = json.NewDecoder(r.Body).Decode(&creds)
			if creds["username"] != "bot" || creds["password"] != "s3cret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			sawAuth = true
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		case "/api/posts":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "draft-7"})
		case "/api/posts/draft-7/fields":
			sawFields = true
			w.WriteHeader(http.StatusOK)
		case "/api/posts/draft-7/publish":
			_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://cms.example/p/7"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	events, err := New().Publish(context.Background(), domain.ParsedContent{Title: "T", Body: "B"},
		ports.PublishTarget{Endpoint: server.URL, Username: "bot", Secret: "s3cret"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	steps := collect(t, events)
	last := steps[len(steps)-1]
	if last.Err != nil {
		t.Fatalf("unexpected terminal error: %v", last.Err)
	}
	if last.PostRef != "https://cms.example/p/7" {
		t.Fatalf("unexpected post ref %q", last.PostRef)
	}
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	if !sawAuth || !sawFields {
		t.Fatalf("expected auth and fields calls")
	}
}

func TestPublishAuthFailureIsFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	events, err := New().Publish(context.Background(), domain.ParsedContent{},
		ports.PublishTarget{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	steps := collect(t, events)
	last := steps[len(steps)-1]
	if last.Name != "authenticate" {
		t.Fatalf("expected failure at authenticate, got %q", last.Name)
	}
	if !domain.IsKind(last.Err, domain.ErrFatal) {
		t.Fatalf("expected fatal error, got %v", last.Err)
	}
}

func TestPublishServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	events, err := New().Publish(context.Background(), domain.ParsedContent{},
		ports.PublishTarget{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	steps := collect(t, events)
	last := steps[len(steps)-1]
	if !domain.IsKind(last.Err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", last.Err)
	}
}

func TestPublishRejectsEmptyEndpoint(t *testing.T) {
	if _, err := New().Publish(context.Background(), domain.ParsedContent{}, ports.PublishTarget{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestClassifyStatus(t *testing.T) {
	if err := classifyStatus(http.StatusCreated); err != nil {
		t.Fatalf("2xx must pass, got %v", err)
	}
	if err := classifyStatus(http.StatusTooManyRequests); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("429 must be temporary, got %v", err)
	}
	if err := classifyStatus(http.StatusBadRequest); !domain.IsKind(err, domain.ErrFatal) {
		t.Fatalf("400 must be fatal, got %v", err)
	}
}
