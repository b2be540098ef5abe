package provider

import (
	"context"
	"testing"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
	"github.com/kirillkom/content-publisher/internal/core/usecase"
)

type namedProvider struct{ name string }

func (p namedProvider) Name() string { return p.name }

func (p namedProvider) Publish(context.Context, domain.ParsedContent, ports.PublishTarget) (<-chan ports.StepEvent, error) {
	ch := make(chan ports.StepEvent)
	close(ch)
	return ch, nil
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(usecase.ProviderBinding{Provider: namedProvider{name: "cms-api"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(usecase.ProviderBinding{Provider: namedProvider{name: "cms-api"}}); err == nil {
		t.Fatalf("expected duplicate rejection")
	}
}

func TestChainFollowsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"cms-api", "browserless"} {
		if err := registry.Register(usecase.ProviderBinding{Provider: namedProvider{name: name}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	chain, err := registry.Chain("")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 2 || chain[0].Provider.Name() != "cms-api" || chain[1].Provider.Name() != "browserless" {
		t.Fatalf("unexpected chain order")
	}
}

func TestChainWithExplicitName(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"cms-api", "browserless"} {
		if err := registry.Register(usecase.ProviderBinding{Provider: namedProvider{name: name}}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	chain, err := registry.Chain("browserless")
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if len(chain) != 1 || chain[0].Provider.Name() != "browserless" {
		t.Fatalf("expected single browserless binding")
	}

	if _, err := registry.Chain("ghost"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
