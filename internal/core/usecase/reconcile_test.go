package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

func TestReconcileOnceDiscoversNewItems(t *testing.T) {
	repo := newRepoFake()
	queue := &queueFake{}
	folder := &folderFake{items: []ports.FolderItem{
		{ID: "item-1", Name: "a.txt", Fingerprint: "f1"},
		{ID: "item-2", Name: "b.txt", Fingerprint: "f2"},
	}}

	uc := NewReconcileUseCase(repo, folder, queue)
	enqueued, err := uc.ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if enqueued != 2 {
		t.Fatalf("expected 2 enqueued, got %d", enqueued)
	}
	if queue.importCount() != 2 {
		t.Fatalf("expected 2 import messages, got %d", queue.importCount())
	}

	doc, err := repo.GetByExternalRef(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("discovered document missing: %v", err)
	}
	if doc.Status != domain.StatusDiscovered {
		t.Fatalf("expected discovered, got %s", doc.Status)
	}
	if doc.Source != domain.SourceFolderWatch {
		t.Fatalf("expected folder-watch source, got %s", doc.Source)
	}
	if doc.Fingerprint != "f1" {
		t.Fatalf("expected fingerprint recorded, got %q", doc.Fingerprint)
	}
}

func TestReconcileOnceIsIdempotentForKnownItems(t *testing.T) {
	repo := newRepoFake(&domain.Document{
		ID:          "doc-1",
		ExternalRef: "item-1",
		Fingerprint: "f1",
		Status:      domain.StatusParsed,
	})
	queue := &queueFake{}
	folder := &folderFake{items: []ports.FolderItem{{ID: "item-1", Name: "a.txt", Fingerprint: "f1"}}}

	uc := NewReconcileUseCase(repo, folder, queue)
	for i := 0; i < 3; i++ {
		enqueued, err := uc.ReconcileOnce(context.Background())
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if enqueued != 0 {
			t.Fatalf("cycle %d: expected nothing enqueued, got %d", i, enqueued)
		}
	}
	if queue.importCount() != 0 {
		t.Fatalf("expected no import messages, got %d", queue.importCount())
	}
}

func TestReconcileOnceReopensFailedOnFingerprintChange(t *testing.T) {
	repo := newRepoFake(&domain.Document{
		ID:          "doc-1",
		ExternalRef: "item-1",
		Fingerprint: "old",
		Status:      domain.StatusFailed,
	})
	queue := &queueFake{}
	folder := &folderFake{items: []ports.FolderItem{{ID: "item-1", Name: "a.txt", Fingerprint: "new"}}}

	uc := NewReconcileUseCase(repo, folder, queue)
	enqueued, err := uc.ReconcileOnce(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("expected 1 enqueued, got %d", enqueued)
	}

	doc, _ := repo.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusDiscovered {
		t.Fatalf("expected reopened to discovered, got %s", doc.Status)
	}
	if doc.Fingerprint != "new" {
		t.Fatalf("expected fingerprint updated, got %q", doc.Fingerprint)
	}

	// The same change must not trigger a second enqueue.
	if _, err := uc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if queue.importCount() != 1 {
		t.Fatalf("expected exactly 1 import message, got %d", queue.importCount())
	}
}

func TestReconcileOnceNeverReopensPublishedDocuments(t *testing.T) {
	repo := newRepoFake(&domain.Document{
		ID:          "doc-1",
		ExternalRef: "item-1",
		Fingerprint: "old",
		Status:      domain.StatusPublished,
	})
	queue := &queueFake{}
	folder := &folderFake{items: []ports.FolderItem{{ID: "item-1", Name: "a.txt", Fingerprint: "new"}}}

	uc := NewReconcileUseCase(repo, folder, queue)
	if _, err := uc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	doc, _ := repo.GetByID(context.Background(), "doc-1")
	if doc.Status != domain.StatusPublished {
		t.Fatalf("published document was reopened to %s", doc.Status)
	}
	if queue.importCount() != 0 {
		t.Fatalf("expected no import messages, got %d", queue.importCount())
	}
}

func TestReconcileOnceCountsConsecutiveListFailures(t *testing.T) {
	folder := &folderFake{listErr: errors.New("folder api down")}
	uc := NewReconcileUseCase(newRepoFake(), folder, &queueFake{})

	for i := 1; i <= 3; i++ {
		if _, err := uc.ReconcileOnce(context.Background()); err == nil {
			t.Fatalf("expected list error")
		}
		if got := uc.ConsecutiveFailures(); got != i {
			t.Fatalf("expected %d consecutive failures, got %d", i, got)
		}
	}

	folder.listErr = nil
	if _, err := uc.ReconcileOnce(context.Background()); err != nil {
		t.Fatalf("reconcile after recovery: %v", err)
	}
	if got := uc.ConsecutiveFailures(); got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}
}
