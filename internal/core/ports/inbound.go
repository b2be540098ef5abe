package ports

import (
	"context"
	"io"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

// DocumentIngestor accepts manually uploaded and bulk-imported documents.
type DocumentIngestor interface {
	Upload(ctx context.Context, filename, mimeType string, body io.Reader) (*domain.Document, error)
	BulkImport(ctx context.Context, format string, body io.Reader) (*BulkResult, error)
}

// BulkResult reports per-row outcomes of a bulk import; one failing row does
// not abort the others.
type BulkResult struct {
	Created  []string   `json:"created"`
	Failures []RowError `json:"failures,omitempty"`
}

type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// DocumentImporter drives a discovered or uploaded document through parsing.
type DocumentImporter interface {
	ImportByID(ctx context.Context, documentID string) error
}

// Dispatcher publishes a ready document through the configured provider
// chain. Submit claims the document (task row + CAS into publishing) and
// queues the work, returning domain.ErrConflict while another publish for
// the same document is active, so callers can reject duplicates before
// anything runs. Run drives a claimed document through the providers.
// Cancel stops an active publish wherever it runs.
type Dispatcher interface {
	Submit(ctx context.Context, documentID, providerName string) (*domain.PublishTask, error)
	Run(ctx context.Context, documentID, providerName string) error
	Cancel(ctx context.Context, documentID string) error
}

// FolderReconciler compares the external folder against known documents.
type FolderReconciler interface {
	ReconcileOnce(ctx context.Context) (int, error)
	ConsecutiveFailures() int
}

// BatchAction names the operator actions the worklist forwards to owning
// components.
type BatchAction string

const (
	ActionRetry       BatchAction = "retry"
	ActionCancel      BatchAction = "cancel"
	ActionMarkPending BatchAction = "mark-pending"
)

type ActionResult struct {
	DocumentID string `json:"document_id"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

// DocumentDetail aggregates everything the worklist shows for one document.
type DocumentDetail struct {
	Document   *domain.Document          `json:"document"`
	History    []domain.StatusTransition `json:"history"`
	LatestTask *domain.PublishTask       `json:"latest_task,omitempty"`
}

// Worklist is the operator-facing read model plus batch actions.
type Worklist interface {
	Query(ctx context.Context, filter domain.WorklistFilter, sort domain.WorklistSort, page domain.WorklistPage) ([]domain.Document, int, error)
	Detail(ctx context.Context, documentID string) (*DocumentDetail, error)
	BatchAction(ctx context.Context, documentIDs []string, action BatchAction) ([]ActionResult, error)
	EventsSince(ctx context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error)
}

// OperatorTransitions exposes the restricted manual status overrides; direct
// arbitrary status writes are not exposed.
type OperatorTransitions interface {
	OperatorTransition(ctx context.Context, documentID string, to domain.DocumentStatus, reason string) (*domain.StatusTransition, error)
}
