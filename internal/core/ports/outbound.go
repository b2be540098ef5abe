package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

// DocumentRepository is the single writer path for document state. Transition
// applies an expected-status compare-and-swap, appends exactly one
// StatusTransition row and one change event, and updates the document row in
// the same transaction.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetByExternalRef(ctx context.Context, ref string) (*domain.Document, error)
	Transition(ctx context.Context, id string, from, to domain.DocumentStatus, actor, reason string, meta map[string]string) (*domain.StatusTransition, error)
	History(ctx context.Context, id string) ([]domain.StatusTransition, error)
	List(ctx context.Context, filter domain.WorklistFilter, sort domain.WorklistSort, page domain.WorklistPage) ([]domain.Document, int, error)
	UpdateFingerprint(ctx context.Context, id, fingerprint string) error
	SetPublishResult(ctx context.Context, id, provider, taskID, postRef string) error
	SetContentRef(ctx context.Context, id, contentRef, title string) error
}

// PublishTaskRepository owns publish task rows and their step sub-structure.
// CreateActive enforces the one-active-task-per-document invariant at the
// store level so it holds across dispatcher instances.
type PublishTaskRepository interface {
	CreateActive(ctx context.Context, task *domain.PublishTask) error
	MarkRunning(ctx context.Context, taskID, provider string, attempt int) error
	AppendStep(ctx context.Context, documentID string, step domain.TaskStep) error
	Close(ctx context.Context, taskID string, status domain.TaskStatus, errDetail, postRef string) error
	GetByID(ctx context.Context, taskID string) (*domain.PublishTask, error)
	LatestForDocument(ctx context.Context, documentID string) (*domain.PublishTask, error)
}

// ChangeEventReader serves the poll side of change notification.
type ChangeEventReader interface {
	ListSince(ctx context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error)
}

// MessageQueue moves import/publish work between api and worker processes and
// fans change events out to push subscribers. Publish work carries the
// requested provider so an explicit choice survives the queue hop; cancel
// signals fan out to every dispatcher instance because only the one holding
// the run can act on them.
type MessageQueue interface {
	EnqueueImport(ctx context.Context, documentID string) error
	ConsumeImports(ctx context.Context, handler func(context.Context, string) error) error
	EnqueuePublish(ctx context.Context, documentID, providerName string) error
	ConsumePublishes(ctx context.Context, handler func(ctx context.Context, documentID, providerName string) error) error
	SignalCancel(ctx context.Context, documentID string) error
	SubscribeCancels(ctx context.Context, handler func(context.Context, string)) (func(), error)
	BroadcastEvent(ctx context.Context, event domain.ChangeEvent) error
	SubscribeEvents(ctx context.Context, handler func(context.Context, domain.ChangeEvent)) (func(), error)
}

// ObjectStorage stores raw and parsed content plus publish artifacts.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// FolderItem is one entry of the watched external folder listing.
type FolderItem struct {
	ID          string
	Name        string
	Fingerprint string
}

// FolderClient lists and fetches items of the watched external folder.
type FolderClient interface {
	List(ctx context.Context) ([]FolderItem, error)
	Fetch(ctx context.Context, itemID string) (io.ReadCloser, error)
}

// Parser turns raw document content into structured fields. Implementations
// wrap the AI parsing collaborator; errors are classified with
// domain.ErrTemporary / domain.ErrFatal kinds.
type Parser interface {
	Parse(ctx context.Context, raw []byte, name string) (domain.ParsedContent, error)
}

// StepEvent is one element of the finite event sequence a provider produces
// while publishing. The terminal event carries the outcome; the channel is
// closed after it.
type StepEvent struct {
	Name       string
	Message    string
	Screenshot string
	At         time.Time
	Terminal   bool
	PostRef    string
	Err        error
}

// PublishTarget identifies where and as whom a provider publishes.
type PublishTarget struct {
	Endpoint string
	Username string
	Secret   string
}

// Provider is an interchangeable automation backend performing the publish
// action against the target CMS. The returned sequence is lazy, finite and
// not restartable.
type Provider interface {
	Name() string
	Publish(ctx context.Context, content domain.ParsedContent, target PublishTarget) (<-chan StepEvent, error)
}
