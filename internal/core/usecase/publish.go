package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// ProviderBinding pairs a provider implementation with its target config.
type ProviderBinding struct {
	Provider ports.Provider
	Target   ports.PublishTarget
}

// ProviderSelector resolves the ordered provider chain for a dispatch. An
// explicit name restricts the chain to that provider; otherwise the
// configured fallback order applies.
type ProviderSelector interface {
	Chain(explicit string) ([]ProviderBinding, error)
}

// PublishUseCase dispatches ready documents to a provider chain, persisting
// every step event as it arrives. At most one active task per document is
// enforced through the task store, not a process-local lock, so the guarantee
// holds across dispatcher instances. Submit claims the document and queues
// the work; Run, invoked by the worker consumer, drives the providers.
type PublishUseCase struct {
	repo     ports.DocumentRepository
	tasks    ports.PublishTaskRepository
	storage  ports.ObjectStorage
	selector ProviderSelector
	queue    ports.MessageQueue
	limiter  *rate.Limiter
	policy   RetryPolicy

	active sync.Map // document id -> context.CancelFunc
}

func NewPublishUseCase(
	repo ports.DocumentRepository,
	tasks ports.PublishTaskRepository,
	storage ports.ObjectStorage,
	selector ProviderSelector,
	queue ports.MessageQueue,
	limiter *rate.Limiter,
	policy RetryPolicy,
) *PublishUseCase {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &PublishUseCase{
		repo:     repo,
		tasks:    tasks,
		storage:  storage,
		selector: selector,
		queue:    queue,
		limiter:  limiter,
		policy:   policy.normalize(),
	}
}

// Submit claims the document for publishing and queues the work. The claim
// (active task + CAS into publishing) happens synchronously so a duplicate
// request is rejected with a conflict here, never silently queued. A claim
// that cannot be queued is released again.
func (uc *PublishUseCase) Submit(ctx context.Context, documentID, providerName string) (*domain.PublishTask, error) {
	task, err := uc.claim(ctx, documentID, providerName)
	if err != nil {
		return nil, err
	}

	if err := uc.queue.EnqueuePublish(ctx, documentID, providerName); err != nil {
		releaseCtx := context.WithoutCancel(ctx)
		_ = uc.tasks.Close(releaseCtx, task.ID, domain.TaskCancelled, "publish queue unavailable", "")
		_, _ = uc.repo.Transition(releaseCtx, documentID, domain.StatusPublishing, domain.StatusFailed,
			domain.ActorSystem, "queue_unavailable", map[string]string{"task_id": task.ID})
		return nil, domain.WrapError(domain.ErrTemporary, "submit publish", err)
	}
	return task, nil
}

func (uc *PublishUseCase) claim(ctx context.Context, documentID, providerName string) (*domain.PublishTask, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.StatusReadyToPublish {
		if doc.Status == domain.StatusPublishing {
			return nil, domain.WrapError(domain.ErrConflict, "dispatch",
				fmt.Errorf("document %s is already publishing", doc.ID))
		}
		return nil, domain.WrapError(domain.ErrInvalidTransition, "dispatch",
			fmt.Errorf("document %s is %s, not %s", doc.ID, doc.Status, domain.StatusReadyToPublish))
	}

	chain, err := uc.selector.Chain(providerName)
	if err != nil {
		return nil, fmt.Errorf("resolve provider chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "dispatch", errors.New("no providers configured"))
	}
	if _, err := uc.loadContent(ctx, doc); err != nil {
		return nil, fmt.Errorf("load parsed content: %w", err)
	}

	task := &domain.PublishTask{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Provider:   chain[0].Provider.Name(),
		Status:     domain.TaskQueued,
		StartedAt:  time.Now().UTC(),
	}
	if err := uc.tasks.CreateActive(ctx, task); err != nil {
		return nil, fmt.Errorf("create publish task: %w", err)
	}

	if _, err := uc.repo.Transition(ctx, doc.ID, domain.StatusReadyToPublish, domain.StatusPublishing,
		domain.ActorSystem, "publish dispatched", map[string]string{"task_id": task.ID}); err != nil {
		_ = uc.tasks.Close(ctx, task.ID, domain.TaskCancelled, "lost dispatch race", "")
		return nil, fmt.Errorf("enter publishing: %w", err)
	}
	return task, nil
}

// Run drives a claimed document through the provider chain. The document must
// already be publishing with an active task from Submit; a message for an
// unclaimed or already settled document is rejected rather than re-claimed.
func (uc *PublishUseCase) Run(ctx context.Context, documentID, providerName string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.StatusPublishing {
		return domain.WrapError(domain.ErrInvalidTransition, "run publish",
			fmt.Errorf("document %s is %s, not %s", doc.ID, doc.Status, domain.StatusPublishing))
	}

	task, err := uc.tasks.LatestForDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load claimed task: %w", err)
	}
	if task.Status != domain.TaskQueued && task.Status != domain.TaskRunning {
		return domain.WrapError(domain.ErrInvalidInput, "run publish",
			fmt.Errorf("task %s is already %s", task.ID, task.Status))
	}

	chain, err := uc.selector.Chain(providerName)
	if err != nil {
		return fmt.Errorf("resolve provider chain: %w", err)
	}
	if len(chain) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "run publish", errors.New("no providers configured"))
	}

	content, err := uc.loadContent(ctx, doc)
	if err != nil {
		// Release the claim so the document does not sit in publishing
		// with no run behind it.
		closeCtx := context.WithoutCancel(ctx)
		_ = uc.tasks.Close(closeCtx, task.ID, domain.TaskFailed, err.Error(), "")
		_, _ = uc.repo.Transition(closeCtx, doc.ID, domain.StatusPublishing, domain.StatusFailed,
			domain.ActorSystem, "content_unreadable", map[string]string{"task_id": task.ID})
		return fmt.Errorf("load parsed content: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	uc.active.Store(doc.ID, cancel)
	defer func() {
		cancel()
		uc.active.Delete(doc.ID)
	}()

	return uc.runChain(runCtx, doc, task, chain, content)
}

// Cancel stops an active publish for the document. When the run lives in this
// process its context is cancelled directly; otherwise a cancel signal fans
// out to every dispatcher instance and the one holding the run acts on it.
// Either way the run observes the cancellation, closes the task as cancelled
// and records the failed transition, so no orphaned active task remains.
func (uc *PublishUseCase) Cancel(ctx context.Context, documentID string) error {
	if uc.CancelLocal(documentID) {
		return nil
	}

	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.StatusPublishing {
		return domain.WrapError(domain.ErrInvalidInput, "cancel publish",
			fmt.Errorf("no active publish for document %s", documentID))
	}
	if err := uc.queue.SignalCancel(ctx, documentID); err != nil {
		return fmt.Errorf("signal cancel: %w", err)
	}
	return nil
}

// CancelLocal cancels a publish running in this process and reports whether
// one was found. A miss is normal when the run lives on another instance.
func (uc *PublishUseCase) CancelLocal(documentID string) bool {
	cancel, ok := uc.active.Load(documentID)
	if !ok {
		return false
	}
	cancel.(context.CancelFunc)()
	return true
}

func (uc *PublishUseCase) runChain(ctx context.Context, doc *domain.Document, task *domain.PublishTask, chain []ProviderBinding, content domain.ParsedContent) error {
	attempt := 0
	var lastErr error

	for _, binding := range chain {
		name := binding.Provider.Name()
		for providerAttempt := 1; providerAttempt <= uc.policy.MaxAttempts; providerAttempt++ {
			attempt++
			if err := uc.limiter.Wait(ctx); err != nil {
				return uc.cancelled(ctx, doc, task, err)
			}
			if err := uc.tasks.MarkRunning(ctx, task.ID, name, attempt); err != nil {
				return fmt.Errorf("mark task running: %w", err)
			}

			postRef, err := uc.drive(ctx, doc, task, binding, content)
			if err == nil {
				return uc.succeed(ctx, doc, task, name, postRef)
			}
			if ctx.Err() != nil {
				return uc.cancelled(ctx, doc, task, err)
			}
			if domain.IsKind(err, domain.ErrFatal) {
				return uc.failFatal(ctx, doc, task, name, err)
			}

			lastErr = err
			wait := uc.policy.backoff(providerAttempt)
			slog.Warn("publish_retry",
				"document_id", doc.ID,
				"task_id", task.ID,
				"provider", name,
				"attempt", providerAttempt,
				"max_attempts", uc.policy.MaxAttempts,
				"backoff_ms", wait.Milliseconds(),
				"error", err,
			)
			if providerAttempt < uc.policy.MaxAttempts {
				if err := sleepContext(ctx, wait); err != nil {
					return uc.cancelled(ctx, doc, task, lastErr)
				}
			}
		}
		slog.Warn("publish_provider_exhausted", "document_id", doc.ID, "provider", name)
	}

	detail := "all providers exhausted"
	if lastErr != nil {
		detail = lastErr.Error()
	}
	if err := uc.tasks.Close(ctx, task.ID, domain.TaskFailed, detail, ""); err != nil {
		return fmt.Errorf("close exhausted task: %w", err)
	}
	meta := map[string]string{"task_id": task.ID, "attempts": strconv.Itoa(attempt)}
	if _, err := uc.repo.Transition(ctx, doc.ID, domain.StatusPublishing, domain.StatusFailed,
		domain.ActorSystem, domain.ReasonRetriesExhausted, meta); err != nil {
		return fmt.Errorf("%w; mark failed: %v", lastErr, err)
	}
	return domain.WrapError(domain.ErrTemporary, "dispatch", fmt.Errorf("%s: %w", domain.ReasonRetriesExhausted, lastErr))
}

// drive consumes the provider's finite step sequence, persisting each step as
// it arrives so observers see live progress. The terminal event carries the
// outcome; a stream that ends without one is treated as transient.
func (uc *PublishUseCase) drive(ctx context.Context, doc *domain.Document, task *domain.PublishTask, binding ProviderBinding, content domain.ParsedContent) (string, error) {
	events, err := binding.Provider.Publish(ctx, content, binding.Target)
	if err != nil {
		return "", err
	}

	for event := range events {
		if event.Terminal {
			if event.Err != nil {
				return "", event.Err
			}
			return event.PostRef, nil
		}
		step := domain.TaskStep{
			TaskID:     task.ID,
			Name:       event.Name,
			Message:    event.Message,
			Screenshot: event.Screenshot,
			At:         event.At,
		}
		if step.At.IsZero() {
			step.At = time.Now().UTC()
		}
		if err := uc.tasks.AppendStep(ctx, doc.ID, step); err != nil {
			slog.Error("append_step_failed", "document_id", doc.ID, "task_id", task.ID, "step", event.Name, "error", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", domain.WrapError(domain.ErrTemporary, "publish",
		fmt.Errorf("provider %s ended without terminal event", binding.Provider.Name()))
}

func (uc *PublishUseCase) succeed(ctx context.Context, doc *domain.Document, task *domain.PublishTask, provider, postRef string) error {
	if err := uc.tasks.Close(ctx, task.ID, domain.TaskSucceeded, "", postRef); err != nil {
		return fmt.Errorf("close succeeded task: %w", err)
	}
	if err := uc.repo.SetPublishResult(ctx, doc.ID, provider, task.ID, postRef); err != nil {
		return fmt.Errorf("record publish result: %w", err)
	}
	meta := map[string]string{"task_id": task.ID, "post_ref": postRef}
	if _, err := uc.repo.Transition(ctx, doc.ID, domain.StatusPublishing, domain.StatusPublished,
		provider, "published", meta); err != nil {
		return fmt.Errorf("enter published: %w", err)
	}
	return nil
}

func (uc *PublishUseCase) failFatal(ctx context.Context, doc *domain.Document, task *domain.PublishTask, provider string, cause error) error {
	// Use a fresh context: the run context may already be cancelled.
	closeCtx := context.WithoutCancel(ctx)
	if err := uc.tasks.Close(closeCtx, task.ID, domain.TaskFailed, cause.Error(), ""); err != nil {
		return fmt.Errorf("%w; close task: %v", cause, err)
	}
	meta := map[string]string{"task_id": task.ID, "error": cause.Error()}
	if _, err := uc.repo.Transition(closeCtx, doc.ID, domain.StatusPublishing, domain.StatusFailed,
		provider, "provider_fatal", meta); err != nil {
		return fmt.Errorf("%w; mark failed: %v", cause, err)
	}
	return cause
}

func (uc *PublishUseCase) cancelled(ctx context.Context, doc *domain.Document, task *domain.PublishTask, cause error) error {
	closeCtx := context.WithoutCancel(ctx)
	if err := uc.tasks.Close(closeCtx, task.ID, domain.TaskCancelled, domain.ReasonCancelled, ""); err != nil {
		return fmt.Errorf("%w; close task: %v", cause, err)
	}
	meta := map[string]string{"task_id": task.ID}
	if _, err := uc.repo.Transition(closeCtx, doc.ID, domain.StatusPublishing, domain.StatusFailed,
		domain.ActorOperator, domain.ReasonCancelled, meta); err != nil {
		return fmt.Errorf("%w; mark failed: %v", cause, err)
	}
	return domain.WrapError(domain.ErrTemporary, "dispatch", fmt.Errorf("publish cancelled: %w", cause))
}

func (uc *PublishUseCase) loadContent(ctx context.Context, doc *domain.Document) (domain.ParsedContent, error) {
	if doc.ContentRef == "" {
		return domain.ParsedContent{}, domain.WrapError(domain.ErrInvalidInput, "load content",
			fmt.Errorf("document %s has no content", doc.ID))
	}
	rc, err := uc.storage.Open(ctx, doc.ContentRef)
	if err != nil {
		return domain.ParsedContent{}, fmt.Errorf("open content: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return domain.ParsedContent{}, fmt.Errorf("read content: %w", err)
	}
	var content domain.ParsedContent
	if err := json.Unmarshal(raw, &content); err != nil {
		return domain.ParsedContent{}, fmt.Errorf("decode content: %w", err)
	}
	return content, nil
}
