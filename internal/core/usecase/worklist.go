package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// WorklistUseCase serves the operator-facing read model over documents,
// transitions and publish tasks, and forwards batch actions to the owning
// components. It never mutates state except through those explicit actions.
type WorklistUseCase struct {
	repo       ports.DocumentRepository
	tasks      ports.PublishTaskRepository
	events     ports.ChangeEventReader
	dispatcher ports.Dispatcher
	queue      ports.MessageQueue
}

func NewWorklistUseCase(
	repo ports.DocumentRepository,
	tasks ports.PublishTaskRepository,
	events ports.ChangeEventReader,
	dispatcher ports.Dispatcher,
	queue ports.MessageQueue,
) *WorklistUseCase {
	return &WorklistUseCase{
		repo:       repo,
		tasks:      tasks,
		events:     events,
		dispatcher: dispatcher,
		queue:      queue,
	}
}

func (uc *WorklistUseCase) Query(ctx context.Context, filter domain.WorklistFilter, sort domain.WorklistSort, page domain.WorklistPage) ([]domain.Document, int, error) {
	if filter.Status != "" && !domain.IsValidStatus(filter.Status) {
		return nil, 0, domain.WrapError(domain.ErrInvalidInput, "worklist query",
			fmt.Errorf("unknown status %q", filter.Status))
	}
	return uc.repo.List(ctx, filter, sort, page.Normalize())
}

func (uc *WorklistUseCase) Detail(ctx context.Context, documentID string) (*ports.DocumentDetail, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	history, err := uc.repo.History(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	detail := &ports.DocumentDetail{Document: doc, History: history}

	task, err := uc.tasks.LatestForDocument(ctx, documentID)
	switch {
	case err == nil:
		detail.LatestTask = task
	case domain.IsKind(err, domain.ErrNotFound):
		// Never published; nothing to attach.
	default:
		return nil, fmt.Errorf("load latest task: %w", err)
	}
	return detail, nil
}

// BatchAction applies the action to each document independently; one failing
// id does not abort the others.
func (uc *WorklistUseCase) BatchAction(ctx context.Context, documentIDs []string, action ports.BatchAction) ([]ports.ActionResult, error) {
	if len(documentIDs) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "batch action", errors.New("no document ids"))
	}

	results := make([]ports.ActionResult, 0, len(documentIDs))
	for _, id := range documentIDs {
		var err error
		switch action {
		case ports.ActionRetry:
			err = uc.retry(ctx, id)
		case ports.ActionCancel:
			err = uc.cancel(ctx, id)
		case ports.ActionMarkPending:
			_, err = uc.repo.Transition(ctx, id, domain.StatusReview, domain.StatusReadyToPublish,
				domain.ActorOperator, "approved", nil)
		default:
			err = domain.WrapError(domain.ErrInvalidInput, "batch action", fmt.Errorf("unknown action %q", action))
		}

		result := ports.ActionResult{DocumentID: id, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

func (uc *WorklistUseCase) EventsSince(ctx context.Context, cursor int64, limit int) ([]domain.ChangeEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return uc.events.ListSince(ctx, cursor, limit)
}

// OperatorTransition applies a manual status override. The adjacency table
// still validates the edge; arbitrary writes are not possible through here.
func (uc *WorklistUseCase) OperatorTransition(ctx context.Context, documentID string, to domain.DocumentStatus, reason string) (*domain.StatusTransition, error) {
	if !domain.IsValidStatus(to) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "operator transition",
			fmt.Errorf("unknown status %q", to))
	}
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	return uc.repo.Transition(ctx, documentID, doc.Status, to, domain.ActorOperator, reason, nil)
}

// retry returns a failed document to the state it failed from, read off the
// history. A document that failed while publishing goes back to
// ready_to_publish so the operator can re-dispatch.
func (uc *WorklistUseCase) retry(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.Status != domain.StatusFailed {
		return domain.WrapError(domain.ErrInvalidTransition, "retry",
			fmt.Errorf("document %s is %s, not %s", doc.ID, doc.Status, domain.StatusFailed))
	}

	previous, err := uc.previousState(ctx, documentID)
	if err != nil {
		return err
	}
	if previous == domain.StatusPublishing {
		previous = domain.StatusReadyToPublish
	}

	if _, err := uc.repo.Transition(ctx, documentID, domain.StatusFailed, previous,
		domain.ActorOperator, "retry", nil); err != nil {
		return err
	}

	switch previous {
	case domain.StatusDiscovered, domain.StatusImporting:
		if err := uc.queue.EnqueueImport(ctx, documentID); err != nil {
			return fmt.Errorf("enqueue re-import: %w", err)
		}
	}
	return nil
}

func (uc *WorklistUseCase) previousState(ctx context.Context, documentID string) (domain.DocumentStatus, error) {
	history, err := uc.repo.History(ctx, documentID)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].ToStatus == domain.StatusFailed {
			return history[i].FromStatus, nil
		}
	}
	return "", domain.WrapError(domain.ErrInvalidTransition, "retry",
		fmt.Errorf("document %s has no failure in history", documentID))
}

func (uc *WorklistUseCase) cancel(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	switch {
	case doc.Status == domain.StatusPublishing:
		return uc.dispatcher.Cancel(ctx, documentID)
	case domain.IsTerminal(doc.Status) || doc.Status == domain.StatusFailed:
		return domain.WrapError(domain.ErrInvalidTransition, "cancel",
			fmt.Errorf("document %s is %s", doc.ID, doc.Status))
	default:
		_, err := uc.repo.Transition(ctx, documentID, doc.Status, domain.StatusFailed,
			domain.ActorOperator, domain.ReasonCancelled, nil)
		return err
	}
}
