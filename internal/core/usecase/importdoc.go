package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// ImportUseCase fetches raw content for a document and drives it through the
// parser collaborator: discovered -> importing -> parsed, or -> failed on an
// unrecoverable parse error. Transient parser errors are retried with
// exponential backoff up to the policy cap.
type ImportUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	folder  ports.FolderClient
	parser  ports.Parser
	policy  RetryPolicy
}

func NewImportUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	folder ports.FolderClient,
	parser ports.Parser,
	policy RetryPolicy,
) *ImportUseCase {
	return &ImportUseCase{
		repo:    repo,
		storage: storage,
		folder:  folder,
		parser:  parser,
		policy:  policy.normalize(),
	}
}

func (uc *ImportUseCase) ImportByID(ctx context.Context, documentID string) error {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	switch doc.Status {
	case domain.StatusDiscovered:
		if _, err := uc.repo.Transition(ctx, doc.ID, domain.StatusDiscovered, domain.StatusImporting, domain.ActorSystem, "import started", nil); err != nil {
			return fmt.Errorf("enter importing: %w", err)
		}
	case domain.StatusImporting:
		// Uploaded and bulk-imported documents start here.
	default:
		return domain.WrapError(domain.ErrInvalidTransition, "import",
			fmt.Errorf("document %s is %s", doc.ID, doc.Status))
	}

	raw, err := uc.fetchRaw(ctx, doc)
	if err != nil {
		return uc.fail(ctx, doc.ID, "fetch_failed", 0, err)
	}

	parsed, attempts, err := uc.parseWithRetry(ctx, doc, raw)
	if err != nil {
		reason := "parse_failed"
		if domain.IsKind(err, domain.ErrTemporary) {
			reason = domain.ReasonImportRetriesExhausted
		}
		return uc.fail(ctx, doc.ID, reason, attempts, err)
	}

	parsedKey := fmt.Sprintf("parsed/%s.json", doc.ID)
	payload, err := json.Marshal(parsed)
	if err != nil {
		return uc.fail(ctx, doc.ID, "parse_failed", attempts, fmt.Errorf("encode parsed content: %w", err))
	}
	if err := uc.storage.Save(ctx, parsedKey, bytes.NewReader(payload)); err != nil {
		return uc.fail(ctx, doc.ID, "store_failed", attempts, fmt.Errorf("save parsed content: %w", err))
	}

	title := parsed.Title
	if title == "" {
		title = doc.Title
	}
	if err := uc.repo.SetContentRef(ctx, doc.ID, parsedKey, title); err != nil {
		return fmt.Errorf("record parsed content: %w", err)
	}

	meta := map[string]string{"attempts": strconv.Itoa(attempts)}
	if _, err := uc.repo.Transition(ctx, doc.ID, domain.StatusImporting, domain.StatusParsed, domain.ActorSystem, "parsed", meta); err != nil {
		return fmt.Errorf("enter parsed: %w", err)
	}
	return nil
}

func (uc *ImportUseCase) fetchRaw(ctx context.Context, doc *domain.Document) ([]byte, error) {
	var rc io.ReadCloser
	var err error
	if doc.ExternalRef != "" {
		rc, err = uc.folder.Fetch(ctx, doc.ExternalRef)
	} else {
		rc, err = uc.storage.Open(ctx, doc.ContentRef)
	}
	if err != nil {
		return nil, fmt.Errorf("open raw content: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read raw content: %w", err)
	}
	return raw, nil
}

func (uc *ImportUseCase) parseWithRetry(ctx context.Context, doc *domain.Document, raw []byte) (domain.ParsedContent, int, error) {
	var lastErr error
	for attempt := 1; attempt <= uc.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.ParsedContent{}, attempt - 1, err
		}

		parsed, err := uc.parser.Parse(ctx, raw, doc.Title)
		if err == nil {
			return parsed, attempt, nil
		}
		lastErr = err

		if !domain.IsKind(err, domain.ErrTemporary) || attempt == uc.policy.MaxAttempts {
			return domain.ParsedContent{}, attempt, err
		}

		wait := uc.policy.backoff(attempt)
		slog.Warn("parse_retry",
			"document_id", doc.ID,
			"attempt", attempt,
			"max_attempts", uc.policy.MaxAttempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if err := sleepContext(ctx, wait); err != nil {
			return domain.ParsedContent{}, attempt, lastErr
		}
	}
	return domain.ParsedContent{}, uc.policy.MaxAttempts, lastErr
}

func (uc *ImportUseCase) fail(ctx context.Context, documentID, reason string, attempts int, cause error) error {
	meta := map[string]string{"error": cause.Error()}
	if attempts > 0 {
		meta["attempts"] = strconv.Itoa(attempts)
	}
	if _, trErr := uc.repo.Transition(ctx, documentID, domain.StatusImporting, domain.StatusFailed, domain.ActorSystem, reason, meta); trErr != nil {
		return fmt.Errorf("%w; mark failed: %v", cause, trErr)
	}
	return cause
}
