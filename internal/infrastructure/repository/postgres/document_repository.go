package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

// DocumentRepository is the single writer path for document status. Every
// accepted transition updates the document row, appends the transition and a
// change event in one transaction, guarded by an expected-status
// compare-and-swap.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, title, source, external_ref, fingerprint, content_ref, status, provider, last_task_id, post_ref, fail_reason, created_at, updated_at`

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var externalRef any
	if doc.ExternalRef != "" {
		externalRef = doc.ExternalRef
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO documents (`+documentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`,
		doc.ID, doc.Title, string(doc.Source), externalRef, doc.Fingerprint, doc.ContentRef,
		string(doc.Status), doc.Provider, doc.LastTaskID, doc.PostRef, doc.FailReason,
		doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document event: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, domain.EventDocumentCreated, doc.ID, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepository) GetByExternalRef(ctx context.Context, ref string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+documentColumns+`
FROM documents
WHERE external_ref = $1
`, ref)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get document by external ref", fmt.Errorf("ref=%s", ref))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return doc, nil
}

// Transition validates the edge against the adjacency table, then applies a
// compare-and-swap on the stored status. A CAS miss means a concurrent writer
// won; the caller gets StaleState and must re-read.
func (r *DocumentRepository) Transition(ctx context.Context, id string, from, to domain.DocumentStatus, actor, reason string, meta map[string]string) (*domain.StatusTransition, error) {
	if !domain.CanTransition(from, to) {
		return nil, domain.WrapError(domain.ErrInvalidTransition, "transition",
			fmt.Errorf("%s -> %s", from, to))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	failReason := ""
	if to == domain.StatusFailed {
		failReason = reason
	}
	res, err := tx.ExecContext(ctx, `
UPDATE documents
SET status = $3, fail_reason = $4, updated_at = $5
WHERE id = $1 AND status = $2
`, id, string(from), string(to), failReason, now)
	if err != nil {
		return nil, fmt.Errorf("update document status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		return nil, r.classifyMiss(ctx, id, from)
	}

	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode transition meta: %w", err)
	}

	transition := &domain.StatusTransition{
		DocumentID: id,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Reason:     reason,
		Meta:       meta,
		CreatedAt:  now,
	}
	err = tx.QueryRowContext(ctx, `
INSERT INTO status_transitions (document_id, from_status, to_status, actor, reason, meta, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, id, string(from), string(to), actor, reason, metaJSON, now).Scan(&transition.ID)
	if err != nil {
		return nil, fmt.Errorf("insert transition: %w", err)
	}

	payload, err := json.Marshal(transition)
	if err != nil {
		return nil, fmt.Errorf("encode transition event: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, domain.EventStatusTransition, id, payload); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}
	return transition, nil
}

func (r *DocumentRepository) classifyMiss(ctx context.Context, id string, expected domain.DocumentStatus) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, "transition", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return fmt.Errorf("read current status: %w", err)
	}
	return domain.WrapError(domain.ErrStaleState, "transition",
		fmt.Errorf("expected %s, stored %s", expected, current))
}

func (r *DocumentRepository) History(ctx context.Context, id string) ([]domain.StatusTransition, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, document_id, from_status, to_status, actor, reason, meta, created_at
FROM status_transitions
WHERE document_id = $1
ORDER BY id ASC
`, id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StatusTransition, 0)
	for rows.Next() {
		var tr domain.StatusTransition
		var from, to string
		var metaRaw []byte
		if err := rows.Scan(&tr.ID, &tr.DocumentID, &from, &to, &tr.Actor, &tr.Reason, &metaRaw, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.FromStatus = domain.DocumentStatus(from)
		tr.ToStatus = domain.DocumentStatus(to)
		if err := json.Unmarshal(metaRaw, &tr.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal transition meta: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (r *DocumentRepository) List(ctx context.Context, filter domain.WorklistFilter, sort domain.WorklistSort, page domain.WorklistPage) ([]domain.Document, int, error) {
	where, args := buildWorklistWhere(filter)

	var total int
	countQuery := `SELECT COUNT(*) FROM documents` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	order := " ORDER BY created_at DESC"
	switch sort {
	case domain.SortCreatedAsc:
		order = " ORDER BY created_at ASC"
	case domain.SortUpdatedDesc:
		order = " ORDER BY updated_at DESC"
	}

	offset := (page.Number - 1) * page.PerPage
	query := `SELECT ` + documentColumns + ` FROM documents` + where + order +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, page.PerPage, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate documents: %w", err)
	}
	return out, total, nil
}

func (r *DocumentRepository) UpdateFingerprint(ctx context.Context, id, fingerprint string) error {
	return r.simpleUpdate(ctx, "update fingerprint", `
UPDATE documents SET fingerprint = $2, updated_at = $3 WHERE id = $1
`, id, fingerprint, time.Now().UTC())
}

func (r *DocumentRepository) SetPublishResult(ctx context.Context, id, provider, taskID, postRef string) error {
	return r.simpleUpdate(ctx, "set publish result", `
UPDATE documents SET provider = $2, last_task_id = $3, post_ref = $4, updated_at = $5 WHERE id = $1
`, id, provider, taskID, postRef, time.Now().UTC())
}

func (r *DocumentRepository) SetContentRef(ctx context.Context, id, contentRef, title string) error {
	return r.simpleUpdate(ctx, "set content ref", `
UPDATE documents SET content_ref = $2, title = $3, updated_at = $4 WHERE id = $1
`, id, contentRef, title, time.Now().UTC())
}

func (r *DocumentRepository) simpleUpdate(ctx context.Context, operation, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, operation, fmt.Errorf("id=%v", args[0]))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var source, status string
	var externalRef sql.NullString
	err := row.Scan(
		&doc.ID, &doc.Title, &source, &externalRef, &doc.Fingerprint, &doc.ContentRef,
		&status, &doc.Provider, &doc.LastTaskID, &doc.PostRef, &doc.FailReason,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Source = domain.DocumentSource(source)
	doc.Status = domain.DocumentStatus(status)
	doc.ExternalRef = externalRef.String
	return &doc, nil
}

func buildWorklistWhere(filter domain.WorklistFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Keyword != "" {
		args = append(args, "%"+filter.Keyword+"%")
		clauses = append(clauses, fmt.Sprintf("title ILIKE $%d", len(args)))
	}
	if !filter.DateFrom.IsZero() {
		args = append(args, filter.DateFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.DateTo.IsZero() {
		args = append(args, filter.DateTo)
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func appendChangeEvent(ctx context.Context, tx *sql.Tx, eventType domain.EventType, documentID string, payload []byte) error {
	if _, err := tx.ExecContext(ctx, `
INSERT INTO change_events (type, document_id, payload, created_at)
VALUES ($1,$2,$3,$4)
`, string(eventType), documentID, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("insert change event: %w", err)
	}
	return nil
}
