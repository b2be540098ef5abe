package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

const uniqueViolation = "23505"

// PublishTaskRepository owns publish task rows and their ordered step
// sub-structure. The partial unique index on active tasks turns a concurrent
// dispatch into a conflict at insert time, across processes.
type PublishTaskRepository struct {
	db *sql.DB
}

func NewPublishTaskRepository(db *sql.DB) *PublishTaskRepository {
	return &PublishTaskRepository{db: db}
}

func (r *PublishTaskRepository) CreateActive(ctx context.Context, task *domain.PublishTask) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO publish_tasks (id, document_id, provider, status, attempt, started_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, task.ID, task.DocumentID, task.Provider, string(task.Status), task.Attempt, task.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.WrapError(domain.ErrConflict, "create publish task",
				fmt.Errorf("document %s already has an active task", task.DocumentID))
		}
		return fmt.Errorf("insert publish task: %w", err)
	}
	return nil
}

func (r *PublishTaskRepository) MarkRunning(ctx context.Context, taskID, provider string, attempt int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE publish_tasks
SET status = $2, provider = $3, attempt = $4
WHERE id = $1 AND status IN ($5, $6)
`, taskID, string(domain.TaskRunning), provider, attempt, string(domain.TaskQueued), string(domain.TaskRunning))
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark running rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "mark task running", fmt.Errorf("id=%s", taskID))
	}
	return nil
}

// AppendStep persists one provider step and its change event as the step
// arrives, giving observers live progress before the task completes.
func (r *PublishTaskRepository) AppendStep(ctx context.Context, documentID string, step domain.TaskStep) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin step tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0) + 1 FROM publish_steps WHERE task_id = $1
`, step.TaskID).Scan(&step.Seq)
	if err != nil {
		return fmt.Errorf("next step seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO publish_steps (task_id, seq, name, message, screenshot, at)
VALUES ($1,$2,$3,$4,$5,$6)
`, step.TaskID, step.Seq, step.Name, step.Message, step.Screenshot, step.At); err != nil {
		return fmt.Errorf("insert step: %w", err)
	}

	payload, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("encode step event: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, domain.EventPublishStep, documentID, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit step tx: %w", err)
	}
	return nil
}

func (r *PublishTaskRepository) Close(ctx context.Context, taskID string, status domain.TaskStatus, errDetail, postRef string) error {
	if status.Active() {
		return domain.WrapError(domain.ErrInvalidInput, "close task",
			fmt.Errorf("%s is not a terminal task status", status))
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin close tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	var documentID string
	err = tx.QueryRowContext(ctx, `
UPDATE publish_tasks
SET status = $2, error_detail = $3, post_ref = $4, finished_at = $5,
    duration_ms = (EXTRACT(EPOCH FROM ($5 - started_at)) * 1000)::bigint
WHERE id = $1 AND status IN ($6, $7)
RETURNING document_id
`, taskID, string(status), errDetail, postRef, now, string(domain.TaskQueued), string(domain.TaskRunning)).Scan(&documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrNotFound, "close task", fmt.Errorf("no active task id=%s", taskID))
	}
	if err != nil {
		return fmt.Errorf("close task: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"task_id": taskID,
		"status":  string(status),
	})
	if err != nil {
		return fmt.Errorf("encode close event: %w", err)
	}
	if err := appendChangeEvent(ctx, tx, domain.EventTaskClosed, documentID, payload); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit close tx: %w", err)
	}
	return nil
}

const taskColumns = `id, document_id, provider, status, attempt, post_ref, error_detail, started_at, finished_at, duration_ms`

func (r *PublishTaskRepository) GetByID(ctx context.Context, taskID string) (*domain.PublishTask, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+taskColumns+` FROM publish_tasks WHERE id = $1
`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get task", fmt.Errorf("id=%s", taskID))
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := r.loadSteps(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (r *PublishTaskRepository) LatestForDocument(ctx context.Context, documentID string) (*domain.PublishTask, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+taskColumns+`
FROM publish_tasks
WHERE document_id = $1
ORDER BY started_at DESC
LIMIT 1
`, documentID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "latest task", fmt.Errorf("document=%s", documentID))
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	if err := r.loadSteps(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (r *PublishTaskRepository) loadSteps(ctx context.Context, task *domain.PublishTask) error {
	rows, err := r.db.QueryContext(ctx, `
SELECT task_id, seq, name, message, screenshot, at
FROM publish_steps
WHERE task_id = $1
ORDER BY seq ASC
`, task.ID)
	if err != nil {
		return fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step domain.TaskStep
		if err := rows.Scan(&step.TaskID, &step.Seq, &step.Name, &step.Message, &step.Screenshot, &step.At); err != nil {
			return fmt.Errorf("scan step: %w", err)
		}
		task.Steps = append(task.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate steps: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*domain.PublishTask, error) {
	var task domain.PublishTask
	var status string
	var finishedAt sql.NullTime
	err := row.Scan(
		&task.ID, &task.DocumentID, &task.Provider, &status, &task.Attempt,
		&task.PostRef, &task.ErrorDetail, &task.StartedAt, &finishedAt, &task.DurationMs,
	)
	if err != nil {
		return nil, err
	}
	task.Status = domain.TaskStatus(status)
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}
	return &task, nil
}
