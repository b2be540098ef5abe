package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the tables on startup. Bootstrap DDL is serialized
// across api/worker startups with an advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	source TEXT NOT NULL,
	external_ref TEXT,
	fingerprint TEXT NOT NULL DEFAULT '',
	content_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	provider TEXT NOT NULL DEFAULT '',
	last_task_id TEXT NOT NULL DEFAULT '',
	post_ref TEXT NOT NULL DEFAULT '',
	fail_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_external_ref ON documents(external_ref) WHERE external_ref IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);

CREATE TABLE IF NOT EXISTS status_transitions (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	meta JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transitions_document ON status_transitions(document_id, id);

CREATE TABLE IF NOT EXISTS publish_tasks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	provider TEXT NOT NULL,
	status TEXT NOT NULL,
	attempt INT NOT NULL DEFAULT 0,
	post_ref TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_publish_tasks_active ON publish_tasks(document_id) WHERE status IN ('queued','running');
CREATE INDEX IF NOT EXISTS idx_publish_tasks_document ON publish_tasks(document_id, started_at DESC);

CREATE TABLE IF NOT EXISTS publish_steps (
	task_id TEXT NOT NULL REFERENCES publish_tasks(id),
	seq INT NOT NULL,
	name TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	screenshot TEXT NOT NULL DEFAULT '',
	at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (task_id, seq)
);

CREATE TABLE IF NOT EXISTS change_events (
	seq BIGSERIAL PRIMARY KEY,
	type TEXT NOT NULL,
	document_id TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}
