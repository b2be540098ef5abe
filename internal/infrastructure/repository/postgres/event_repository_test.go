package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/content-publisher/internal/core/domain"
)

func TestListSinceReturnsEventsPastCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewEventRepository(db)

	mock.ExpectQuery("SELECT seq, type, document_id, payload, created_at").
		WithArgs(int64(10), 100).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "type", "document_id", "payload", "created_at"}).
			AddRow(int64(11), string(domain.EventStatusTransition), "doc-1", []byte(`{}`), sampleTime(t)).
			AddRow(int64(12), string(domain.EventPublishStep), "doc-1", []byte(`{}`), sampleTime(t)))

	events, err := repo.ListSince(context.Background(), 10, 100)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Seq != 11 || events[1].Seq != 12 {
		t.Fatalf("events out of order: %d, %d", events[0].Seq, events[1].Seq)
	}
	if events[0].Type != domain.EventStatusTransition {
		t.Fatalf("unexpected type %s", events[0].Type)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListSinceEmptyResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewEventRepository(db)

	mock.ExpectQuery("SELECT seq, type, document_id, payload, created_at").
		WithArgs(int64(99), 50).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "type", "document_id", "payload", "created_at"}))

	events, err := repo.ListSince(context.Background(), 99, 50)
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
