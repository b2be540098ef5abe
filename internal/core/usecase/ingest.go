package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/content-publisher/internal/core/domain"
	"github.com/kirillkom/content-publisher/internal/core/ports"
)

// BulkRow is one record of a bulk upload after format decoding.
type BulkRow struct {
	Title string
	Body  string
}

// BulkReader decodes one upload format (csv, ndjson, xlsx) into rows.
type BulkReader interface {
	ReadRows(r io.Reader) ([]BulkRow, error)
}

type IngestUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
	readers map[string]BulkReader
}

func NewIngestUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
	readers map[string]BulkReader,
) *IngestUseCase {
	return &IngestUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		readers: readers,
	}
}

// Upload stores the raw content, creates the document in importing (content
// is already in hand, so discovery is skipped) and queues it for parsing.
func (uc *IngestUseCase) Upload(
	ctx context.Context,
	filename, mimeType string,
	body io.Reader,
) (*domain.Document, error) {
	id := uuid.NewString()
	storageKey := fmt.Sprintf("raw/%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:         id,
		Title:      filename,
		Source:     domain.SourceManual,
		ContentRef: storageKey,
		Status:     domain.StatusImporting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := uc.queue.EnqueueImport(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("enqueue import: %w", err)
	}

	return doc, nil
}

// BulkImport decodes the upload with the reader registered for format and
// creates one document per row. A failing row is reported and skipped; it
// does not abort the rest of the batch.
func (uc *IngestUseCase) BulkImport(ctx context.Context, format string, body io.Reader) (*ports.BulkResult, error) {
	reader, ok := uc.readers[strings.ToLower(strings.TrimSpace(format))]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "bulk import", fmt.Errorf("unsupported format %q", format))
	}

	rows, err := reader.ReadRows(body)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "bulk import", err)
	}

	result := &ports.BulkResult{Created: []string{}}
	for i, row := range rows {
		id, err := uc.ingestRow(ctx, row)
		if err != nil {
			result.Failures = append(result.Failures, ports.RowError{Row: i + 1, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, id)
	}
	return result, nil
}

func (uc *IngestUseCase) ingestRow(ctx context.Context, row BulkRow) (string, error) {
	if strings.TrimSpace(row.Body) == "" {
		return "", fmt.Errorf("empty body")
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("raw/%s_%s", id, sanitizeFilename(row.Title))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, strings.NewReader(row.Body)); err != nil {
		return "", fmt.Errorf("save row content: %w", err)
	}

	doc := &domain.Document{
		ID:         id,
		Title:      row.Title,
		Source:     domain.SourceBulkImport,
		ContentRef: storageKey,
		Status:     domain.StatusImporting,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := uc.repo.Create(ctx, doc); err != nil {
		return "", fmt.Errorf("create document: %w", err)
	}
	if err := uc.queue.EnqueueImport(ctx, id); err != nil {
		return "", fmt.Errorf("enqueue import: %w", err)
	}
	return id, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
