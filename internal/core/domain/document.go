package domain

import "time"

type DocumentStatus string

const (
	StatusDiscovered     DocumentStatus = "discovered"
	StatusImporting      DocumentStatus = "importing"
	StatusParsed         DocumentStatus = "parsed"
	StatusProofreading   DocumentStatus = "proofreading"
	StatusReview         DocumentStatus = "review"
	StatusReadyToPublish DocumentStatus = "ready_to_publish"
	StatusPublishing     DocumentStatus = "publishing"
	StatusPublished      DocumentStatus = "published"
	StatusFailed         DocumentStatus = "failed"
	StatusRetired        DocumentStatus = "retired"
)

type DocumentSource string

const (
	SourceManual      DocumentSource = "manual"
	SourceBulkImport  DocumentSource = "bulk-import"
	SourceFolderWatch DocumentSource = "folder-watch"
)

// Document is a unit of content moving through import, review and publish.
// ExternalRef links a folder-watch document to the external item it was
// discovered from; it is unique among non-retired documents and drives dedup.
type Document struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Source      DocumentSource `json:"source"`
	ExternalRef string         `json:"external_ref,omitempty"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	ContentRef  string         `json:"content_ref,omitempty"`
	Status      DocumentStatus `json:"status"`
	Provider    string         `json:"provider,omitempty"`
	LastTaskID  string         `json:"last_task_id,omitempty"`
	PostRef     string         `json:"post_ref,omitempty"`
	FailReason  string         `json:"fail_reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ParsedContent is the structured result produced by the parser collaborator.
type ParsedContent struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

// WorklistFilter narrows worklist queries. Zero values mean "no constraint".
type WorklistFilter struct {
	Status   DocumentStatus
	Keyword  string
	DateFrom time.Time
	DateTo   time.Time
}

type WorklistSort string

const (
	SortCreatedDesc WorklistSort = "created_desc"
	SortCreatedAsc  WorklistSort = "created_asc"
	SortUpdatedDesc WorklistSort = "updated_desc"
)

type WorklistPage struct {
	Number  int
	PerPage int
}

func (p WorklistPage) Normalize() WorklistPage {
	out := p
	if out.Number < 1 {
		out.Number = 1
	}
	if out.PerPage < 1 || out.PerPage > 200 {
		out.PerPage = 50
	}
	return out
}
