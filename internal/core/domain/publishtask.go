package domain

import "time"

type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

func (s TaskStatus) Active() bool {
	return s == TaskQueued || s == TaskRunning
}

// PublishTask records a single dispatch of a document to a provider chain.
// At most one task per document may be queued or running at a time.
type PublishTask struct {
	ID          string     `json:"id"`
	DocumentID  string     `json:"document_id"`
	Provider    string     `json:"provider"`
	Status      TaskStatus `json:"status"`
	Attempt     int        `json:"attempt"`
	Steps       []TaskStep `json:"steps,omitempty"`
	PostRef     string     `json:"post_ref,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	DurationMs  int64      `json:"duration_ms,omitempty"`
}

// TaskStep is one recorded step of a provider interaction, persisted as it
// arrives so observers see progress before the task completes.
type TaskStep struct {
	TaskID     string    `json:"task_id"`
	Seq        int       `json:"seq"`
	Name       string    `json:"name"`
	Message    string    `json:"message,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"`
	At         time.Time `json:"at"`
}
