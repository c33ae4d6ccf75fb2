package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus enumerates the lifecycle states an import job can be in.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobUploading JobStatus = "uploading"
	JobParsing   JobStatus = "parsing"
	JobImporting JobStatus = "importing"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status permits no further mutation.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Rank orders statuses for regression checks. done and failed share the top
// rank; a job reaches exactly one of them.
func (s JobStatus) Rank() int {
	switch s {
	case JobQueued:
		return 0
	case JobUploading:
		return 1
	case JobParsing:
		return 2
	case JobImporting:
		return 3
	case JobDone, JobFailed:
		return 4
	}
	return -1
}

// JobKind enumerates the types of background jobs tracked in import_jobs.
type JobKind string

const (
	KindIngest     JobKind = "ingest"
	KindBulkDelete JobKind = "bulk_delete"
)

// Job tracks metadata and progress for one ingest or bulk-delete request.
type Job struct {
	ID            uuid.UUID `json:"id"`
	Filename      string    `json:"filename"`
	Kind          JobKind   `json:"kind"`
	Status        JobStatus `json:"status"`
	TotalRows     *int64    `json:"total_rows"`
	ProcessedRows int64     `json:"processed_rows"`
	ErrorMessage  *string   `json:"error_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
