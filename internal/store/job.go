// Package store persists job records. A job is one unit of resumable work
// producing a single long generated document from one source document; the
// record is the single source of truth shared across worker invocations.
package store

import "time"

// Status is the job state machine position.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further invocations may mutate the job.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// SourceRef identifies where the source document lives: either a directly
// fetchable URL, or a (file-id, access-token) pair for a third-party file
// host. Immutable once set on a job.
type SourceRef struct {
	URL         string `json:"source_url,omitempty"`
	FileID      string `json:"source_file_id,omitempty"`
	AccessToken string `json:"source_access_token,omitempty"`
}

// Empty reports whether the reference identifies nothing.
func (r SourceRef) Empty() bool {
	return r.URL == "" && r.FileID == ""
}

// Job is the persisted record for one generation job.
type Job struct {
	ID     string
	Status Status
	Source SourceRef
	Model  string

	// CachedSourceText is populated once by extraction and never
	// recomputed while non-empty.
	CachedSourceText string

	// AccumulatedOutput only ever grows by appending.
	AccumulatedOutput string

	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Update is an atomic partial update of a job record. Nil fields are left
// untouched; every applied update refreshes UpdatedAt.
type Update struct {
	Status            *Status
	Source            *SourceRef
	CachedSourceText  *string
	AccumulatedOutput *string
	ErrorMessage      *string
}

// UpdateStatus is a convenience constructor for a status-only update.
func UpdateStatus(s Status) Update {
	return Update{Status: &s}
}
