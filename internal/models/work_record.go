// Package models provides data model definitions for the FieldSync engine.
package models

import "time"

// WorkStatus represents the progression state of a work record.
type WorkStatus string

const (
	StatusCreated     WorkStatus = "created"
	StatusInProgress  WorkStatus = "in_progress"
	StatusPhotosTaken WorkStatus = "photos_taken"
	StatusSigned      WorkStatus = "signed"
	StatusCompleted   WorkStatus = "completed"
)

// WorkRecord represents one unit of billable field work (a job) together
// with its photographic evidence. The ID is immutable once assigned and
// globally unique; the engine persists whatever status the caller supplies
// and does not enforce transition rules.
type WorkRecord struct {
	ID           string      `json:"id"`
	ClientName   string      `json:"client_name"`
	ServiceType  string      `json:"service_type"`
	Status       WorkStatus  `json:"status"`
	Media        []MediaItem `json:"media,omitempty"`
	SignatureRef string      `json:"signature_ref,omitempty"`
	CreatedAt    int64       `json:"created_at"`
	CompletedAt  *int64      `json:"completed_at,omitempty"`
}

// CreatedAtTime returns CreatedAt as time.Time.
func (r *WorkRecord) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// Clone returns a deep copy of the record, including its media items.
// Queue snapshots must not alias the caller's slice.
func (r *WorkRecord) Clone() *WorkRecord {
	out := *r
	if r.Media != nil {
		out.Media = make([]MediaItem, len(r.Media))
		copy(out.Media, r.Media)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
