package models

import "fmt"

// MediaPhase tags a photo by the capture phase of the job.
type MediaPhase string

const (
	PhaseBefore MediaPhase = "before"
	PhaseDuring MediaPhase = "during"
	PhaseAfter  MediaPhase = "after"
)

// MediaItem represents one photo attached to a work record.
type MediaItem struct {
	ID         string     `json:"id"`
	LocalRef   string     `json:"local_ref"`
	Phase      MediaPhase `json:"phase"`
	CapturedAt int64      `json:"captured_at"`
}

// RemotePath returns the deterministic remote object path for this item.
// Re-deriving the same path for the same (userID, workRecordID, ID) triple
// makes re-upload after a partial failure safe to retry.
func (m *MediaItem) RemotePath(userID, workRecordID string) string {
	return fmt.Sprintf("users/%s/photos/%s/%s.jpg", userID, workRecordID, m.ID)
}
