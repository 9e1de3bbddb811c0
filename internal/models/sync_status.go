package models

import "time"

// SyncAction identifies the local mutation that must propagate remotely.
type SyncAction string

const (
	ActionCreate   SyncAction = "create"
	ActionUpdate   SyncAction = "update"
	ActionComplete SyncAction = "complete"
)

// SyncStatus is the ephemeral sync state exposed to observers. It is owned
// exclusively by the scheduler; observers receive value snapshots.
type SyncStatus struct {
	HasPendingChanges bool       `json:"has_pending_changes"`
	FailureCount      int        `json:"failure_count"`
	IsOnline          bool       `json:"is_online"`
	Degraded          bool       `json:"degraded"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
}
