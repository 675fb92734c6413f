package sync

import "time"

// Status is the orchestrator's current synchronization phase.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// State is the process-local sync snapshot. It is never persisted; the UI
// reads it to render availability banners.
type State struct {
	CloudEnabled bool      `json:"cloud_enabled"`
	SyncStatus   Status    `json:"sync_status"`
	LastSyncTime time.Time `json:"last_sync_time,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
}
