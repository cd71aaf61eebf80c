package models

import "time"

// OTA history entry status values. An entry is appended as initiated and
// closed exactly once as completed or failed.
const (
	OTAInitiated = "initiated"
	OTACompleted = "completed"
	OTAFailed    = "failed"
)

// InitiatorAuto marks history entries created by the auto-update policy;
// manual entries carry a user id label instead.
const InitiatorAuto = "auto"

// OTAHistoryEntry is one row of the append-only OTA log.
type OTAHistoryEntry struct {
	ID          string     `json:"id"`
	NodeID      int        `json:"node_id"`
	NodeName    string     `json:"node_name"`
	Version     string     `json:"version"`
	Status      string     `json:"status"` // initiated | completed | failed
	InitiatedBy string     `json:"initiated_by"`
	FileSize    int        `json:"file_size"`
	CreatedAt   time.Time  `json:"timestamp"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// GatewayStatus describes the serial link and the live OTA load.
type GatewayStatus struct {
	Connected      bool   `json:"connected"`
	Port           string `json:"port,omitempty"`
	ActiveSessions int    `json:"active_ota_sessions"`
	AutoOTAEnabled bool   `json:"auto_ota_enabled"`
}

// AutoOTAStatus describes the auto-update policy state.
type AutoOTAStatus struct {
	Enabled         bool              `json:"enabled"`
	CooldownSeconds int               `json:"cooldown"`
	ManifestVersion string            `json:"manifest_version,omitempty"`
	ManifestCached  bool              `json:"manifest_cached"`
	LastAutoUpdates map[string]string `json:"last_auto_updates"` // node id -> RFC3339
}
