package models

import "time"

// ServerEvent is a single entry of the server audit log.
type ServerEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // AUTH | NODE | OTA | AUTO_OTA | GATEWAY
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}
