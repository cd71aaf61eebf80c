package models

import "time"

// Node status values.
const (
	StatusOffline  = "offline"
	StatusOnline   = "online"
	StatusUpdating = "updating"
)

// DefaultNodeType is assumed for nodes the mesh reports without a type.
const DefaultNodeType = "ESP32-C3"

// Node is one remote sensor device behind the gateway.
type Node struct {
	ID              int        `json:"id"` // stable id assigned by the mesh
	Name            string     `json:"name"`
	Token           string     `json:"token,omitempty"`
	Role            string     `json:"role,omitempty"`
	Type            string     `json:"type"`
	FirmwareVersion string     `json:"version"`
	Status          string     `json:"status"` // offline | online | updating
	LastSeen        *time.Time `json:"lastSeen,omitempty"`
	SignalStrength  int        `json:"rssi"`
	Temperature     float64    `json:"temperature"`
}

// FleetStats is the aggregate snapshot served by /api/v1/stats.
type FleetStats struct {
	TotalNodes        int    `json:"total_nodes"`
	OnlineNodes       int    `json:"online_nodes"`
	OutdatedNodes     int    `json:"outdated_nodes"`
	UpdatingNodes     int    `json:"updating_nodes"`
	LatestVersion     string `json:"latest_version"`
	GatewayConnected  bool   `json:"gateway_connected"`
	ActiveOTASessions int    `json:"active_ota_sessions"`
	AutoOTAEnabled    bool   `json:"auto_ota_enabled"`
}
