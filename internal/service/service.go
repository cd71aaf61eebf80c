package service

import (
	"context"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/logger"
	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

type Authorization interface {
	SignUp(username, password string) (int, error)
	GenerateToken(username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Fleet exposes the in-memory node registry.
type Fleet interface {
	List() []models.Node
	Get(id int) (models.Node, bool)
	Register(name, token, nodeType string) models.Node
	Counts(latestVersion string) (total, online, updating, outdated int)
}

// TriggerParams starts a manual OTA from firmware bytes already on hand.
type TriggerParams struct {
	NodeID      int
	Version     string
	Firmware    []byte
	Auto        bool
	InitiatedBy string
}

// URLTriggerParams starts a manual OTA from a remote artifact, with an
// optional sha256 gate (hex, case-insensitive).
type URLTriggerParams struct {
	NodeID      int
	Version     string
	URL         string
	SHA256      string
	InitiatedBy string
}

// OTA drives chunked firmware transfers, one live session per node.
type OTA interface {
	Trigger(ctx context.Context, p TriggerParams) (string, error)
	TriggerFromURL(ctx context.Context, p URLTriggerParams) (string, error)
	History(ctx context.Context) ([]models.OTAHistoryEntry, error)
	ActiveSessions() int
	RunReaper(ctx context.Context, tick time.Duration)
}

// AutoUpdate is the policy deciding when version-check reports turn into
// update sessions.
type AutoUpdate interface {
	Enabled() bool
	Toggle() bool
	Status() models.AutoOTAStatus
}

// ManifestAsset is one role's firmware pointer from the remote manifest.
type ManifestAsset struct {
	URL     string
	SHA256  string
	Version string
}

// ManifestSource serves the TTL-cached remote firmware manifest.
type ManifestSource interface {
	Lookup(role string) (ManifestAsset, bool)
	Current() (models.Manifest, bool)
	Refresh() (models.Manifest, error)
}

// Gateway owns the serial link lifecycle and routes its inbound frames.
type Gateway interface {
	Connect(port string, baud int) error
	Disconnect() error
	Status() models.GatewayStatus
}

// EventLog exposes the append-only server audit log with filtering access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.ServerEvent, error)
}

// Config carries the tunables the services need from configuration.
type Config struct {
	ManifestURL string
	ManifestTTL time.Duration
	ChunkSize   int
	Cooldown    time.Duration
	SessionTTL  time.Duration
	AutoEnabled bool
	SigningKey  string
}

// Service aggregates all sub-services.
type Service struct {
	Auth       Authorization
	Fleet      Fleet
	OTA        OTA
	AutoUpdate AutoUpdate
	Manifest   ManifestSource
	Gateway    Gateway
	EventLog   EventLog
}

// NewService wires the repository layer, the event hub and the gateway
// transport into concrete services.
func NewService(repos *repository.Repository, hub *events.Hub, log *logger.Logger, cfg Config) *Service {
	gw := NewGatewayService(hub, repos.Events, log)
	fleet := NewFleetService(hub, log)
	manifest := NewManifestService(cfg.ManifestURL, cfg.ManifestTTL, log)
	ota := NewOTAService(gw, fleet, repos.History, repos.Events, hub, log, cfg.ChunkSize, cfg.SessionTTL)
	auto := NewAutoUpdateService(manifest, fleet, ota, hub, log, cfg.Cooldown, cfg.AutoEnabled)
	gw.bind(fleet, ota, auto)

	return &Service{
		Auth:       NewAuthService(repos.Auth, cfg.SigningKey),
		Fleet:      fleet,
		OTA:        ota,
		AutoUpdate: auto,
		Manifest:   manifest,
		Gateway:    gw,
		EventLog:   NewEventLogService(repos.Events),
	}
}
