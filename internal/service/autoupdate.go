package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/logger"
	"quakewatch/internal/models"
)

// DefaultCooldown is the minimum gap between auto-triggers for one node.
const DefaultCooldown = 5 * time.Minute

// AutoUpdateService decides, on each version-check report, whether to launch
// an update. The cooldown timestamp is written the moment the policy commits
// to acting, before the download begins, so repeatedly failing downloads
// cannot turn into retry storms.
type AutoUpdateService struct {
	manifest *ManifestService
	fleet    *FleetService
	ota      *OTAService
	hub      *events.Hub
	log      *logger.Logger

	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	enabled   bool
	cooldowns map[int]time.Time

	workers sync.WaitGroup
}

func NewAutoUpdateService(manifest *ManifestService, fleet *FleetService, ota *OTAService,
	hub *events.Hub, log *logger.Logger, window time.Duration, enabled bool) *AutoUpdateService {

	if window <= 0 {
		window = DefaultCooldown
	}
	return &AutoUpdateService{
		manifest:  manifest,
		fleet:     fleet,
		ota:       ota,
		hub:       hub,
		log:       log,
		window:    window,
		now:       time.Now,
		enabled:   enabled,
		cooldowns: make(map[int]time.Time),
	}
}

func (s *AutoUpdateService) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Toggle flips the policy on or off and returns the new state.
func (s *AutoUpdateService) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = !s.enabled
	return s.enabled
}

// Status reports the policy configuration and per-node cooldown stamps.
func (s *AutoUpdateService) Status() models.AutoOTAStatus {
	manifestVersion := ""
	manifestCached := false
	if m, ok := s.manifest.Current(); ok {
		manifestVersion = m.Version
		manifestCached = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	last := make(map[string]string, len(s.cooldowns))
	for id, t := range s.cooldowns {
		last[strconv.Itoa(id)] = t.UTC().Format(time.RFC3339)
	}
	return models.AutoOTAStatus{
		Enabled:         s.enabled,
		CooldownSeconds: int(s.window.Seconds()),
		ManifestVersion: manifestVersion,
		ManifestCached:  manifestCached,
		LastAutoUpdates: last,
	}
}

// HandleCheck is the policy entry point for ota_check_forward reports.
// Order: enabled gate, cooldown gate, manifest lookup, version comparison,
// then commit (node upsert + cooldown stamp + background worker). A failed
// manifest lookup still stamps the cooldown so the node backs off; an
// already-current node does not, staying eligible the moment the manifest
// moves ahead.
func (s *AutoUpdateService) HandleCheck(nodeID int, role, fwVersion string) {
	if !s.Enabled() {
		return
	}
	if s.inCooldown(nodeID) {
		s.log.Debugw("auto_ota_cooldown_active", "node", nodeID)
		return
	}

	asset, ok := s.manifest.Lookup(role)
	if !ok {
		s.touchCooldown(nodeID)
		return
	}
	if !IsNewer(fwVersion, asset.Version) {
		s.log.Debugw("auto_ota_node_current", "node", nodeID, "fw", fwVersion)
		return
	}

	node := s.fleet.EnsureNode(nodeID, role, fwVersion)
	s.touchCooldown(nodeID)

	s.log.Infow("auto_ota_update_required", "node", nodeID, "role", role,
		"from", fwVersion, "to", asset.Version)
	s.hub.Publish(events.AutoOTAStarted, autoOTAStarted{
		NodeID:   nodeID,
		NodeName: node.Name,
		Version:  asset.Version,
	})

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		s.runWorker(nodeID, asset)
	}()
}

// runWorker downloads, verifies and hands the artifact to the same trigger
// path as a manual OTA. Failures are published and otherwise swallowed; the
// next check after cooldown expiry is the only retry.
func (s *AutoUpdateService) runWorker(nodeID int, asset ManifestAsset) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*downloadTimeout)
	defer cancel()

	firmware, err := fetchFirmware(ctx, asset.URL, asset.SHA256)
	if err != nil {
		s.log.Errorw("auto_ota_fetch_failed", "node", nodeID, "url", asset.URL, "err", err)
		s.hub.Publish(events.AutoOTAFailed, otaFailure{NodeID: nodeID, Error: err.Error()})
		return
	}

	_, err = s.ota.Trigger(ctx, TriggerParams{
		NodeID:      nodeID,
		Version:     asset.Version,
		Firmware:    firmware,
		Auto:        true,
		InitiatedBy: models.InitiatorAuto,
	})
	if err != nil {
		if errors.Is(err, ErrSessionActive) {
			s.log.Warnw("auto_ota_session_busy", "node", nodeID)
		} else {
			s.log.Errorw("auto_ota_trigger_failed", "node", nodeID, "err", err)
		}
		s.hub.Publish(events.AutoOTAFailed, otaFailure{NodeID: nodeID, Error: err.Error()})
	}
}

func (s *AutoUpdateService) inCooldown(nodeID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.cooldowns[nodeID]
	return ok && s.now().Sub(last) < s.window
}

func (s *AutoUpdateService) touchCooldown(nodeID int) {
	s.mu.Lock()
	s.cooldowns[nodeID] = s.now()
	s.mu.Unlock()
}

type autoOTAStarted struct {
	NodeID   int    `json:"node_id"`
	NodeName string `json:"node_name"`
	Version  string `json:"version"`
}
