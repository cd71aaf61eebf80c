package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"quakewatch/internal/logger"
	"quakewatch/internal/models"
)

const (
	// DefaultManifestTTL matches the cooldown window: a stale manifest is
	// refetched at most once per auto-update cycle.
	DefaultManifestTTL = 5 * time.Minute

	manifestFetchTimeout = 10 * time.Second
)

// ManifestService fetches the remote firmware manifest and caches it for a
// TTL. A failed fetch leaves a fresh miss, never a stale hit.
type ManifestService struct {
	url    string
	ttl    time.Duration
	client *http.Client
	log    *logger.Logger

	mu     sync.Mutex
	cached *models.Manifest
	now    func() time.Time
}

func NewManifestService(url string, ttl time.Duration, log *logger.Logger) *ManifestService {
	if ttl <= 0 {
		ttl = DefaultManifestTTL
	}
	return &ManifestService{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: manifestFetchTimeout},
		log:    log,
		now:    time.Now,
	}
}

// Lookup returns the firmware pointer for a role, fetching the manifest if
// the cache is stale. A fetch failure or an unlisted role reports absent.
func (s *ManifestService) Lookup(role string) (ManifestAsset, bool) {
	m, ok := s.Current()
	if !ok {
		return ManifestAsset{}, false
	}
	url, ok := m.Assets[role]
	if !ok || url == "" {
		s.log.Warnw("manifest_no_asset_for_role", "role", role, "version", m.Version)
		return ManifestAsset{}, false
	}
	return ManifestAsset{URL: url, SHA256: m.SHA256[role], Version: m.Version}, true
}

// Current returns the cached manifest, refetching if older than the TTL.
func (s *ManifestService) Current() (models.Manifest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.now().Sub(s.cached.FetchedAt) < s.ttl {
		return *s.cached, true
	}
	m, err := s.fetchLocked()
	if err != nil {
		s.log.Errorw("manifest_fetch_failed", "url", s.url, "err", err)
		return models.Manifest{}, false
	}
	return *m, true
}

// Refresh invalidates the cache regardless of age and fetches anew.
func (s *ManifestService) Refresh() (models.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cached = nil
	m, err := s.fetchLocked()
	if err != nil {
		return models.Manifest{}, err
	}
	return *m, nil
}

// fetchLocked performs the network fetch and replaces the cached value
// atomically: on failure the cache is cleared, not left stale.
func (s *ManifestService) fetchLocked() (*models.Manifest, error) {
	s.cached = nil

	resp, err := s.client.Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch manifest: unexpected status %s", resp.Status)
	}

	var m models.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.FetchedAt = s.now()
	s.cached = &m

	s.log.Infow("manifest_loaded", "version", m.Version, "roles", len(m.Assets))
	return &m, nil
}
