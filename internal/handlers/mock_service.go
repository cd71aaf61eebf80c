package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/models"
	"quakewatch/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID      int
	signUpErr     error
	genTokenToken string
	genTokenErr   error
	parseID       int
	parseErr      error

	lastSignUpUsername string
	lastSignUpPassword string
	lastGenUsername    string
	lastGenPassword    string
	lastParseToken     string
}

func (m *mockAuth) SignUp(username, password string) (int, error) {
	m.lastSignUpUsername = username
	m.lastSignUpPassword = password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) GenerateToken(username, password string) (string, error) {
	m.lastGenUsername = username
	m.lastGenPassword = password
	return m.genTokenToken, m.genTokenErr
}
func (m *mockAuth) ParseToken(token string) (int, error) {
	m.lastParseToken = token
	return m.parseID, m.parseErr
}

type mockFleet struct {
	nodes      map[int]models.Node
	registered []models.Node
}

func (m *mockFleet) List() []models.Node {
	out := make([]models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
func (m *mockFleet) Get(id int) (models.Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}
func (m *mockFleet) Register(name, token, nodeType string) models.Node {
	n := models.Node{ID: len(m.registered) + 1, Name: name, Token: token, Type: nodeType, Status: models.StatusOffline}
	m.registered = append(m.registered, n)
	return n
}
func (m *mockFleet) Counts(latestVersion string) (total, online, updating, outdated int) {
	return len(m.nodes), 0, 0, 0
}

type mockOTA struct {
	triggerID  string
	triggerErr error
	history    []models.OTAHistoryEntry
	historyErr error

	lastTrigger    service.TriggerParams
	lastURLTrigger service.URLTriggerParams
	triggerCalls   int
}

func (m *mockOTA) Trigger(ctx context.Context, p service.TriggerParams) (string, error) {
	m.triggerCalls++
	m.lastTrigger = p
	return m.triggerID, m.triggerErr
}
func (m *mockOTA) TriggerFromURL(ctx context.Context, p service.URLTriggerParams) (string, error) {
	m.triggerCalls++
	m.lastURLTrigger = p
	return m.triggerID, m.triggerErr
}
func (m *mockOTA) History(ctx context.Context) ([]models.OTAHistoryEntry, error) {
	return m.history, m.historyErr
}
func (m *mockOTA) ActiveSessions() int                               { return 0 }
func (m *mockOTA) RunReaper(ctx context.Context, tick time.Duration) {}

type mockAutoUpdate struct {
	enabled bool
	status  models.AutoOTAStatus
}

func (m *mockAutoUpdate) Enabled() bool { return m.enabled }
func (m *mockAutoUpdate) Toggle() bool {
	m.enabled = !m.enabled
	return m.enabled
}
func (m *mockAutoUpdate) Status() models.AutoOTAStatus { return m.status }

type mockManifest struct {
	manifest models.Manifest
	cached   bool
	err      error
}

func (m *mockManifest) Lookup(role string) (service.ManifestAsset, bool) {
	if !m.cached {
		return service.ManifestAsset{}, false
	}
	return service.ManifestAsset{URL: m.manifest.Assets[role], Version: m.manifest.Version}, true
}
func (m *mockManifest) Current() (models.Manifest, bool) { return m.manifest, m.cached }
func (m *mockManifest) Refresh() (models.Manifest, error) {
	if m.err != nil {
		return models.Manifest{}, m.err
	}
	m.cached = true
	return m.manifest, nil
}

type mockGateway struct {
	status     models.GatewayStatus
	connectErr error

	lastPort string
	lastBaud int
}

func (m *mockGateway) Connect(port string, baud int) error {
	m.lastPort = port
	m.lastBaud = baud
	if m.connectErr != nil {
		return m.connectErr
	}
	m.status.Connected = true
	m.status.Port = port
	return nil
}
func (m *mockGateway) Disconnect() error {
	m.status.Connected = false
	m.status.Port = ""
	return nil
}
func (m *mockGateway) Status() models.GatewayStatus { return m.status }

type mockEventLog struct {
	resp     []models.ServerEvent
	err      error
	lastFrom time.Time
	lastTo   time.Time
	lastType string
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.ServerEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, events.NewHub(), nil, "")
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
