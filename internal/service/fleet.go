package service

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/logger"
	"quakewatch/internal/models"
)

// FleetService owns the node registry. All mutation goes through its mutex;
// nodes are created on first sighting and never deleted.
type FleetService struct {
	hub *events.Hub
	log *logger.Logger

	mu    sync.Mutex
	nodes map[int]models.Node
}

func NewFleetService(hub *events.Hub, log *logger.Logger) *FleetService {
	return &FleetService{
		hub:   hub,
		log:   log,
		nodes: make(map[int]models.Node),
	}
}

// List returns a snapshot of every known node, ordered by id.
func (s *FleetService) List() []models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *FleetService) Get(id int) (models.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

// Register adds a node by hand, before the mesh has ever reported it. The id
// is a millisecond timestamp, mirroring how the web UI registers nodes.
func (s *FleetService) Register(name, token, nodeType string) models.Node {
	if nodeType == "" {
		nodeType = models.DefaultNodeType
	}
	n := models.Node{
		ID:              int(time.Now().UnixMilli()),
		Name:            name,
		Token:           token,
		Type:            nodeType,
		FirmwareVersion: "pending",
		Status:          models.StatusOffline,
	}

	s.mu.Lock()
	s.nodes[n.ID] = n
	s.mu.Unlock()

	s.hub.Publish(events.NodeAdded, n)
	return n
}

// UpsertSeen creates or merges a node record from a mesh_status sighting and
// stamps lastSeen. Returns the stored node and whether it was created.
func (s *FleetService) UpsertSeen(id int, name, token, fwVersion string, rssi int, online bool) (models.Node, bool) {
	now := time.Now().UTC()
	status := models.StatusOffline
	if online {
		status = models.StatusOnline
	}

	s.mu.Lock()
	n, exists := s.nodes[id]
	if !exists {
		n = models.Node{
			ID:   id,
			Name: name,
			Type: models.DefaultNodeType,
		}
		if n.Name == "" {
			n.Name = defaultNodeName(id)
		}
	}
	if token != "" {
		n.Token = token
	}
	if fwVersion != "" {
		n.FirmwareVersion = fwVersion
	}
	n.Status = status
	n.SignalStrength = rssi
	n.LastSeen = &now
	s.nodes[id] = n
	s.mu.Unlock()

	if !exists {
		s.hub.Publish(events.NodeAdded, n)
	}
	return n, !exists
}

// EnsureNode creates the node if it is unseen, with documented defaults: the
// generated name, the default type, the reported role and firmware, status
// online. An existing node only gets its role refreshed.
func (s *FleetService) EnsureNode(id int, role, fwVersion string) models.Node {
	now := time.Now().UTC()

	s.mu.Lock()
	n, exists := s.nodes[id]
	if !exists {
		n = models.Node{
			ID:              id,
			Name:            defaultNodeName(id),
			Role:            role,
			Type:            models.DefaultNodeType,
			FirmwareVersion: fwVersion,
			Status:          models.StatusOnline,
		}
	} else if role != "" {
		n.Role = role
	}
	n.LastSeen = &now
	s.nodes[id] = n
	s.mu.Unlock()

	if !exists {
		s.hub.Publish(events.NodeAdded, n)
	}
	return n
}

// UpsertStatus sets the node's status, creating the record with defaults if
// the id is unknown, and publishes the status change.
func (s *FleetService) UpsertStatus(id int, status string) {
	s.mu.Lock()
	n, exists := s.nodes[id]
	if !exists {
		n = models.Node{
			ID:              id,
			Name:            defaultNodeName(id),
			Type:            models.DefaultNodeType,
			FirmwareVersion: "unknown",
		}
	}
	n.Status = status
	if status != models.StatusOffline {
		now := time.Now().UTC()
		n.LastSeen = &now
	}
	s.nodes[id] = n
	s.mu.Unlock()

	if !exists {
		s.hub.Publish(events.NodeAdded, n)
	}
	s.hub.Publish(events.NodeStatusChange, statusChange{NodeID: id, Status: status})
}

// SetFirmware records a completed update: new version plus resulting status.
func (s *FleetService) SetFirmware(id int, version, status string) bool {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if ok {
		n.FirmwareVersion = version
		n.Status = status
		s.nodes[id] = n
	}
	s.mu.Unlock()

	if ok {
		s.hub.Publish(events.NodeStatusChange, statusChange{NodeID: id, Status: status})
	}
	return ok
}

// SetTemperature mirrors a sensor reading onto the node record. Unknown ids
// are ignored.
func (s *FleetService) SetTemperature(id int, temp float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return false
	}
	n.Temperature = temp
	s.nodes[id] = n
	return true
}

// Counts aggregates fleet totals for the stats endpoint. A node is outdated
// when its recorded version differs from latestVersion.
func (s *FleetService) Counts(latestVersion string) (total, online, updating, outdated int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.nodes {
		total++
		switch n.Status {
		case models.StatusOnline:
			online++
		case models.StatusUpdating:
			updating++
		}
		if latestVersion != "" && n.FirmwareVersion != latestVersion {
			outdated++
		}
	}
	return total, online, updating, outdated
}

type statusChange struct {
	NodeID int    `json:"node_id"`
	Status string `json:"status"`
}

func defaultNodeName(id int) string {
	return "Node_" + strconv.Itoa(id)
}
