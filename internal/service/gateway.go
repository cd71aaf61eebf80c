package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"quakewatch/internal/events"
	"quakewatch/internal/gateway"
	"quakewatch/internal/logger"
	"quakewatch/internal/models"
	"quakewatch/internal/repository"
)

// DefaultBaudRate matches the gateway firmware's serial configuration.
const DefaultBaudRate = 115200

var ErrAlreadyConnected = errors.New("gateway already connected")

// GatewayService owns the serial link lifecycle and routes every inbound
// frame to the fleet registry, the OTA engine and the auto-update policy.
// Frames are handled on the single read-loop goroutine, in wire order.
type GatewayService struct {
	hub   *events.Hub
	audit repository.EventRepo
	log   *logger.Logger

	fleet *FleetService
	ota   *OTAService
	auto  *AutoUpdateService

	mu     sync.Mutex // guards link/cancel swaps
	link   *gateway.Link
	cancel context.CancelFunc
}

func NewGatewayService(hub *events.Hub, audit repository.EventRepo, log *logger.Logger) *GatewayService {
	return &GatewayService{hub: hub, audit: audit, log: log}
}

// bind attaches the routing targets; called once during wiring, before any
// frame can arrive.
func (s *GatewayService) bind(fleet *FleetService, ota *OTAService, auto *AutoUpdateService) {
	s.fleet = fleet
	s.ota = ota
	s.auto = auto
}

// Connect opens the serial port and starts the read loop.
func (s *GatewayService) Connect(port string, baud int) error {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link != nil {
		return ErrAlreadyConnected
	}

	link, err := gateway.Open(port, baud, s.log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.link = link
	s.cancel = cancel
	go link.ReadLoop(ctx, s.handleLine)

	s.appendAudit("GATEWAY", fmt.Sprintf("Connected on %s at %d baud", port, baud))
	return nil
}

// Disconnect stops the read loop and closes the port. Safe to call when
// already disconnected.
func (s *GatewayService) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	s.cancel()
	err := s.link.Close()
	s.link = nil
	s.cancel = nil

	s.appendAudit("GATEWAY", "Disconnected")
	return err
}

// Status reports link state plus the live OTA load.
func (s *GatewayService) Status() models.GatewayStatus {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()

	st := models.GatewayStatus{
		ActiveSessions: s.ota.ActiveSessions(),
		AutoOTAEnabled: s.auto.Enabled(),
	}
	if link != nil {
		st.Connected = true
		st.Port = link.Port()
	}
	return st
}

// Send pushes one outbound frame down the current link. Returns
// gateway.ErrNotConnected when no link is open; the failure is the caller's
// to handle, never fatal.
func (s *GatewayService) Send(v any) error {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return gateway.ErrNotConnected
	}
	return link.Send(v)
}

// handleLine decodes and routes one frame. Malformed frames are dropped with
// a log line; every successfully decoded frame, routed or not, is mirrored
// to observers as a gateway_message.
func (s *GatewayService) handleLine(line []byte) {
	msg, err := gateway.Decode(line)
	if err != nil {
		s.log.Warnw("gateway_frame_dropped", "err", err)
		return
	}

	ctx := context.Background()
	switch m := msg.(type) {
	case gateway.MeshStatus:
		for _, mn := range m.ActiveNodes {
			s.fleet.UpsertSeen(mn.NodeID, mn.DeviceName, mn.AccessToken, mn.FWVersion, mn.SignalStrength, mn.IsActive)
		}
	case gateway.NodeConnected:
		s.fleet.UpsertStatus(m.NodeID, models.StatusOnline)
	case gateway.NodeDisconnected:
		s.fleet.UpsertStatus(m.NodeID, models.StatusOffline)
	case gateway.MeshData:
		s.handleSensorData(m)
	case gateway.OTACheck:
		s.auto.HandleCheck(m.SourceNode, m.Role, m.FWVersion)
	case gateway.OTAAccept:
		s.ota.HandleAccept(m.SourceNode, m.DeviceName)
	case gateway.OTANext:
		s.ota.HandleNext(m.SourceNode, m.Idx)
	case gateway.OTAResult:
		s.ota.HandleResult(ctx, m.SourceNode, m.OK, m.Msg, m.NewVersion)
	case gateway.OTAError:
		s.ota.HandleError(m.SourceNode, m.Message)
	case gateway.Unknown:
		s.log.Infow("gateway_unknown_message", "type", m.Type)
	}

	s.hub.Publish(events.GatewayMessage, json.RawMessage(line))
}

// handleSensorData mirrors the earthquake temperature onto a known node and
// forwards the payload; payloads from unknown nodes are ignored.
func (s *GatewayService) handleSensorData(m gateway.MeshData) {
	eq, ok := m.Earthquake()
	if !ok {
		return
	}
	if !s.fleet.SetTemperature(m.SourceNode, eq.Temp) {
		return
	}
	s.hub.Publish(events.SensorUpdate, sensorUpdate{NodeID: m.SourceNode, Data: m.Data})
}

func (s *GatewayService) appendAudit(typ, desc string) {
	if err := s.audit.Append(context.Background(), models.ServerEvent{Type: typ, Description: desc}); err != nil {
		s.log.Errorw("audit_append_failed", "type", typ, "err", err)
	}
}

type sensorUpdate struct {
	NodeID int             `json:"node_id"`
	Data   json.RawMessage `json:"data"`
}
