package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"quakewatch/internal/events"
	"quakewatch/internal/gateway"
	"quakewatch/internal/logger"
	"quakewatch/internal/models"
	"quakewatch/internal/repository"

	"github.com/google/uuid"
)

const (
	// DefaultChunkSize is the fixed per-session transfer unit; nodes buffer
	// one chunk at a time, so this is sized to their serial RX buffer.
	DefaultChunkSize = 1024

	// DefaultSessionTTL bounds how long a session may sit without reaching a
	// terminal result before the reaper gives up on it. A node that goes
	// silent mid-transfer would otherwise hold its session forever.
	DefaultSessionTTL = 10 * time.Minute
)

var (
	ErrSessionActive = errors.New("an OTA session is already active for this node")
	ErrNodeNotFound  = errors.New("node not found")
	ErrEmptyFirmware = errors.New("firmware payload is empty")
)

// FrameSender pushes one outbound frame down the gateway link.
type FrameSender interface {
	Send(v any) error
}

type sessionState int

const (
	sessionOffered sessionState = iota
	sessionTransferring
)

// otaSession is the live state of one node's transfer. The firmware buffer is
// owned exclusively by the session for its lifetime.
type otaSession struct {
	nodeID    int
	nodeName  string
	firmware  []byte
	version   string
	chunkSize int
	state     sessionState
	startedAt time.Time
	auto      bool
}

// OTAService implements the per-node OTA state machine:
// no session -> offered -> transferring -> removed on result/error/expiry.
type OTAService struct {
	sender  FrameSender
	fleet   *FleetService
	history repository.HistoryRepo
	audit   repository.EventRepo
	hub     *events.Hub
	log     *logger.Logger

	chunkSize  int
	sessionTTL time.Duration

	mu       sync.Mutex
	sessions map[int]*otaSession
}

func NewOTAService(sender FrameSender, fleet *FleetService, history repository.HistoryRepo,
	audit repository.EventRepo, hub *events.Hub, log *logger.Logger,
	chunkSize int, sessionTTL time.Duration) *OTAService {

	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &OTAService{
		sender:     sender,
		fleet:      fleet,
		history:    history,
		audit:      audit,
		hub:        hub,
		log:        log,
		chunkSize:  chunkSize,
		sessionTTL: sessionTTL,
		sessions:   make(map[int]*otaSession),
	}
}

// Trigger creates a session and offers the update to the node. At most one
// session may exist per node; a second trigger fails with ErrSessionActive.
// A send failure discards the session and writes no history.
func (s *OTAService) Trigger(ctx context.Context, p TriggerParams) (string, error) {
	if len(p.Firmware) == 0 {
		return "", ErrEmptyFirmware
	}
	node, ok := s.fleet.Get(p.NodeID)
	if !ok {
		return "", ErrNodeNotFound
	}

	sess := &otaSession{
		nodeID:    p.NodeID,
		nodeName:  node.Name,
		firmware:  p.Firmware,
		version:   p.Version,
		chunkSize: s.chunkSize,
		state:     sessionOffered,
		startedAt: time.Now().UTC(),
		auto:      p.Auto,
	}

	s.mu.Lock()
	if _, busy := s.sessions[p.NodeID]; busy {
		s.mu.Unlock()
		return "", ErrSessionActive
	}
	s.sessions[p.NodeID] = sess
	s.mu.Unlock()

	offer := gateway.NewOTAOffer(p.NodeID, p.Version, len(p.Firmware), s.chunkSize)
	if err := s.sender.Send(offer); err != nil {
		s.removeSession(p.NodeID)
		return "", fmt.Errorf("send ota_offer to node %d: %w", p.NodeID, err)
	}

	entry := models.OTAHistoryEntry{
		ID:          uuid.NewString(),
		NodeID:      p.NodeID,
		NodeName:    node.Name,
		Version:     p.Version,
		Status:      models.OTAInitiated,
		InitiatedBy: p.InitiatedBy,
		FileSize:    len(p.Firmware),
		CreatedAt:   sess.startedAt,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.log.Errorw("ota_history_append_failed", "node", p.NodeID, "err", err)
	}
	s.appendAudit(ctx, "OTA", fmt.Sprintf("OTA initiated for %s v%s by %s", node.Name, p.Version, p.InitiatedBy))

	s.fleet.UpsertStatus(p.NodeID, models.StatusUpdating)

	s.log.Infow("ota_offer_sent", "node", p.NodeID, "version", p.Version,
		"size", len(p.Firmware), "chunk", s.chunkSize, "auto", p.Auto)
	return entry.ID, nil
}

// TriggerFromURL downloads the artifact, verifies the optional sha256 and
// hands the bytes to Trigger. The temporary artifact is always removed.
func (s *OTAService) TriggerFromURL(ctx context.Context, p URLTriggerParams) (string, error) {
	firmware, err := fetchFirmware(ctx, p.URL, p.SHA256)
	if err != nil {
		return "", err
	}
	return s.Trigger(ctx, TriggerParams{
		NodeID:      p.NodeID,
		Version:     p.Version,
		Firmware:    firmware,
		InitiatedBy: p.InitiatedBy,
	})
}

// History returns the full OTA log.
func (s *OTAService) History(ctx context.Context) ([]models.OTAHistoryEntry, error) {
	return s.history.List(ctx)
}

// ActiveSessions reports the number of live transfers.
func (s *OTAService) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// HandleAccept moves the session to transferring and pushes chunk 0.
// An accept for a node with no session is logged and ignored.
func (s *OTAService) HandleAccept(nodeID int, deviceName string) {
	s.mu.Lock()
	sess, ok := s.sessions[nodeID]
	if ok && sess.state == sessionOffered {
		sess.state = sessionTransferring
	}
	s.mu.Unlock()
	if !ok {
		s.log.Warnw("ota_accept_without_session", "node", nodeID, "device", deviceName)
		return
	}

	s.log.Infow("ota_accepted", "node", nodeID, "device", deviceName, "auto", sess.auto)
	s.sendChunk(sess, 0)
}

// HandleNext pushes the requested chunk, or ota_end once the index is past
// the buffer. End-of-data is not terminal: the session stays allocated until
// the node reports a result.
func (s *OTAService) HandleNext(nodeID, idx int) {
	s.mu.Lock()
	sess, ok := s.sessions[nodeID]
	if ok && sess.state != sessionTransferring {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		s.log.Warnw("ota_next_without_session", "node", nodeID, "idx", idx)
		return
	}

	s.sendChunk(sess, idx)
}

// HandleResult is terminal regardless of ok: the session is removed, the
// open history entry is closed, and the node record is updated. On failure
// the node goes back to online: it answered, so it is reachable.
func (s *OTAService) HandleResult(ctx context.Context, nodeID int, ok bool, msg, newVersion string) {
	sess := s.removeSession(nodeID)
	if sess == nil {
		s.log.Warnw("ota_result_without_session", "node", nodeID, "ok", ok)
		return
	}

	now := time.Now().UTC()
	if ok && newVersion != "" {
		s.fleet.SetFirmware(nodeID, newVersion, models.StatusOnline)
		if err := s.history.CompleteLatest(ctx, nodeID, models.OTACompleted, now); err != nil {
			s.log.Errorw("ota_history_complete_failed", "node", nodeID, "err", err)
		}
		s.log.Infow("ota_completed", "node", nodeID, "version", newVersion, "auto", sess.auto)
	} else {
		s.fleet.UpsertStatus(nodeID, models.StatusOnline)
		if err := s.history.CompleteLatest(ctx, nodeID, models.OTAFailed, now); err != nil {
			s.log.Errorw("ota_history_complete_failed", "node", nodeID, "err", err)
		}
		s.log.Warnw("ota_failed", "node", nodeID, "msg", msg, "auto", sess.auto)
	}

	s.hub.Publish(completeEventType(sess.auto), otaCompletion{
		NodeID:     nodeID,
		Success:    ok,
		Message:    msg,
		NewVersion: newVersion,
	})
}

// HandleError is the terminal failure path driven by the node. The session is
// dropped and the failure published; history is untouched on this path.
func (s *OTAService) HandleError(nodeID int, message string) {
	sess := s.removeSession(nodeID)
	if sess == nil {
		s.log.Warnw("ota_error_without_session", "node", nodeID, "message", message)
		return
	}

	s.log.Errorw("ota_node_error", "node", nodeID, "message", message, "auto", sess.auto)
	s.hub.Publish(errorEventType(sess.auto), otaFailure{NodeID: nodeID, Error: message})
}

// RunReaper sweeps expired sessions at the given interval until the context
// is cancelled. An expired session counts as failed: the node stopped
// answering mid-transfer and will never deliver a result.
func (s *OTAService) RunReaper(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.reapExpired(ctx, now.UTC())
		}
	}
}

func (s *OTAService) reapExpired(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var expired []*otaSession
	for id, sess := range s.sessions {
		if now.Sub(sess.startedAt) >= s.sessionTTL {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		s.log.Warnw("ota_session_expired", "node", sess.nodeID,
			"version", sess.version, "started_at", sess.startedAt)
		if err := s.history.CompleteLatest(ctx, sess.nodeID, models.OTAFailed, now); err != nil {
			s.log.Errorw("ota_history_complete_failed", "node", sess.nodeID, "err", err)
		}
		s.hub.Publish(errorEventType(sess.auto), otaFailure{
			NodeID: sess.nodeID,
			Error:  "session expired: no result from node",
		})
	}
}

// sendChunk transmits chunk idx of the session's buffer, or ota_end when idx
// is past the end. The chunk size is fixed for the session's lifetime.
func (s *OTAService) sendChunk(sess *otaSession, idx int) {
	total := len(sess.firmware)
	start := idx * sess.chunkSize
	if start >= total {
		if err := s.sender.Send(gateway.NewOTAEnd(sess.nodeID)); err != nil {
			s.log.Errorw("ota_end_send_failed", "node", sess.nodeID, "err", err)
			return
		}
		s.log.Infow("ota_transfer_complete", "node", sess.nodeID, "bytes", total, "auto", sess.auto)
		return
	}

	end := start + sess.chunkSize
	if end > total {
		end = total
	}
	data := base64.StdEncoding.EncodeToString(sess.firmware[start:end])

	if err := s.sender.Send(gateway.NewOTAChunk(sess.nodeID, idx, data)); err != nil {
		s.log.Errorw("ota_chunk_send_failed", "node", sess.nodeID, "idx", idx, "err", err)
		return
	}

	s.hub.Publish(progressEventType(sess.auto), otaProgress{
		NodeID:     sess.nodeID,
		Progress:   end * 100 / total,
		Chunk:      idx,
		BytesSent:  end,
		TotalBytes: total,
	})
}

func (s *OTAService) removeSession(nodeID int) *otaSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := s.sessions[nodeID]
	delete(s.sessions, nodeID)
	return sess
}

func (s *OTAService) appendAudit(ctx context.Context, typ, desc string) {
	if err := s.audit.Append(ctx, models.ServerEvent{Type: typ, Description: desc}); err != nil {
		s.log.Errorw("audit_append_failed", "type", typ, "err", err)
	}
}

type otaProgress struct {
	NodeID     int `json:"node_id"`
	Progress   int `json:"progress"`
	Chunk      int `json:"chunk"`
	BytesSent  int `json:"bytes_sent"`
	TotalBytes int `json:"total_bytes"`
}

type otaCompletion struct {
	NodeID     int    `json:"node_id"`
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	NewVersion string `json:"new_version,omitempty"`
}

type otaFailure struct {
	NodeID int    `json:"node_id"`
	Error  string `json:"error"`
}

func progressEventType(auto bool) string {
	if auto {
		return events.AutoOTAProgress
	}
	return events.OTAProgress
}

func completeEventType(auto bool) string {
	if auto {
		return events.AutoOTAComplete
	}
	return events.OTAComplete
}

func errorEventType(auto bool) string {
	if auto {
		return events.AutoOTAError
	}
	return events.OTAError
}
