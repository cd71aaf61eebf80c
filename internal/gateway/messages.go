package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire message type discriminators. The catalogue is closed: anything the
// gateway may say is listed here, everything else decodes to Unknown.
const (
	TypeMeshStatus       = "mesh_status"
	TypeNodeConnected    = "node_connected"
	TypeNodeDisconnected = "node_disconnected"
	TypeMeshData         = "mesh_data"
	TypeOTACheck         = "ota_check_forward"
	TypeOTAAccept        = "ota_accept"
	TypeOTANext          = "ota_next"
	TypeOTAResult        = "ota_result"
	TypeOTAError         = "ota_error"

	TypeOTAOffer = "ota_offer"
	TypeOTAChunk = "ota_chunk"
	TypeOTAEnd   = "ota_end"
)

// ErrBadFrame marks a frame that is not a valid message of the catalogue:
// malformed JSON or a known type with a rejected shape. Such frames are
// dropped; the link itself continues.
var ErrBadFrame = errors.New("bad frame")

// Message is one decoded inbound frame.
type Message interface {
	messageType() string
}

// MeshNode is one entry of a mesh_status report.
type MeshNode struct {
	NodeID         int    `json:"node_id"`
	IsActive       bool   `json:"is_active"`
	FWVersion      string `json:"fw_version"`
	SignalStrength int    `json:"signal_strength"`
	DeviceName     string `json:"device_name"`
	AccessToken    string `json:"access_token"`
}

// MeshStatus is the periodic roster of nodes the gateway can see.
type MeshStatus struct {
	ActiveNodes []MeshNode `json:"active_nodes"`
}

type NodeConnected struct {
	NodeID int `json:"node_id"`
}

type NodeDisconnected struct {
	NodeID int `json:"node_id"`
}

// MeshData carries a sensor payload forwarded verbatim from a node. The
// payload is kept raw; only the earthquake temperature is interpreted.
type MeshData struct {
	SourceNode int             `json:"source_node"`
	Data       json.RawMessage `json:"data"`
}

// EarthquakeReading is the slice of the payload the fleet registry mirrors.
type EarthquakeReading struct {
	Temp float64 `json:"temp"`
}

// Earthquake extracts the earthquake reading from the payload, if present.
func (m MeshData) Earthquake() (EarthquakeReading, bool) {
	var payload struct {
		Earthquake *EarthquakeReading `json:"earthquake"`
	}
	if err := json.Unmarshal(m.Data, &payload); err != nil || payload.Earthquake == nil {
		return EarthquakeReading{}, false
	}
	return *payload.Earthquake, true
}

// OTACheck is a node reporting its firmware version for the update policy.
type OTACheck struct {
	SourceNode int    `json:"source_node"`
	Role       string `json:"role"`
	FWVersion  string `json:"fw_version"`
}

type OTAAccept struct {
	SourceNode int    `json:"source_node"`
	DeviceName string `json:"device_name"`
}

type OTANext struct {
	SourceNode int `json:"source_node"`
	Idx        int `json:"idx"`
}

type OTAResult struct {
	SourceNode int    `json:"source_node"`
	OK         bool   `json:"ok"`
	Msg        string `json:"msg"`
	NewVersion string `json:"new_version"`
}

type OTAError struct {
	SourceNode int    `json:"source_node"`
	Message    string `json:"message"`
}

// Unknown is a well-formed frame whose type is not in the catalogue. It is
// logged and ignored by the router but still mirrored to observers.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (MeshStatus) messageType() string       { return TypeMeshStatus }
func (NodeConnected) messageType() string    { return TypeNodeConnected }
func (NodeDisconnected) messageType() string { return TypeNodeDisconnected }
func (MeshData) messageType() string         { return TypeMeshData }
func (OTACheck) messageType() string         { return TypeOTACheck }
func (OTAAccept) messageType() string        { return TypeOTAAccept }
func (OTANext) messageType() string          { return TypeOTANext }
func (OTAResult) messageType() string        { return TypeOTAResult }
func (OTAError) messageType() string         { return TypeOTAError }
func (Unknown) messageType() string          { return "unknown" }

// Outbound frames. Type is fixed by the constructor so a marshaled frame is
// always self-describing.

type OTAOffer struct {
	Type       string `json:"type"`
	TargetNode int    `json:"target_node"`
	Version    string `json:"version"`
	Size       int    `json:"size"`
	Chunk      int    `json:"chunk"`
}

func NewOTAOffer(node int, version string, size, chunk int) OTAOffer {
	return OTAOffer{Type: TypeOTAOffer, TargetNode: node, Version: version, Size: size, Chunk: chunk}
}

type OTAChunk struct {
	Type       string `json:"type"`
	TargetNode int    `json:"target_node"`
	Idx        int    `json:"idx"`
	Data       string `json:"data"` // base64
}

func NewOTAChunk(node, idx int, data string) OTAChunk {
	return OTAChunk{Type: TypeOTAChunk, TargetNode: node, Idx: idx, Data: data}
}

type OTAEnd struct {
	Type       string `json:"type"`
	TargetNode int    `json:"target_node"`
}

func NewOTAEnd(node int) OTAEnd {
	return OTAEnd{Type: TypeOTAEnd, TargetNode: node}
}

// Decode parses one frame into its catalogue type. Malformed JSON and known
// types with rejected shapes return an error wrapping ErrBadFrame; valid JSON
// of an unlisted type returns Unknown.
func Decode(line []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeMeshStatus:
		msg, err = decodeAs[MeshStatus](line)
	case TypeNodeConnected:
		msg, err = decodeNode[NodeConnected](line, func(m NodeConnected) int { return m.NodeID })
	case TypeNodeDisconnected:
		msg, err = decodeNode[NodeDisconnected](line, func(m NodeDisconnected) int { return m.NodeID })
	case TypeMeshData:
		msg, err = decodeNode[MeshData](line, func(m MeshData) int { return m.SourceNode })
	case TypeOTACheck:
		msg, err = decodeNode[OTACheck](line, func(m OTACheck) int { return m.SourceNode })
	case TypeOTAAccept:
		msg, err = decodeNode[OTAAccept](line, func(m OTAAccept) int { return m.SourceNode })
	case TypeOTANext:
		msg, err = decodeNode[OTANext](line, func(m OTANext) int { return m.SourceNode })
	case TypeOTAResult:
		msg, err = decodeNode[OTAResult](line, func(m OTAResult) int { return m.SourceNode })
	case TypeOTAError:
		msg, err = decodeNode[OTAError](line, func(m OTAError) int { return m.SourceNode })
	default:
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		return Unknown{Type: env.Type, Raw: raw}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadFrame, env.Type, err)
	}
	return msg, nil
}

func decodeAs[T Message](line []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// decodeNode decodes like decodeAs and additionally requires a positive node
// id, the one shape every per-node message must have.
func decodeNode[T Message](line []byte, id func(T) int) (Message, error) {
	var m T
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	if id(m) <= 0 {
		return nil, errors.New("missing or invalid node id")
	}
	return m, nil
}
