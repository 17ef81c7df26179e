// Package ipc is the control channel between the textreplacer daemon and
// its command-line client.
//
// The protocol is request/response over a Unix domain socket. Every message
// is a fixed 16-byte header followed by a JSON payload:
//
//	magic(4) version(1) flags(1) type(2) request-id(4) length(4)
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x5452504C // "TRPL"
)

// MaxPayload bounds a message payload. Rule sets are small.
const MaxPayload = 4 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005

	// Status messages (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101

	// Monitor control (0x02xx)
	MsgEnable        MessageType = 0x0200
	MsgDisable       MessageType = 0x0201
	MsgStateResponse MessageType = 0x0202

	// Rule management (0x03xx)
	MsgListRules     MessageType = 0x0300
	MsgListRulesResp MessageType = 0x0301
	MsgAddRule       MessageType = 0x0302
	MsgRemoveRule    MessageType = 0x0303
	MsgClearRules    MessageType = 0x0304
	MsgImportRules   MessageType = 0x0305
	MsgRulesChanged  MessageType = 0x0306

	// Diagnostics (0x04xx)
	MsgHealthRequest   MessageType = 0x0400
	MsgHealthResponse  MessageType = 0x0401
	MsgMetricsRequest  MessageType = 0x0402
	MsgMetricsResponse MessageType = 0x0403
)

var messageNames = map[MessageType]string{
	MsgPing:           "ping",
	MsgPong:           "pong",
	MsgHandshake:      "handshake",
	MsgHandshakeAck:   "handshake-ack",
	MsgError:          "error",
	MsgStatusRequest:  "status",
	MsgStatusResponse: "status-response",
	MsgEnable:         "enable",
	MsgDisable:        "disable",
	MsgStateResponse:  "state-response",
	MsgListRules:      "list-rules",
	MsgListRulesResp:  "list-rules-response",
	MsgAddRule:        "add-rule",
	MsgRemoveRule:     "remove-rule",
	MsgClearRules:     "clear-rules",
	MsgImportRules:    "import-rules",
	MsgRulesChanged:   "rules-changed",

	MsgHealthRequest:   "health",
	MsgHealthResponse:  "health-response",
	MsgMetricsRequest:  "metrics",
	MsgMetricsResponse: "metrics-response",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type-%#04x", uint16(t))
}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// FlagJSON marks a JSON payload, the only encoding in use.
const FlagJSON uint8 = 0x04

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// Write writes the header to a writer
func (h *Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(h.Type))
	binary.BigEndian.PutUint32(buf[8:12], h.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], h.Length)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}
	return h, nil
}

// Write writes the message as a single frame.
func (m *Message) Write(w io.Writer) error {
	var buf bytes.Buffer
	buf.Grow(HeaderSize + len(m.Payload))
	hdr := m.Header
	hdr.Length = uint32(len(m.Payload))
	if err := hdr.Write(&buf); err != nil {
		return err
	}
	buf.Write(m.Payload)
	_, err := w.Write(buf.Bytes())
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrUnavailable      = 6
)

// StatusResponse contains daemon status
type StatusResponse struct {
	Version   string        `json:"version"`
	Uptime    time.Duration `json:"uptime"`
	StartedAt time.Time     `json:"started_at"`
	Enabled   bool          `json:"enabled"`

	// HookAvailable and HookReason report whether the keyboard hook can run.
	HookAvailable bool   `json:"hook_available"`
	HookReason    string `json:"hook_reason,omitempty"`

	Rules     int    `json:"rules"`
	RulesPath string `json:"rules_path"`

	Keystrokes         uint64 `json:"keystrokes"`
	Matches            uint64 `json:"matches"`
	Replays            uint64 `json:"replays"`
	ClipboardFallbacks uint64 `json:"clipboard_fallbacks"`
	ReplayErrors       uint64 `json:"replay_errors"`
	TapDisables        int64  `json:"tap_disables"`
}

// StateResponse reports the monitor state after Enable or Disable.
type StateResponse struct {
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

// RuleEntry is one trigger/replacement pair.
type RuleEntry struct {
	Trigger     string `json:"trigger"`
	Replacement string `json:"replacement"`
}

// ListRulesResponse contains the rules sorted by trigger.
type ListRulesResponse struct {
	Rules []RuleEntry `json:"rules"`
	Path  string      `json:"path"`
}

// AddRuleRequest adds or overwrites a rule.
type AddRuleRequest struct {
	Trigger     string `json:"trigger"`
	Replacement string `json:"replacement"`
}

// RemoveRuleRequest deletes a rule.
type RemoveRuleRequest struct {
	Trigger string `json:"trigger"`
}

// ImportRulesRequest merges a rule set.
type ImportRulesRequest struct {
	Rules map[string]string `json:"rules"`
}

// RulesChangedResponse acknowledges a rule mutation.
type RulesChangedResponse struct {
	// Changed is the number of rules added, removed or overwritten.
	Changed int `json:"changed"`
	// Count is the rule count afterwards.
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

// ComponentHealth is the last check result of one daemon component.
type ComponentHealth struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HealthResponse aggregates the component checks.
type HealthResponse struct {
	Status     string            `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	Components []ComponentHealth `json:"components"`
}

// MetricsResponse carries the counters in Prometheus text format.
type MetricsResponse struct {
	Text string `json:"text"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload
func Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
