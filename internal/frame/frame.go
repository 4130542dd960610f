// Package frame defines the gateway's wire protocol: the discriminated union
// of frame types exchanged over the WebSocket, their strict JSON validation,
// and the closed error taxonomy carried on failed responses.
package frame

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frame type discriminators. Every frame on the wire carries exactly one of
// these as its "type" member.
const (
	TypeHello      = "hello"
	TypeHelloOK    = "hello-ok"
	TypeHelloError = "hello-error"
	TypeReq        = "req"
	TypeRes        = "res"
	TypeEvent      = "event"
)

// Event names. The closed set of unsolicited server->client events.
const (
	EventTick        = "tick"
	EventPresence    = "presence"
	EventAgent       = "agent"
	EventShutdown    = "shutdown"
	EventSystemEvent = "system-event"
)

// ClientDescriptor identifies the connecting client, carried inside Hello.
type ClientDescriptor struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Platform   string `json:"platform"`
	Mode       string `json:"mode"`
	InstanceID string `json:"instanceId,omitempty"`
}

// AuthInfo carries the optional shared-secret token presented on Hello.
type AuthInfo struct {
	Token string `json:"token,omitempty"`
}

// Hello is the first (and only) client->server frame on a connection.
type Hello struct {
	Type        string           `json:"type"`
	MinProtocol int              `json:"minProtocol"`
	MaxProtocol int              `json:"maxProtocol"`
	Client      ClientDescriptor `json:"client"`
	Caps        []string         `json:"caps,omitempty"`
	Auth        *AuthInfo        `json:"auth,omitempty"`
}

// ServerInfo identifies the gateway process in HelloOK.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Host    string `json:"host,omitempty"`
	ConnID  string `json:"connId"`
}

// PolicyInfo communicates the connection's operating limits to the client.
type PolicyInfo struct {
	MaxPayload       int `json:"maxPayload"`
	MaxBufferedBytes int `json:"maxBufferedBytes"`
	TickIntervalMs   int `json:"tickIntervalMs"`
}

// StateVersion is the {presence, health} monotonic counter pair broadcast
// alongside any event that changes one of them.
type StateVersion struct {
	Presence int64 `json:"presence"`
	Health   int64 `json:"health"`
}

// Snapshot is the complete view of presence + health + state versions handed
// to a client at handshake time.
type Snapshot struct {
	Presence     []any        `json:"presence"`
	Health       any          `json:"health"`
	StateVersion StateVersion `json:"stateVersion"`
	UptimeMs     int64        `json:"uptimeMs"`
}

// HelloOK is the successful handshake response.
type HelloOK struct {
	Type     string     `json:"type"`
	Protocol int        `json:"protocol"`
	Server   ServerInfo `json:"server"`
	Snapshot Snapshot   `json:"snapshot"`
	Policy   PolicyInfo `json:"policy"`
}

// HelloError is the failed handshake response; the connection is closed
// immediately after it is sent (or, for a handshake timeout, nothing is sent
// at all).
type HelloError struct {
	Type             string `json:"type"`
	Reason           string `json:"reason"`
	ExpectedProtocol *int   `json:"expectedProtocol,omitempty"`
}

// Request is a client->server call, correlated to its Response by ID.
type Request struct {
	Type   string          `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request with the same ID.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// Event is an unsolicited server->client push. Every event the gateway
// builds carries the global sequence number, droppable ones included.
type Event struct {
	Type         string          `json:"type"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Seq          *int64          `json:"seq,omitempty"`
	StateVersion *StateVersion   `json:"stateVersion,omitempty"`
}

// envelopeType peeks at the "type" discriminator without validating the rest
// of the frame. Used to pick which strict schema to decode against.
func envelopeType(raw []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("decode frame envelope: %w", err)
	}
	if probe.Type == "" {
		return "", fmt.Errorf("frame missing required \"type\" member")
	}
	return probe.Type, nil
}

// strictDecode unmarshals raw into v, rejecting any top-level JSON member v
// does not declare a field for. This is the envelope-level "unknown members
// rejected" rule every frame variant must enforce.
func strictDecode(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// DecodeHello strictly decodes a client-sent Hello frame.
func DecodeHello(raw []byte) (*Hello, error) {
	var h Hello
	if err := strictDecode(raw, &h); err != nil {
		return nil, fmt.Errorf("invalid hello frame: %w", err)
	}
	if h.Type != TypeHello {
		return nil, fmt.Errorf("invalid hello frame: type = %q, want %q", h.Type, TypeHello)
	}
	return &h, nil
}

// DecodeRequest strictly decodes a client-sent Request frame.
func DecodeRequest(raw []byte) (*Request, error) {
	var r Request
	if err := strictDecode(raw, &r); err != nil {
		return nil, fmt.Errorf("invalid request frame: %w", err)
	}
	if r.Type != TypeReq {
		return nil, fmt.Errorf("invalid request frame: type = %q, want %q", r.Type, TypeReq)
	}
	return &r, nil
}

// Sniff returns the frame's type discriminator, or an error if the frame is
// not a syntactically valid JSON object carrying one.
func Sniff(raw []byte) (string, error) {
	return envelopeType(raw)
}

func marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return b, nil
}

// NewHelloOK builds a serialised hello-ok frame.
func NewHelloOK(connID string, cfg ServerInfo, snapshot Snapshot, policy PolicyInfo) ([]byte, error) {
	cfg.ConnID = connID
	return marshal(HelloOK{Type: TypeHelloOK, Protocol: ProtocolVersion, Server: cfg, Snapshot: snapshot, Policy: policy})
}

// NewHelloError builds a serialised hello-error frame.
func NewHelloError(reason string, expectedProtocol *int) ([]byte, error) {
	return marshal(HelloError{Type: TypeHelloError, Reason: reason, ExpectedProtocol: expectedProtocol})
}

// NewResponse builds a serialised successful res frame.
func NewResponse(id string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal response payload: %w", err)
	}
	return marshal(Response{Type: TypeRes, ID: id, OK: true, Payload: raw})
}

// NewErrorResponse builds a serialised failed res frame.
func NewErrorResponse(id string, errShape ErrorShape) ([]byte, error) {
	return marshal(Response{Type: TypeRes, ID: id, OK: false, Error: &errShape})
}

// NewResponseRaw builds a serialised successful res frame from an
// already-marshalled payload. Used to replay a cached idempotent response
// under a new request ID without re-marshalling its payload.
func NewResponseRaw(id string, payload json.RawMessage) ([]byte, error) {
	return marshal(Response{Type: TypeRes, ID: id, OK: true, Payload: payload})
}

// Outcome is the {ok, payload?, error?} triple a mutating method handler
// produces. It is what the dedupe cache stores and replays verbatim for a
// repeated idempotencyKey, per §4.5: both successes and failures are cached.
type Outcome struct {
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// MarshalOutcome serialises an Outcome for storage in the dedupe cache.
func MarshalOutcome(o Outcome) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("marshal outcome: %w", err)
	}
	return b, nil
}

// UnmarshalOutcome deserialises an Outcome previously stored by
// MarshalOutcome.
func UnmarshalOutcome(raw []byte) (Outcome, error) {
	var o Outcome
	if err := json.Unmarshal(raw, &o); err != nil {
		return Outcome{}, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return o, nil
}

// NewResponseFromOutcome builds a serialised res frame, success or failure,
// from a cached or freshly-produced Outcome.
func NewResponseFromOutcome(id string, o Outcome) ([]byte, error) {
	return marshal(Response{Type: TypeRes, ID: id, OK: o.OK, Payload: o.Payload, Error: o.Error})
}

// NewEvent builds a serialised event frame. The frame always carries seq;
// tick gets one too, it is merely droppable on backpressure.
func NewEvent(eventName string, payload any, seq int64, sv *StateVersion) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return marshal(Event{Type: TypeEvent, Event: eventName, Payload: raw, Seq: &seq, StateVersion: sv})
}

// ProtocolVersion is the single protocol version this gateway speaks. Hello
// negotiation succeeds only when ProtocolVersion falls within
// [minProtocol, maxProtocol].
const ProtocolVersion = 1
