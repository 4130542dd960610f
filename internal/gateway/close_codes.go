package gateway

import "errors"

// WebSocket close codes used by the gateway protocol. Standard codes
// (1000-1011) are defined by RFC 6455; the 4000 range is reserved for
// application use.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseProtocolError    = 1002
	ClosePolicyViolation  = 1008
	CloseMessageTooBig    = 1009
	CloseInternalError    = 1011
	CloseServiceRestart   = 1012
	CloseHandshakeTimeout = 4000
)

// Sentinel errors for connection failure modes. Each maps to a close code
// above.
var (
	ErrHandshakeTimeout  = errors.New("client did not send hello before the handshake deadline")
	ErrProtocolMismatch  = errors.New("no protocol version overlap with client")
	ErrUnauthorized      = errors.New("hello.auth.token did not match the configured gateway token")
	ErrSlowConsumer      = errors.New("connection exceeded the outbound buffer high-water mark")
	ErrFrameTooLarge     = errors.New("inbound frame exceeded the maximum frame size")
	ErrInvalidFrame      = errors.New("frame failed schema validation")
	ErrUnknownMethod     = errors.New("unknown method")
	ErrNotReady          = errors.New("connection has not completed the handshake")
	ErrAlreadyHandshaken = errors.New("hello already received on this connection")
)
