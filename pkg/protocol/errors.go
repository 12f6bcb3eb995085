package protocol

import "errors"

var (
	// ErrMalformedFrame is returned for frames that cannot be attributed to an invocation.
	// They are dropped rather than answered.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnsupportedKind is returned for invoke kinds outside the known set.
	ErrUnsupportedKind = errors.New("Unsupported invoke kind")
)

// Close reasons sent with CloseCodePolicyViolation when a bridge connection is refused.
const (
	CloseReasonMissingToken = "missing token"
	CloseReasonInvalidToken = "invalid token"
	CloseReasonSuperseded   = "superseded"
	CloseReasonStopped      = "bridge stopped"
)

// CloseCodePolicyViolation is the WebSocket close code (1008) used to refuse a bridge.
const CloseCodePolicyViolation = 1008
