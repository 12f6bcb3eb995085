package gateway

import "errors"

var (
	// ErrBridgeOffline means no live connection exists for the bridge, the
	// invoke frame could not be sent, or the connection dropped before a result arrived.
	ErrBridgeOffline = errors.New("Bridge offline")

	// ErrBridgeTimeout means no result arrived within the invocation timeout.
	ErrBridgeTimeout = errors.New("Bridge timeout")
)

// BackendError carries the message a bridge reported in an ok=false result.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return "Bridge error"
	}
	return e.Message
}
