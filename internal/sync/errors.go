package sync

import "errors"

var (
	// ErrCredential means no usable credential exists and none can be
	// refreshed. Fatal to the session; the caller must force logout.
	ErrCredential = errors.New("credential refresh impossible")

	// ErrConnectionClosed means an emit was attempted without a live
	// connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrInvalidOutbound means a send request matched no payload shape and
	// was rejected before reaching the transport.
	ErrInvalidOutbound = errors.New("invalid outbound message")

	// ErrReconnectExhausted means the bounded retry sequence ran out; an
	// explicit Reconnect is required.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

func isCredentialErr(err error) bool {
	return errors.Is(err, ErrCredential)
}
