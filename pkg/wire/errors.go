package wire

import (
	"errors"
	"fmt"
)

// ErrConnectionClosed is returned by Decoder.Next when the stream ends cleanly
// on a frame boundary.
var ErrConnectionClosed = errors.New("wire: connection closed")

// ErrProtocol matches every *ProtocolError via errors.Is.
var ErrProtocol = errors.New("wire: protocol error")

// ErrVersionMismatch is wrapped by the ProtocolError ReadVersion returns when
// the peer speaks a different protocol version.
var ErrVersionMismatch = errors.New("wire: protocol version mismatch")

// ErrFrameTooLarge is returned by Encode when a message would exceed MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// ProtocolError reports a truncated or malformed frame. It is terminal for the
// connection it was read from.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wire: protocol error: %s: %v", e.Reason, e.Err)
	}
	return "wire: protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrProtocol) true for any ProtocolError.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

func protocolErr(reason string, err error) error {
	return &ProtocolError{Reason: reason, Err: err}
}
