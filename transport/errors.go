package transport

import "errors"

var (
	// ErrIllegalPacketSize means the remote declared a total packet length
	// outside the legal range.
	ErrIllegalPacketSize = errors.New("illegal packet size")

	// ErrIllegalPadding means the padding length byte leaves a negative
	// payload length.
	ErrIllegalPadding = errors.New("illegal padding length")

	// ErrBufferTooSmall means the payload does not fit the caller's buffer.
	ErrBufferTooSmall = errors.New("receive buffer too small")

	// ErrCorruptMAC means the authentication tag did not verify. It indicates
	// tampering, desynchronization or a wrong key.
	ErrCorruptMAC = errors.New("corrupt MAC")
)

// Error wraps one of the packet error conditions with detail about the
// offending packet. Every packet error is terminal for the session: this layer
// never retries, resends or resynchronizes, because cipher state cannot be
// trusted after a framing or MAC failure.
type Error struct {
	Err error
	Msg string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Msg
}

// Unwrap returns the underlying error condition.
func (e *Error) Unwrap() error {
	return e.Err
}
