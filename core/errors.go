package core

import "github.com/pkg/errors"

// Error kinds of the driver. Call sites wrap these with context; match
// with errors.Is.
var (
	// ErrConnectionLost reports that the transport went down. The
	// session is terminal and every waiter is released with this
	// error.
	ErrConnectionLost = errors.New("connection lost")

	// ErrIncompatible reports that the firmware rejected the protocol
	// interface id. The session is terminal but distinguishable from a
	// lost connection.
	ErrIncompatible = errors.New("incompatible firmware")

	// ErrOutOfResource reports pin or module pool exhaustion. The
	// session remains usable and nothing was allocated.
	ErrOutOfResource = errors.New("out of resource")

	// ErrIllegalState reports an operation invoked in the wrong
	// session or resource state.
	ErrIllegalState = errors.New("illegal state")

	// ErrIllegalArgument reports a locally rejected argument: a pin
	// without the needed capability, a frequency out of range, an
	// oversized buffer.
	ErrIllegalArgument = errors.New("illegal argument")

	// ErrTwiAborted reports a TWI transaction that the bus NAK'd or
	// otherwise failed. The module stays usable.
	ErrTwiAborted = errors.New("twi transaction aborted")
)
