package core

import "io"

// Transport is the duplex byte stream a board is reached over. The
// session owns the read side exclusively through its dispatcher
// goroutine; writes go through the outgoing channel.
//
// CanClose distinguishes transports the host can tear down (serial,
// TCP) from ones only the device can release; for the latter the
// session emits a soft-close command instead and lets the device
// close.
type Transport interface {
	io.Reader
	io.Writer

	// Connect blocks until the physical link is established.
	Connect() error

	// Disconnect tears the link down. It must unblock a concurrent
	// Read. Safe to call more than once.
	Disconnect()

	// CanClose reports whether the host side may tear the link down.
	CanClose() bool
}
