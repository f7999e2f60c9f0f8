package core

import (
	"context"
	"log"
	"sync"

	"github.com/pkg/errors"

	"ioio/protocol"
)

type connState int

const (
	stateInit connState = iota
	stateConnected
	stateIncompatible
	stateDead
)

// Board is a session with one IOIO board over a transport. It owns the
// outgoing channel, the incoming dispatcher goroutine, the resource
// manager and the bag of open resource state objects.
//
// A Board starts in the initial state; WaitForConnect drives it to
// connected (or to a terminal state), Disconnect to dead. Once dead,
// every operation except Disconnect and WaitForDisconnect fails with
// a connection-lost error.
type Board struct {
	transport Transport
	out       *protocol.Outgoing
	bus       *eventBus

	mu    sync.Mutex // session mutex: state, capability, resource manager
	state connState
	cap   *Capability
	rm    *ResourceManager

	hardwareID   string
	bootloaderID string
	firmwareID   string

	established chan struct{}
	estOnce     sync.Once
	ifaceResp   chan bool
	dead        chan struct{}
	deadOnce    sync.Once

	syncMu      sync.Mutex
	syncWaiters []chan struct{}
}

// New creates a session over the given transport. Nothing happens on
// the wire until WaitForConnect.
func New(t Transport) *Board {
	return &Board{
		transport:   t,
		bus:         newEventBus(),
		established: make(chan struct{}),
		ifaceResp:   make(chan bool, 1),
		dead:        make(chan struct{}),
	}
}

// WaitForConnect establishes the transport link, waits for the
// device's handshake, verifies protocol compatibility and moves the
// session to the connected state.
func (b *Board) WaitForConnect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != stateInit {
		b.mu.Unlock()
		return errors.Wrap(ErrIllegalState, "already connected or dead")
	}
	b.mu.Unlock()

	if err := b.transport.Connect(); err != nil {
		b.fatal()
		return errors.Wrapf(ErrConnectionLost, "transport connect: %v", err)
	}
	b.out = protocol.NewOutgoing(b.transport)
	incoming := protocol.NewIncoming(b.transport, b)
	go func() {
		if err := incoming.Run(); err != nil {
			log.Printf("ioio: incoming dispatcher: %v", err)
		}
	}()

	select {
	case <-b.established:
	case <-b.dead:
		return errors.Wrap(ErrConnectionLost, "waiting for handshake")
	case <-ctx.Done():
		b.Disconnect()
		return ctx.Err()
	}

	b.mu.Lock()
	if b.cap == nil {
		b.state = stateIncompatible
		hw := b.hardwareID
		b.mu.Unlock()
		return errors.Wrapf(ErrIncompatible, "unknown hardware %q", hw)
	}
	b.mu.Unlock()

	if err := b.out.CheckInterface(protocol.InterfaceID); err != nil {
		b.fatal()
		return errors.Wrap(ErrConnectionLost, "sending interface check")
	}

	var supported bool
	select {
	case supported = <-b.ifaceResp:
	case <-b.dead:
		return errors.Wrap(ErrConnectionLost, "waiting for interface check")
	case <-ctx.Done():
		b.Disconnect()
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !supported {
		b.state = stateIncompatible
		return errors.Wrapf(ErrIncompatible, "firmware %s rejected interface %s",
			b.firmwareID, string(protocol.InterfaceID[:]))
	}
	if b.state == stateDead {
		return errors.Wrap(ErrConnectionLost, "connection dropped during handshake")
	}
	b.state = stateConnected
	log.Printf("ioio: connected, hw=%s bl=%s fw=%s", b.hardwareID, b.bootloaderID, b.firmwareID)
	return nil
}

// Disconnect tears the session down. On transports the host cannot
// close it sends soft close (when connected) instead of closing the
// transport, and leaves the link for the device to shut. Safe to call
// in any state, more than once.
func (b *Board) Disconnect() {
	b.mu.Lock()
	canClose := b.transport.CanClose()
	connected := b.state == stateConnected
	b.mu.Unlock()

	if connected && !canClose && b.out != nil {
		if err := b.out.SoftClose(); err != nil {
			log.Printf("ioio: soft close: %v", err)
		}
	}
	if canClose {
		b.transport.Disconnect()
	}
	b.fatal()
}

// WaitForDisconnect blocks until the session is dead.
func (b *Board) WaitForDisconnect(ctx context.Context) error {
	select {
	case <-b.dead:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SoftReset asks the device to close every open module. The session
// stays connected; every open facade is released as if closed and its
// resources become allocatable again once the device echoes the reset.
func (b *Board) SoftReset() error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	return b.out.SoftReset()
}

// HardReset reboots the device. The connection drops as a consequence.
func (b *Board) HardReset() error {
	if err := b.checkConnected(); err != nil {
		return err
	}
	return b.out.HardReset()
}

// Sync blocks until the device has processed every command sent before
// it from this goroutine.
func (b *Board) Sync(ctx context.Context) error {
	if err := b.checkConnected(); err != nil {
		return err
	}

	ch := make(chan struct{})
	b.syncMu.Lock()
	b.syncWaiters = append(b.syncWaiters, ch)
	b.syncMu.Unlock()

	if err := b.out.Sync(); err != nil {
		return errors.Wrapf(ErrConnectionLost, "sending sync: %v", err)
	}
	select {
	case <-ch:
		return nil
	case <-b.dead:
		return errors.Wrap(ErrConnectionLost, "waiting for sync echo")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HardwareID returns the hardware version reported at handshake.
func (b *Board) HardwareID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hardwareID
}

// BootloaderID returns the bootloader version reported at handshake.
func (b *Board) BootloaderID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bootloaderID
}

// FirmwareID returns the firmware version reported at handshake.
func (b *Board) FirmwareID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.firmwareID
}

// Capability returns the board's capability table, nil before the
// handshake completes.
func (b *Board) Capability() *Capability {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap
}

func (b *Board) checkConnected() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateConnected:
		return nil
	case stateIncompatible:
		return errors.Wrap(ErrIllegalState, "firmware is incompatible")
	case stateDead:
		return errors.Wrap(ErrConnectionLost, "session is dead")
	default:
		return errors.Wrap(ErrIllegalState, "not connected yet")
	}
}

// fatal moves the session to the dead state, releases every open
// resource with a connection-lost error and wakes all waiters. The
// first call wins; later calls are no-ops.
func (b *Board) fatal() {
	b.deadOnce.Do(func() {
		b.mu.Lock()
		b.state = stateDead
		b.mu.Unlock()

		for _, l := range b.bus.drain() {
			l.dropped(errors.Wrap(ErrConnectionLost, "session terminated"))
		}

		b.syncMu.Lock()
		b.syncWaiters = nil
		b.syncMu.Unlock()

		close(b.dead)
	})
}

// checkPin validates that a pin number exists on the board.
func (b *Board) checkPin(pin int) error {
	if !b.cap.IsValidPin(pin) {
		return errors.Wrapf(ErrIllegalArgument, "pin %d out of range", pin)
	}
	return nil
}
