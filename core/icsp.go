package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// Wire cost of the flow-controlled ICSP commands.
const (
	icspSixBytes    = 4
	icspRegoutBytes = 1
)

// Icsp drives the in-circuit serial programming interface over the
// board's dedicated ICSP pin triple. VISI register reads arrive
// asynchronously and are consumed in FIFO order.
type Icsp struct {
	board *Board
	mon   *monitor
	icsp  *Resource
	pins  [3]*Resource

	results     []uint16
	rxAvailable int
	opened      bool
}

// OpenIcsp opens the ICSP module. Only one instance can exist.
func (b *Board) OpenIcsp() (*Icsp, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	i := &Icsp{
		board:       b,
		mon:         newMonitor(),
		icsp:        &Resource{Kind: ResourceIcsp, ID: 0},
		rxAvailable: b.cap.IcspBufferSize,
	}
	resources := []*Resource{i.icsp}
	for n, pin := range b.cap.IcspPins {
		i.pins[n] = &Resource{Kind: ResourcePin, ID: pin}
		resources = append(resources, i.pins[n])
	}
	if err := b.rm.Alloc(resources...); err != nil {
		return nil, err
	}
	b.bus.register(ResourceIcsp, 0, i)

	if err := b.out.IcspOpen(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening icsp: %v", err)
	}
	return i, nil
}

// EnterProgramming puts the target into programming mode.
func (i *Icsp) EnterProgramming() error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.board.out.IcspEnterProg(); err != nil {
		return errors.Wrapf(ErrConnectionLost, "icsp prog enter: %v", err)
	}
	return nil
}

// ExitProgramming takes the target out of programming mode.
func (i *Icsp) ExitProgramming() error {
	if err := i.checkOpen(); err != nil {
		return err
	}
	if err := i.board.out.IcspExitProg(); err != nil {
		return errors.Wrapf(ErrConnectionLost, "icsp prog exit: %v", err)
	}
	return nil
}

// Six executes a 24-bit instruction on the target, blocking while the
// firmware's command buffer is full.
func (i *Icsp) Six(ctx context.Context, instruction uint32) error {
	if err := i.reserve(ctx, icspSixBytes); err != nil {
		return err
	}
	if err := i.board.out.IcspSix(instruction); err != nil {
		return errors.Wrapf(ErrConnectionLost, "icsp six: %v", err)
	}
	return nil
}

// RegOut requests the target's VISI register. The result is read with
// WaitVisi.
func (i *Icsp) RegOut(ctx context.Context) error {
	if err := i.reserve(ctx, icspRegoutBytes); err != nil {
		return err
	}
	if err := i.board.out.IcspRegout(); err != nil {
		return errors.Wrapf(ErrConnectionLost, "icsp regout: %v", err)
	}
	return nil
}

// WaitVisi returns the oldest unread VISI result, blocking until one
// arrives.
func (i *Icsp) WaitVisi(ctx context.Context) (uint16, error) {
	i.mon.lock()
	defer i.mon.unlock()
	for len(i.results) == 0 {
		if i.mon.cause != nil {
			return 0, i.mon.cause
		}
		if err := i.mon.await(ctx); err != nil {
			return 0, err
		}
	}
	visi := i.results[0]
	i.results = i.results[1:]
	return visi, nil
}

// Close shuts the module down and releases the ICSP pins.
func (i *Icsp) Close() error {
	i.mon.lock()
	if i.mon.cause != nil {
		defer i.mon.unlock()
		return i.mon.cause
	}
	i.mon.fail(errors.Wrap(ErrIllegalState, "icsp closed"))
	i.mon.unlock()

	i.board.bus.unregister(ResourceIcsp, 0)
	i.board.out.BeginBatch()
	i.board.out.IcspClose()
	for _, pin := range i.pins {
		i.board.out.SetPinDigitalIn(pin.ID, protocol.PullFloating)
	}
	err := i.board.out.EndBatch()
	i.board.rm.Free(i.descriptors()...)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing icsp: %v", err)
	}
	return nil
}

func (i *Icsp) checkOpen() error {
	i.mon.lock()
	defer i.mon.unlock()
	return i.mon.cause
}

// reserve blocks until the firmware's command buffer has room for n
// bytes, then claims them.
func (i *Icsp) reserve(ctx context.Context, n int) error {
	i.mon.lock()
	defer i.mon.unlock()
	for i.rxAvailable < n {
		if i.mon.cause != nil {
			return i.mon.cause
		}
		if err := i.mon.await(ctx); err != nil {
			return err
		}
	}
	i.rxAvailable -= n
	return nil
}

func (i *Icsp) descriptors() []*Resource {
	return []*Resource{i.icsp, i.pins[0], i.pins[1], i.pins[2]}
}

func (i *Icsp) dropped(cause error) {
	i.mon.lock()
	i.mon.fail(cause)
	i.mon.unlock()
}

func (i *Icsp) statusChanged(open bool) {
	i.mon.lock()
	i.opened = open
	i.mon.broadcast()
	i.mon.unlock()
}

func (i *Icsp) resultReceived(visi uint16) {
	i.mon.lock()
	i.results = append(i.results, visi)
	i.mon.broadcast()
	i.mon.unlock()
}

func (i *Icsp) reportRxStatus(bytesRemaining int) {
	i.mon.lock()
	i.rxAvailable = bytesRemaining
	i.mon.broadcast()
	i.mon.unlock()
}
