package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// Pull re-exports the digital input pull modes for callers that do not
// import the protocol package.
const (
	PullFloating = protocol.PullFloating
	PullUp       = protocol.PullUp
	PullDown     = protocol.PullDown
)

// DigitalOutput is an open digital output pin.
type DigitalOutput struct {
	board *Board
	mon   *monitor
	pin   *Resource
}

// OpenDigitalOutput configures a pin as a push-pull or open-drain
// output with an initial level.
func (b *Board) OpenDigitalOutput(pin int, value bool, openDrain bool) (*DigitalOutput, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := b.checkPin(pin); err != nil {
		return nil, err
	}
	d := &DigitalOutput{
		board: b,
		mon:   newMonitor(),
		pin:   &Resource{Kind: ResourcePin, ID: pin},
	}
	if err := b.rm.Alloc(d.pin); err != nil {
		return nil, err
	}
	b.bus.register(ResourcePin, pin, d)
	if err := b.out.SetPinDigitalOut(pin, value, openDrain); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening digital output %d: %v", pin, err)
	}
	return d, nil
}

// Write sets the pin level.
func (d *DigitalOutput) Write(value bool) error {
	d.mon.lock()
	if d.mon.cause != nil {
		defer d.mon.unlock()
		return d.mon.cause
	}
	d.mon.unlock()
	if err := d.board.out.SetDigitalOutLevel(d.pin.ID, value); err != nil {
		return errors.Wrapf(ErrConnectionLost, "writing pin %d: %v", d.pin.ID, err)
	}
	return nil
}

// Close returns the pin to a floating input and releases it.
func (d *DigitalOutput) Close() error {
	d.mon.lock()
	if d.mon.cause != nil {
		defer d.mon.unlock()
		return d.mon.cause
	}
	d.mon.fail(errors.Wrap(ErrIllegalState, "digital output closed"))
	d.mon.unlock()

	d.board.bus.unregister(ResourcePin, d.pin.ID)
	err := d.board.out.SetPinDigitalIn(d.pin.ID, protocol.PullFloating)
	d.board.rm.Free(d.pin)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing pin %d: %v", d.pin.ID, err)
	}
	return nil
}

func (d *DigitalOutput) descriptors() []*Resource {
	return []*Resource{d.pin}
}

func (d *DigitalOutput) dropped(cause error) {
	d.mon.lock()
	d.mon.fail(cause)
	d.mon.unlock()
}

// DigitalInput is an open digital input pin with change notification.
type DigitalInput struct {
	board *Board
	mon   *monitor
	pin   *Resource

	value bool
	valid bool // an initial sample has arrived
}

// OpenDigitalInput configures a pin as a digital input and subscribes
// to its change notifications.
func (b *Board) OpenDigitalInput(pin int, pull protocol.Pull) (*DigitalInput, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := b.checkPin(pin); err != nil {
		return nil, err
	}
	d := &DigitalInput{
		board: b,
		mon:   newMonitor(),
		pin:   &Resource{Kind: ResourcePin, ID: pin},
	}
	if err := b.rm.Alloc(d.pin); err != nil {
		return nil, err
	}
	b.bus.register(ResourcePin, pin, d)

	b.out.BeginBatch()
	b.out.SetPinDigitalIn(pin, pull)
	b.out.SetChangeNotify(pin, true)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening digital input %d: %v", pin, err)
	}
	return d, nil
}

// Read returns the pin level, blocking until the first sample arrives.
func (d *DigitalInput) Read(ctx context.Context) (bool, error) {
	d.mon.lock()
	defer d.mon.unlock()
	for !d.valid {
		if d.mon.cause != nil {
			return false, d.mon.cause
		}
		if err := d.mon.await(ctx); err != nil {
			return false, err
		}
	}
	return d.value, nil
}

// WaitForValue blocks until the pin reads the given level.
func (d *DigitalInput) WaitForValue(ctx context.Context, value bool) error {
	d.mon.lock()
	defer d.mon.unlock()
	for !d.valid || d.value != value {
		if d.mon.cause != nil {
			return d.mon.cause
		}
		if err := d.mon.await(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close unsubscribes from change notifications and releases the pin.
func (d *DigitalInput) Close() error {
	d.mon.lock()
	if d.mon.cause != nil {
		defer d.mon.unlock()
		return d.mon.cause
	}
	d.mon.fail(errors.Wrap(ErrIllegalState, "digital input closed"))
	d.mon.unlock()

	d.board.bus.unregister(ResourcePin, d.pin.ID)
	d.board.out.BeginBatch()
	d.board.out.SetChangeNotify(d.pin.ID, false)
	d.board.out.SetPinDigitalIn(d.pin.ID, protocol.PullFloating)
	err := d.board.out.EndBatch()
	d.board.rm.Free(d.pin)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing pin %d: %v", d.pin.ID, err)
	}
	return nil
}

func (d *DigitalInput) descriptors() []*Resource {
	return []*Resource{d.pin}
}

func (d *DigitalInput) dropped(cause error) {
	d.mon.lock()
	d.mon.fail(cause)
	d.mon.unlock()
}

// reportValue runs on the dispatcher goroutine.
func (d *DigitalInput) reportValue(level bool) {
	d.mon.lock()
	d.value = level
	d.valid = true
	d.mon.broadcast()
	d.mon.unlock()
}
