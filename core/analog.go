package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// analogMaxValue is the full-scale reading of the 10-bit converter.
const analogMaxValue = 1023

// AnalogInput is an open analog input pin.
type AnalogInput struct {
	board *Board
	mon   *monitor
	pin   *Resource

	value   int
	valid   bool // a sample has arrived
	sampled bool // the pin is in the device's sampling set
}

// OpenAnalogInput configures an analog-capable pin for sampling.
func (b *Board) OpenAnalogInput(pin int) (*AnalogInput, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := b.checkPin(pin); err != nil {
		return nil, err
	}
	if !b.cap.IsAnalogPin(pin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not analog capable", pin)
	}
	a := &AnalogInput{
		board: b,
		mon:   newMonitor(),
		pin:   &Resource{Kind: ResourcePin, ID: pin},
	}
	if err := b.rm.Alloc(a.pin); err != nil {
		return nil, err
	}
	b.bus.register(ResourcePin, pin, a)

	b.out.BeginBatch()
	b.out.SetPinAnalogIn(pin)
	b.out.SetAnalogInSampling(pin, true)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening analog input %d: %v", pin, err)
	}
	return a, nil
}

// ReadRaw returns the last 10-bit sample, blocking until the first one
// arrives.
func (a *AnalogInput) ReadRaw(ctx context.Context) (int, error) {
	a.mon.lock()
	defer a.mon.unlock()
	for !a.valid {
		if a.mon.cause != nil {
			return 0, a.mon.cause
		}
		if err := a.mon.await(ctx); err != nil {
			return 0, err
		}
	}
	return a.value, nil
}

// Read returns the last sample scaled to 0..1.
func (a *AnalogInput) Read(ctx context.Context) (float64, error) {
	raw, err := a.ReadRaw(ctx)
	if err != nil {
		return 0, err
	}
	return float64(raw) / analogMaxValue, nil
}

// Close stops sampling and releases the pin.
func (a *AnalogInput) Close() error {
	a.mon.lock()
	if a.mon.cause != nil {
		defer a.mon.unlock()
		return a.mon.cause
	}
	a.mon.fail(errors.Wrap(ErrIllegalState, "analog input closed"))
	a.mon.unlock()

	a.board.bus.unregister(ResourcePin, a.pin.ID)
	a.board.out.BeginBatch()
	a.board.out.SetAnalogInSampling(a.pin.ID, false)
	a.board.out.SetPinDigitalIn(a.pin.ID, protocol.PullFloating)
	err := a.board.out.EndBatch()
	a.board.rm.Free(a.pin)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing pin %d: %v", a.pin.ID, err)
	}
	return nil
}

func (a *AnalogInput) descriptors() []*Resource {
	return []*Resource{a.pin}
}

func (a *AnalogInput) dropped(cause error) {
	a.mon.lock()
	a.mon.fail(cause)
	a.mon.unlock()
}

// setOpen tracks the pin's membership in the device's sampling set,
// inferred from format reports.
func (a *AnalogInput) setOpen(open bool) {
	a.mon.lock()
	a.sampled = open
	a.mon.broadcast()
	a.mon.unlock()
}

func (a *AnalogInput) reportValue(value int) {
	a.mon.lock()
	a.value = value
	a.valid = true
	a.mon.broadcast()
	a.mon.unlock()
}
