package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// pulseQueueMax bounds the backlog of unread pulse reports; the oldest
// are dropped first.
const pulseQueueMax = 32

// PulseInput measures pulse widths or periods on a pin through an
// input-capture module.
type PulseInput struct {
	board  *Board
	mon    *monitor
	module *Resource
	pin    *Resource

	wireNum int
	mode    protocol.IncapMode
	clock   protocol.IncapClock
	double  bool

	lastValue uint32
	valid     bool
	queue     []uint32
	opened    bool
}

// OpenPulseInput binds a peripheral-input pin to a free input-capture
// module. doublePrecision claims a unit pair for 32-bit captures.
func (b *Board) OpenPulseInput(pin int, mode protocol.IncapMode, clock protocol.IncapClock, doublePrecision bool) (*PulseInput, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := b.checkPin(pin); err != nil {
		return nil, err
	}
	if !b.cap.IsPeripheralInPin(pin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-input capable", pin)
	}
	if mode < protocol.IncapModePositive || mode > protocol.IncapModeFreq16x {
		return nil, errors.Wrapf(ErrIllegalArgument, "incap mode %d", mode)
	}

	kind := ResourceIncapSingle
	if doublePrecision {
		kind = ResourceIncapDouble
	}
	p := &PulseInput{
		board:  b,
		mon:    newMonitor(),
		module: &Resource{Kind: kind, ID: -1},
		pin:    &Resource{Kind: ResourcePin, ID: pin},
		mode:   mode,
		clock:  clock,
		double: doublePrecision,
	}
	if err := b.rm.Alloc(p.module, p.pin); err != nil {
		return nil, err
	}
	// Double modules pair adjacent capture units and report as the
	// even unit; singles use the units above the double range.
	if doublePrecision {
		p.wireNum = 2 * p.module.ID
	} else {
		p.wireNum = 2*b.cap.NumIncapDouble + p.module.ID
	}
	b.bus.register(kind, p.module.ID, p)

	b.out.BeginBatch()
	b.out.SetPinDigitalIn(pin, protocol.PullFloating)
	b.out.SetPinIncap(pin, p.wireNum, true)
	b.out.IncapConfigure(p.wireNum, doublePrecision, mode, clock)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening pulse input %d: %v", pin, err)
	}
	return p, nil
}

// modeDivisor is the number of measured periods folded into one
// capture value.
func (p *PulseInput) modeDivisor() float64 {
	switch p.mode {
	case protocol.IncapModeFreq4x:
		return 4
	case protocol.IncapModeFreq16x:
		return 16
	default:
		return 1
	}
}

// Duration returns the last measured pulse or period in seconds,
// blocking until the first capture arrives.
func (p *PulseInput) Duration(ctx context.Context) (float64, error) {
	p.mon.lock()
	defer p.mon.unlock()
	for !p.valid {
		if p.mon.cause != nil {
			return 0, p.mon.cause
		}
		if err := p.mon.await(ctx); err != nil {
			return 0, err
		}
	}
	return float64(p.lastValue) / (p.clock.Hertz() * p.modeDivisor()), nil
}

// Frequency returns the inverse of the last measured period.
func (p *PulseInput) Frequency(ctx context.Context) (float64, error) {
	d, err := p.Duration(ctx)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return 0, errors.Wrap(ErrIllegalState, "zero-length capture")
	}
	return 1 / d, nil
}

// WaitPulse blocks for the next capture and returns its duration in
// seconds.
func (p *PulseInput) WaitPulse(ctx context.Context) (float64, error) {
	p.mon.lock()
	defer p.mon.unlock()
	for len(p.queue) == 0 {
		if p.mon.cause != nil {
			return 0, p.mon.cause
		}
		if err := p.mon.await(ctx); err != nil {
			return 0, err
		}
	}
	value := p.queue[0]
	p.queue = p.queue[1:]
	return float64(value) / (p.clock.Hertz() * p.modeDivisor()), nil
}

// Close shuts the capture module down and releases the pin.
func (p *PulseInput) Close() error {
	p.mon.lock()
	if p.mon.cause != nil {
		defer p.mon.unlock()
		return p.mon.cause
	}
	p.mon.fail(errors.Wrap(ErrIllegalState, "pulse input closed"))
	p.mon.unlock()

	p.board.bus.unregister(p.module.Kind, p.module.ID)
	p.board.out.BeginBatch()
	p.board.out.IncapClose(p.wireNum, p.double)
	p.board.out.SetPinDigitalIn(p.pin.ID, protocol.PullFloating)
	err := p.board.out.EndBatch()
	p.board.rm.Free(p.module, p.pin)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing pulse input: %v", err)
	}
	return nil
}

func (p *PulseInput) descriptors() []*Resource {
	return []*Resource{p.module, p.pin}
}

func (p *PulseInput) dropped(cause error) {
	p.mon.lock()
	p.mon.fail(cause)
	p.mon.unlock()
}

func (p *PulseInput) statusChanged(open bool) {
	p.mon.lock()
	p.opened = open
	p.mon.broadcast()
	p.mon.unlock()
}

func (p *PulseInput) reportValue(value uint32) {
	p.mon.lock()
	p.lastValue = value
	p.valid = true
	if len(p.queue) == pulseQueueMax {
		p.queue = p.queue[1:]
	}
	p.queue = append(p.queue, value)
	p.mon.broadcast()
	p.mon.unlock()
}
