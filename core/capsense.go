package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// defaultFilterCoef is the smoothing factor applied to raw cap-sense
// samples; 1 disables filtering.
const defaultFilterCoef = 1.0

// CapSense reads the capacitance of a cap-sense capable pin. Samples
// arrive continuously and pass through an exponential smoothing
// filter.
type CapSense struct {
	board *Board
	mon   *monitor
	pin   *Resource

	coef  float64
	value float64
	valid bool
}

// OpenCapSense configures a cap-sense capable pin for capacitance
// sampling.
func (b *Board) OpenCapSense(pin int) (*CapSense, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := b.checkPin(pin); err != nil {
		return nil, err
	}
	if !b.cap.IsCapSensePin(pin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not cap-sense capable", pin)
	}
	c := &CapSense{
		board: b,
		mon:   newMonitor(),
		pin:   &Resource{Kind: ResourcePin, ID: pin},
		coef:  defaultFilterCoef,
	}
	if err := b.rm.Alloc(c.pin); err != nil {
		return nil, err
	}
	b.bus.register(ResourcePin, pin, c)

	b.out.BeginBatch()
	b.out.SetPinCapSense(pin)
	b.out.SetCapSenseSampling(pin, true)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening cap sense %d: %v", pin, err)
	}
	return c, nil
}

// SetFilterCoef sets the smoothing factor in (0, 1]; smaller values
// smooth harder.
func (c *CapSense) SetFilterCoef(coef float64) error {
	if coef <= 0 || coef > 1 {
		return errors.Wrapf(ErrIllegalArgument, "filter coefficient %g", coef)
	}
	c.mon.lock()
	c.coef = coef
	c.mon.unlock()
	return nil
}

// Read returns the filtered capacitance reading, blocking until the
// first sample arrives.
func (c *CapSense) Read(ctx context.Context) (float64, error) {
	c.mon.lock()
	defer c.mon.unlock()
	for !c.valid {
		if c.mon.cause != nil {
			return 0, c.mon.cause
		}
		if err := c.mon.await(ctx); err != nil {
			return 0, err
		}
	}
	return c.value, nil
}

// WaitOver blocks until the filtered reading exceeds threshold.
func (c *CapSense) WaitOver(ctx context.Context, threshold float64) error {
	c.mon.lock()
	defer c.mon.unlock()
	for !c.valid || c.value <= threshold {
		if c.mon.cause != nil {
			return c.mon.cause
		}
		if err := c.mon.await(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitUnder blocks until the filtered reading drops below threshold.
func (c *CapSense) WaitUnder(ctx context.Context, threshold float64) error {
	c.mon.lock()
	defer c.mon.unlock()
	for !c.valid || c.value >= threshold {
		if c.mon.cause != nil {
			return c.mon.cause
		}
		if err := c.mon.await(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops sampling and releases the pin.
func (c *CapSense) Close() error {
	c.mon.lock()
	if c.mon.cause != nil {
		defer c.mon.unlock()
		return c.mon.cause
	}
	c.mon.fail(errors.Wrap(ErrIllegalState, "cap sense closed"))
	c.mon.unlock()

	c.board.bus.unregister(ResourcePin, c.pin.ID)
	c.board.out.BeginBatch()
	c.board.out.SetCapSenseSampling(c.pin.ID, false)
	c.board.out.SetPinDigitalIn(c.pin.ID, protocol.PullFloating)
	err := c.board.out.EndBatch()
	c.board.rm.Free(c.pin)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing cap sense: %v", err)
	}
	return nil
}

func (c *CapSense) descriptors() []*Resource {
	return []*Resource{c.pin}
}

func (c *CapSense) dropped(cause error) {
	c.mon.lock()
	c.mon.fail(cause)
	c.mon.unlock()
}

func (c *CapSense) reportValue(raw int) {
	c.mon.lock()
	if !c.valid {
		c.value = float64(raw)
		c.valid = true
	} else {
		c.value += c.coef * (float64(raw) - c.value)
	}
	c.mon.broadcast()
	c.mon.unlock()
}
