package core

import (
	"context"
	"math"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// Uart is an open UART module with its bound pins. Reads drain the
// inbound queue fed by the dispatcher; writes are flow-controlled
// against the firmware's TX buffer.
type Uart struct {
	board *Board
	mon   *monitor
	uart  *Resource
	rxPin *Resource // nil when RX is unused
	txPin *Resource // nil when TX is unused

	rxBuf       []byte
	txAvailable int
	opened      bool
}

// OpenUart opens a free UART module. rxPin or txPin may be -1 to leave
// that direction unbound.
func (b *Board) OpenUart(rxPin, txPin int, baud int, parity protocol.Parity, twoStopBits bool) (*Uart, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if rxPin < 0 && txPin < 0 {
		return nil, errors.Wrap(ErrIllegalArgument, "uart needs at least one of rx, tx")
	}
	if rxPin >= 0 {
		if err := b.checkPin(rxPin); err != nil {
			return nil, err
		}
		if !b.cap.IsPeripheralInPin(rxPin) {
			return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-input capable", rxPin)
		}
	}
	if txPin >= 0 {
		if err := b.checkPin(txPin); err != nil {
			return nil, err
		}
		if !b.cap.IsPeripheralOutPin(txPin) {
			return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-output capable", txPin)
		}
	}
	rate, speed4x, err := uartRate(baud)
	if err != nil {
		return nil, err
	}

	u := &Uart{
		board:       b,
		mon:         newMonitor(),
		uart:        &Resource{Kind: ResourceUart, ID: -1},
		txAvailable: b.cap.UartBufferSize,
	}
	resources := []*Resource{u.uart}
	if rxPin >= 0 {
		u.rxPin = &Resource{Kind: ResourcePin, ID: rxPin}
		resources = append(resources, u.rxPin)
	}
	if txPin >= 0 {
		u.txPin = &Resource{Kind: ResourcePin, ID: txPin}
		resources = append(resources, u.txPin)
	}
	if err := b.rm.Alloc(resources...); err != nil {
		return nil, err
	}
	b.bus.register(ResourceUart, u.uart.ID, u)

	b.out.BeginBatch()
	if u.rxPin != nil {
		b.out.SetPinDigitalIn(rxPin, protocol.PullFloating)
		b.out.SetPinUart(rxPin, u.uart.ID, false, true)
	}
	if u.txPin != nil {
		b.out.SetPinDigitalOut(txPin, true, false)
		b.out.SetPinUart(txPin, u.uart.ID, true, true)
	}
	b.out.UartConfig(u.uart.ID, rate, speed4x, twoStopBits, parity)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening uart: %v", err)
	}
	return u, nil
}

// uartRate computes the baud-rate divisor, preferring the 4x clock and
// falling back to 1x when the divisor overflows.
func uartRate(baud int) (uint16, bool, error) {
	if baud <= 0 {
		return 0, false, errors.Wrapf(ErrIllegalArgument, "baud rate %d", baud)
	}
	rate := int(math.Round(4000000/float64(baud))) - 1
	if rate <= 65535 {
		if rate < 1 {
			return 0, false, errors.Wrapf(ErrIllegalArgument, "baud rate %d too high", baud)
		}
		return uint16(rate), true, nil
	}
	rate = int(math.Round(1000000/float64(baud))) - 1
	if rate > 65535 {
		return 0, false, errors.Wrapf(ErrIllegalArgument, "baud rate %d too low", baud)
	}
	return uint16(rate), false, nil
}

// Read copies received bytes into p, blocking until at least one is
// available.
func (u *Uart) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	u.mon.lock()
	defer u.mon.unlock()
	for len(u.rxBuf) == 0 {
		if u.mon.cause != nil {
			return 0, u.mon.cause
		}
		if err := u.mon.await(ctx); err != nil {
			return 0, err
		}
	}
	n := copy(p, u.rxBuf)
	u.rxBuf = u.rxBuf[n:]
	return n, nil
}

// Write sends p over the UART, blocking whenever the firmware's TX
// buffer has no room.
func (u *Uart) Write(ctx context.Context, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		u.mon.lock()
		for u.txAvailable == 0 {
			if u.mon.cause != nil {
				defer u.mon.unlock()
				return written, u.mon.cause
			}
			if err := u.mon.await(ctx); err != nil {
				u.mon.unlock()
				return written, err
			}
		}
		chunk := len(p) - written
		if chunk > u.txAvailable {
			chunk = u.txAvailable
		}
		if chunk > protocol.UartDataMax {
			chunk = protocol.UartDataMax
		}
		u.txAvailable -= chunk
		u.mon.unlock()

		if err := u.board.out.UartData(u.uart.ID, p[written:written+chunk]); err != nil {
			return written, errors.Wrapf(ErrConnectionLost, "uart write: %v", err)
		}
		written += chunk
	}
	return written, nil
}

// Close shuts the module down and returns its pins to floating inputs.
func (u *Uart) Close() error {
	u.mon.lock()
	if u.mon.cause != nil {
		defer u.mon.unlock()
		return u.mon.cause
	}
	u.mon.fail(errors.Wrap(ErrIllegalState, "uart closed"))
	u.mon.unlock()

	u.board.bus.unregister(ResourceUart, u.uart.ID)
	u.board.out.BeginBatch()
	u.board.out.UartClose(u.uart.ID)
	for _, pin := range []*Resource{u.rxPin, u.txPin} {
		if pin != nil {
			u.board.out.SetPinDigitalIn(pin.ID, protocol.PullFloating)
		}
	}
	err := u.board.out.EndBatch()
	u.board.rm.Free(u.descriptors()...)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing uart: %v", err)
	}
	return nil
}

func (u *Uart) descriptors() []*Resource {
	ds := []*Resource{u.uart}
	if u.rxPin != nil {
		ds = append(ds, u.rxPin)
	}
	if u.txPin != nil {
		ds = append(ds, u.txPin)
	}
	return ds
}

func (u *Uart) dropped(cause error) {
	u.mon.lock()
	u.mon.fail(cause)
	u.mon.unlock()
}

func (u *Uart) statusChanged(open bool) {
	u.mon.lock()
	u.opened = open
	u.mon.broadcast()
	u.mon.unlock()
}

func (u *Uart) dataReceived(data []byte) {
	u.mon.lock()
	u.rxBuf = append(u.rxBuf, data...)
	u.mon.broadcast()
	u.mon.unlock()
}

// reportTxStatus replaces the flow-control counter with the firmware's
// report of its remaining TX buffer space.
func (u *Uart) reportTxStatus(bytesRemaining int) {
	u.mon.lock()
	u.txAvailable = bytesRemaining
	u.mon.broadcast()
	u.mon.unlock()
}
