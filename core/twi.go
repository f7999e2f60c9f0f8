package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// twiRequest is one pending write-read transaction awaiting its
// result, matched strictly in FIFO order.
type twiRequest struct {
	data    []byte
	aborted bool
	done    bool
}

// TwiMaster is an open TWI (I2C) master module. The module number
// selects a fixed pin pair from the capability table.
type TwiMaster struct {
	board *Board
	mon   *monitor
	twi   *Resource
	sda   *Resource
	scl   *Resource

	pending     []*twiRequest
	txAvailable int
	opened      bool
}

// OpenTwiMaster opens TWI module twiNum. The caller names the module,
// not its pins; the capability table resolves the pin pair.
func (b *Board) OpenTwiMaster(twiNum int, rate protocol.TwiRate, smbusLevels bool) (*TwiMaster, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if twiNum < 0 || twiNum >= b.cap.NumTwi() {
		return nil, errors.Wrapf(ErrIllegalArgument, "twi module %d out of range", twiNum)
	}
	if rate == 0 {
		rate = protocol.TwiRate100K
	}
	pins := b.cap.TwiPins[twiNum]

	t := &TwiMaster{
		board:       b,
		mon:         newMonitor(),
		twi:         &Resource{Kind: ResourceTwi, ID: twiNum},
		sda:         &Resource{Kind: ResourcePin, ID: pins[0]},
		scl:         &Resource{Kind: ResourcePin, ID: pins[1]},
		txAvailable: b.cap.TwiBufferSize,
	}
	if err := b.rm.Alloc(t.twi, t.sda, t.scl); err != nil {
		return nil, err
	}
	b.bus.register(ResourceTwi, twiNum, t)

	if err := b.out.I2cConfigureMaster(twiNum, rate, smbusLevels); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening twi %d: %v", twiNum, err)
	}
	return t, nil
}

// WriteRead performs a combined write-then-read transaction and
// returns the readSize bytes read from the slave. An aborted
// transaction (NAK or bus fault) fails with a distinct error while the
// module stays usable.
func (t *TwiMaster) WriteRead(ctx context.Context, address int, tenBitAddr bool, write []byte, readSize int) ([]byte, error) {
	maxAddr := 1 << 7
	if tenBitAddr {
		maxAddr = 1 << 10
	}
	if address < 0 || address >= maxAddr {
		return nil, errors.Wrapf(ErrIllegalArgument, "twi address 0x%x", address)
	}
	if len(write) > 255 || readSize > 255 {
		return nil, errors.Wrapf(ErrIllegalArgument, "twi sizes write=%d read=%d", len(write), readSize)
	}

	req := &twiRequest{}
	t.mon.lock()
	for t.txAvailable < len(write) {
		if t.mon.cause != nil {
			defer t.mon.unlock()
			return nil, t.mon.cause
		}
		if err := t.mon.await(ctx); err != nil {
			t.mon.unlock()
			return nil, err
		}
	}
	t.txAvailable -= len(write)
	t.pending = append(t.pending, req)
	t.mon.unlock()

	if err := t.board.out.I2cWriteRead(t.twi.ID, tenBitAddr, address, write, len(write), readSize); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "twi request: %v", err)
	}

	t.mon.lock()
	defer t.mon.unlock()
	for !req.done {
		if t.mon.cause != nil {
			return nil, t.mon.cause
		}
		if err := t.mon.await(ctx); err != nil {
			return nil, err
		}
	}
	if req.aborted {
		return nil, errors.Wrapf(ErrTwiAborted, "address 0x%x", address)
	}
	return req.data, nil
}

// Close shuts the module down and releases its pin pair.
func (t *TwiMaster) Close() error {
	t.mon.lock()
	if t.mon.cause != nil {
		defer t.mon.unlock()
		return t.mon.cause
	}
	t.mon.fail(errors.Wrap(ErrIllegalState, "twi master closed"))
	t.mon.unlock()

	t.board.bus.unregister(ResourceTwi, t.twi.ID)
	err := t.board.out.I2cClose(t.twi.ID)
	t.board.rm.Free(t.twi, t.sda, t.scl)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing twi: %v", err)
	}
	return nil
}

func (t *TwiMaster) descriptors() []*Resource {
	return []*Resource{t.twi, t.sda, t.scl}
}

func (t *TwiMaster) dropped(cause error) {
	t.mon.lock()
	t.mon.fail(cause)
	t.mon.unlock()
}

func (t *TwiMaster) reportTxStatus(bytesRemaining int) {
	t.mon.lock()
	t.txAvailable = bytesRemaining
	t.mon.broadcast()
	t.mon.unlock()
}

func (t *TwiMaster) statusChanged(open bool) {
	t.mon.lock()
	t.opened = open
	t.mon.broadcast()
	t.mon.unlock()
}

// resultReceived completes the transaction at the head of the pending
// queue.
func (t *TwiMaster) resultReceived(data []byte, aborted bool) {
	t.mon.lock()
	defer t.mon.unlock()
	if len(t.pending) == 0 {
		return
	}
	head := t.pending[0]
	t.pending = t.pending[1:]
	head.data = data
	head.aborted = aborted
	head.done = true
	t.mon.broadcast()
}
