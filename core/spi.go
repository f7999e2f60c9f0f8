package core

import (
	"context"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// spiTotalMax is the largest number of clocked bytes in one SPI
// transaction; the wire encodes total-1 in six bits.
const spiTotalMax = 64

// SpiConfig carries the optional SPI clock settings.
type SpiConfig struct {
	Rate protocol.SpiRate
	// SampleOnTrailing samples MISO on the trailing clock edge.
	SampleOnTrailing bool
	// InvertClk makes the clock idle high.
	InvertClk bool
}

// spiRequest is one pending transaction awaiting its response, matched
// strictly in FIFO order.
type spiRequest struct {
	readSize int
	data     []byte
	done     bool
}

// SpiMaster is an open SPI master module with its bound pins.
type SpiMaster struct {
	board  *Board
	mon    *monitor
	spi    *Resource
	miso   *Resource
	mosi   *Resource
	clk    *Resource
	ssPins []*Resource

	pending     []*spiRequest
	txAvailable int
	opened      bool
}

// OpenSpiMaster opens a free SPI module over the given pins.
// slaveSelectPins are indexed by the slave argument of WriteRead.
func (b *Board) OpenSpiMaster(misoPin, mosiPin, clkPin int, slaveSelectPins []int, config SpiConfig) (*SpiMaster, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	for _, pin := range append([]int{misoPin, mosiPin, clkPin}, slaveSelectPins...) {
		if err := b.checkPin(pin); err != nil {
			return nil, err
		}
	}
	if !b.cap.IsPeripheralInPin(misoPin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-input capable", misoPin)
	}
	if !b.cap.IsPeripheralOutPin(mosiPin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-output capable", mosiPin)
	}
	if !b.cap.IsPeripheralOutPin(clkPin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-output capable", clkPin)
	}
	if len(slaveSelectPins) == 0 {
		return nil, errors.Wrap(ErrIllegalArgument, "spi needs at least one slave select pin")
	}
	if config.Rate == 0 {
		config.Rate = protocol.SpiRate125K
	}

	s := &SpiMaster{
		board:       b,
		mon:         newMonitor(),
		spi:         &Resource{Kind: ResourceSpi, ID: -1},
		miso:        &Resource{Kind: ResourcePin, ID: misoPin},
		mosi:        &Resource{Kind: ResourcePin, ID: mosiPin},
		clk:         &Resource{Kind: ResourcePin, ID: clkPin},
		txAvailable: b.cap.SpiBufferSize,
	}
	resources := []*Resource{s.spi, s.miso, s.mosi, s.clk}
	for _, pin := range slaveSelectPins {
		r := &Resource{Kind: ResourcePin, ID: pin}
		s.ssPins = append(s.ssPins, r)
		resources = append(resources, r)
	}
	if err := b.rm.Alloc(resources...); err != nil {
		return nil, err
	}
	b.bus.register(ResourceSpi, s.spi.ID, s)

	b.out.BeginBatch()
	b.out.SetPinDigitalIn(misoPin, protocol.PullFloating)
	b.out.SetPinSpi(misoPin, protocol.SpiPinMiso, true, s.spi.ID)
	b.out.SetPinDigitalOut(mosiPin, true, false)
	b.out.SetPinSpi(mosiPin, protocol.SpiPinMosi, true, s.spi.ID)
	b.out.SetPinDigitalOut(clkPin, config.InvertClk, false)
	b.out.SetPinSpi(clkPin, protocol.SpiPinClk, true, s.spi.ID)
	for _, ss := range s.ssPins {
		b.out.SetPinDigitalOut(ss.ID, true, false)
	}
	b.out.SpiConfigureMaster(s.spi.ID, config.Rate, config.SampleOnTrailing, config.InvertClk)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening spi: %v", err)
	}
	return s, nil
}

// WriteRead performs one full-duplex transaction against the slave
// with the given index: totalSize bytes are clocked, the first
// writeSize coming from write (the rest as padding), and the last
// len(read) bytes of the slave's response are copied into read.
func (s *SpiMaster) WriteRead(ctx context.Context, slave int, write []byte, writeSize, totalSize int, read []byte) error {
	if slave < 0 || slave >= len(s.ssPins) {
		return errors.Wrapf(ErrIllegalArgument, "slave index %d", slave)
	}
	readSize := len(read)
	if totalSize < 1 || totalSize > spiTotalMax {
		return errors.Wrapf(ErrIllegalArgument, "spi total size %d not in 1..%d", totalSize, spiTotalMax)
	}
	if writeSize > totalSize || readSize > totalSize || writeSize > len(write) {
		return errors.Wrapf(ErrIllegalArgument, "spi sizes write=%d read=%d total=%d", writeSize, readSize, totalSize)
	}

	var req *spiRequest
	s.mon.lock()
	for s.txAvailable < totalSize {
		if s.mon.cause != nil {
			defer s.mon.unlock()
			return s.mon.cause
		}
		if err := s.mon.await(ctx); err != nil {
			s.mon.unlock()
			return err
		}
	}
	s.txAvailable -= totalSize
	if readSize > 0 {
		req = &spiRequest{readSize: readSize}
		s.pending = append(s.pending, req)
	}
	s.mon.unlock()

	if err := s.board.out.SpiMasterRequest(s.spi.ID, s.ssPins[slave].ID, write, writeSize, totalSize, readSize); err != nil {
		return errors.Wrapf(ErrConnectionLost, "spi request: %v", err)
	}
	if req == nil {
		return nil
	}

	s.mon.lock()
	defer s.mon.unlock()
	for !req.done {
		if s.mon.cause != nil {
			return s.mon.cause
		}
		if err := s.mon.await(ctx); err != nil {
			return err
		}
	}
	copy(read, req.data)
	return nil
}

// Close shuts the module down and returns all pins to floating inputs.
func (s *SpiMaster) Close() error {
	s.mon.lock()
	if s.mon.cause != nil {
		defer s.mon.unlock()
		return s.mon.cause
	}
	s.mon.fail(errors.Wrap(ErrIllegalState, "spi master closed"))
	s.mon.unlock()

	s.board.bus.unregister(ResourceSpi, s.spi.ID)
	s.board.out.BeginBatch()
	s.board.out.SpiClose(s.spi.ID)
	for _, r := range s.descriptors() {
		if r.Kind == ResourcePin {
			s.board.out.SetPinDigitalIn(r.ID, protocol.PullFloating)
		}
	}
	err := s.board.out.EndBatch()
	s.board.rm.Free(s.descriptors()...)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing spi: %v", err)
	}
	return nil
}

func (s *SpiMaster) descriptors() []*Resource {
	ds := []*Resource{s.spi, s.miso, s.mosi, s.clk}
	return append(ds, s.ssPins...)
}

func (s *SpiMaster) dropped(cause error) {
	s.mon.lock()
	s.mon.fail(cause)
	s.mon.unlock()
}

func (s *SpiMaster) statusChanged(open bool) {
	s.mon.lock()
	s.opened = open
	s.mon.broadcast()
	s.mon.unlock()
}

// dataReceived feeds response bytes to the request at the head of the
// pending queue; responses match requests strictly in FIFO order.
func (s *SpiMaster) dataReceived(ssPin int, data []byte) {
	s.mon.lock()
	defer s.mon.unlock()
	if len(s.pending) == 0 {
		return
	}
	head := s.pending[0]
	head.data = append(head.data, data...)
	if len(head.data) >= head.readSize {
		head.done = true
		s.pending = s.pending[1:]
		s.mon.broadcast()
	}
}

func (s *SpiMaster) reportTxStatus(bytesRemaining int) {
	s.mon.lock()
	s.txAvailable = bytesRemaining
	s.mon.broadcast()
	s.mon.unlock()
}
