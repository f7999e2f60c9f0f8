package core

import (
	"log"
	"strings"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// Board implements protocol.Handler. These methods run on the incoming
// dispatcher goroutine and must stay non-blocking. They take
// per-resource, event-bus and resource-manager locks and never the
// outgoing lock; HandleEstablishConnection and HandleConnectionLost also
// take the session mutex briefly to record the handshake result and the
// dead state.

func (b *Board) HandleEstablishConnection(hardwareID, bootloaderID, firmwareID []byte) {
	hw := strings.TrimRight(string(hardwareID), "\x00")
	bl := strings.TrimRight(string(bootloaderID), "\x00")
	fw := strings.TrimRight(string(firmwareID), "\x00")

	b.mu.Lock()
	b.hardwareID, b.bootloaderID, b.firmwareID = hw, bl, fw
	if cap, ok := ResolveCapability(hw); ok {
		b.cap = cap
		b.rm = NewResourceManager(cap)
	}
	b.mu.Unlock()

	b.estOnce.Do(func() { close(b.established) })
}

func (b *Board) HandleConnectionLost() {
	b.fatal()
}

// HandleSoftReset releases every open resource as if closed. The
// descriptors go back to the pools before the waiters wake, so the
// application can reopen immediately.
func (b *Board) HandleSoftReset() {
	listeners := b.bus.drain()
	for _, l := range listeners {
		b.rm.Free(l.descriptors()...)
	}
	cause := errors.Wrap(ErrIllegalState, "resource freed by soft reset")
	for _, l := range listeners {
		l.dropped(cause)
	}
}

func (b *Board) HandleCheckInterfaceResponse(supported bool) {
	select {
	case b.ifaceResp <- supported:
	default:
	}
}

func (b *Board) HandleReportDigitalInStatus(pin int, level bool) {
	if di, ok := b.bus.lookup(ResourcePin, pin).(*DigitalInput); ok {
		di.reportValue(level)
	}
}

func (b *Board) HandleSetChangeNotify(pin int, notify bool) {
	// Echo of our own command; nothing to update.
}

func (b *Board) HandleAnalogPinStatus(pin int, open bool) {
	if ai, ok := b.bus.lookup(ResourcePin, pin).(*AnalogInput); ok {
		ai.setOpen(open)
	}
}

func (b *Board) HandleReportAnalogInValues(pins []int, values []int) {
	for i, pin := range pins {
		if ai, ok := b.bus.lookup(ResourcePin, pin).(*AnalogInput); ok {
			ai.reportValue(values[i])
		}
	}
}

func (b *Board) HandleUartStatus(uartNum int, open bool) {
	if u, ok := b.bus.lookup(ResourceUart, uartNum).(*Uart); ok {
		u.statusChanged(open)
	}
}

func (b *Board) HandleUartData(uartNum int, data []byte) {
	if u, ok := b.bus.lookup(ResourceUart, uartNum).(*Uart); ok {
		u.dataReceived(data)
	}
}

func (b *Board) HandleUartReportTxStatus(uartNum int, bytesRemaining int) {
	if u, ok := b.bus.lookup(ResourceUart, uartNum).(*Uart); ok {
		u.reportTxStatus(bytesRemaining)
	}
}

func (b *Board) HandleSpiStatus(spiNum int, open bool) {
	if s, ok := b.bus.lookup(ResourceSpi, spiNum).(*SpiMaster); ok {
		s.statusChanged(open)
	}
}

func (b *Board) HandleSpiData(spiNum int, ssPin int, data []byte) {
	if s, ok := b.bus.lookup(ResourceSpi, spiNum).(*SpiMaster); ok {
		s.dataReceived(ssPin, data)
	}
}

func (b *Board) HandleSpiReportTxStatus(spiNum int, bytesRemaining int) {
	if s, ok := b.bus.lookup(ResourceSpi, spiNum).(*SpiMaster); ok {
		s.reportTxStatus(bytesRemaining)
	}
}

func (b *Board) HandleI2cStatus(i2cNum int, open bool) {
	if t, ok := b.bus.lookup(ResourceTwi, i2cNum).(*TwiMaster); ok {
		t.statusChanged(open)
	}
}

func (b *Board) HandleI2cResult(i2cNum int, data []byte, aborted bool) {
	if t, ok := b.bus.lookup(ResourceTwi, i2cNum).(*TwiMaster); ok {
		t.resultReceived(data, aborted)
	}
}

func (b *Board) HandleI2cReportTxStatus(i2cNum int, bytesRemaining int) {
	if t, ok := b.bus.lookup(ResourceTwi, i2cNum).(*TwiMaster); ok {
		t.reportTxStatus(bytesRemaining)
	}
}

func (b *Board) HandleIcspConfig(open bool) {
	if i, ok := b.bus.lookup(ResourceIcsp, 0).(*Icsp); ok {
		i.statusChanged(open)
	}
}

func (b *Board) HandleIcspResult(visi uint16) {
	if i, ok := b.bus.lookup(ResourceIcsp, 0).(*Icsp); ok {
		i.resultReceived(visi)
	}
}

func (b *Board) HandleIcspReportRxStatus(bytesRemaining int) {
	if i, ok := b.bus.lookup(ResourceIcsp, 0).(*Icsp); ok {
		i.reportRxStatus(bytesRemaining)
	}
}

func (b *Board) HandleIncapStatus(incapNum int, open bool) {
	if p, ok := b.lookupIncap(incapNum).(*PulseInput); ok {
		p.statusChanged(open)
	}
}

func (b *Board) HandleIncapReport(incapNum int, value uint32) {
	if p, ok := b.lookupIncap(incapNum).(*PulseInput); ok {
		p.reportValue(value)
	}
}

// lookupIncap maps a wire incap module number back to its owner.
// Double-precision modules occupy unit pairs and report as the even
// unit; single modules use the units above the double range.
func (b *Board) lookupIncap(incapNum int) busListener {
	doubles := 2 * b.cap.NumIncapDouble
	if incapNum < doubles {
		return b.bus.lookup(ResourceIncapDouble, incapNum/2)
	}
	return b.bus.lookup(ResourceIncapSingle, incapNum-doubles)
}

func (b *Board) HandleCapSenseReport(pin int, value int) {
	if c, ok := b.bus.lookup(ResourcePin, pin).(*CapSense); ok {
		c.reportValue(value)
	}
}

func (b *Board) HandleSetCapSenseSampling(pin int, enable bool) {
	// Echo of our own command; nothing to update.
}

func (b *Board) HandleSequencerEvent(event protocol.SequencerEvent, arg int) {
	if s, ok := b.bus.lookup(ResourceSequencer, 0).(*Sequencer); ok {
		s.eventReceived(event, arg)
	}
}

func (b *Board) HandleSync() {
	b.syncMu.Lock()
	if len(b.syncWaiters) == 0 {
		b.syncMu.Unlock()
		log.Printf("ioio: unexpected sync echo")
		return
	}
	ch := b.syncWaiters[0]
	b.syncWaiters = b.syncWaiters[1:]
	b.syncMu.Unlock()
	close(ch)
}
