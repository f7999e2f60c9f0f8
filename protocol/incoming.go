package protocol

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// Handler receives decoded incoming events. Implementations must not
// block: the single reader goroutine calls these methods inline, and a
// stalled handler stalls the whole incoming side.
type Handler interface {
	// HandleEstablishConnection delivers the three 8-byte version ids
	// sent by the device right after the link comes up.
	HandleEstablishConnection(hardwareID, bootloaderID, firmwareID []byte)
	// HandleConnectionLost is the last call made by the reader loop,
	// on orderly shutdown and on failure alike.
	HandleConnectionLost()
	HandleSoftReset()
	HandleCheckInterfaceResponse(supported bool)

	HandleReportDigitalInStatus(pin int, level bool)
	HandleSetChangeNotify(pin int, notify bool)
	// HandleAnalogPinStatus reports a pin entering or leaving the
	// analog sampling set.
	HandleAnalogPinStatus(pin int, open bool)
	HandleReportAnalogInValues(pins []int, values []int)

	HandleUartStatus(uartNum int, open bool)
	HandleUartData(uartNum int, data []byte)
	HandleUartReportTxStatus(uartNum int, bytesRemaining int)

	HandleSpiStatus(spiNum int, open bool)
	HandleSpiData(spiNum int, ssPin int, data []byte)
	HandleSpiReportTxStatus(spiNum int, bytesRemaining int)

	HandleI2cStatus(i2cNum int, open bool)
	// HandleI2cResult completes the oldest pending transaction on the
	// module. aborted reports a NAK'd or otherwise failed transaction;
	// data is nil in that case.
	HandleI2cResult(i2cNum int, data []byte, aborted bool)
	HandleI2cReportTxStatus(i2cNum int, bytesRemaining int)

	HandleIcspConfig(open bool)
	HandleIcspResult(visi uint16)
	HandleIcspReportRxStatus(bytesRemaining int)

	HandleIncapStatus(incapNum int, open bool)
	HandleIncapReport(incapNum int, value uint32)

	HandleCapSenseReport(pin int, value int)
	HandleSetCapSenseSampling(pin int, enable bool)

	// HandleSequencerEvent delivers a sequencer event. arg carries the
	// number of available cue slots for the opened and stopped events
	// and is zero otherwise.
	HandleSequencerEvent(event SequencerEvent, arg int)

	HandleSync()
}

// Incoming is the single reader of the transport's receive side. It
// parses events and fans them out to the handler. Exactly one goroutine
// runs Run; nothing else may read the transport.
type Incoming struct {
	r       *bufio.Reader
	handler Handler

	// Pins currently reported in the analog sampling set, in device
	// order. REPORT_ANALOG_IN_STATUS frames are decoded against this
	// list; REPORT_ANALOG_IN_FORMAT replaces it.
	analogPins []int
}

// NewIncoming creates an incoming parser reading from r.
func NewIncoming(r io.Reader, handler Handler) *Incoming {
	return &Incoming{r: bufio.NewReader(r), handler: handler}
}

// Run reads and dispatches events until the stream ends or a protocol
// fault occurs. It always signals HandleConnectionLost before
// returning. A nil return means orderly shutdown (EOF or SOFT_CLOSE
// from the device); anything else poisons the session.
func (in *Incoming) Run() error {
	defer in.handler.HandleConnectionLost()
	for {
		op, err := in.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "reading opcode")
		}
		orderly, err := in.dispatch(op)
		if err != nil {
			return err
		}
		if orderly {
			return nil
		}
	}
}

func (in *Incoming) dispatch(op byte) (orderly bool, err error) {
	switch op {
	case inEstablishConnection:
		err = in.handleEstablishConnection()
	case inSoftReset:
		in.analogPins = nil
		in.handler.HandleSoftReset()
	case inCheckInterfaceResponse:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleCheckInterfaceResponse(b&0x01 != 0)
		}
	case inReportDigitalInStatus:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleReportDigitalInStatus(int(b>>2), b&0x01 != 0)
		}
	case inReportPeriodicDigitalIn:
		// Reserved by the firmware; carries no payload.
	case inSetChangeNotify:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleSetChangeNotify(int(b>>2), b&0x01 != 0)
		}
	case inReportAnalogInStatus:
		err = in.handleReportAnalogInStatus()
	case inReportAnalogInFormat:
		err = in.handleReportAnalogInFormat()
	case inUartStatus:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleUartStatus(int(b&0x03), b&0x80 != 0)
		}
	case inUartData:
		var b byte
		if b, err = in.readByte(); err != nil {
			break
		}
		var data []byte
		if data, err = in.readBytes(int(b&0x3F) + 1); err == nil {
			in.handler.HandleUartData(int(b>>6), data)
		}
	case inUartReportTxStatus:
		err = in.handleTxStatus(in.handler.HandleUartReportTxStatus)
	case inSpiStatus:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleSpiStatus(int(b&0x03), b&0x80 != 0)
		}
	case inSpiData:
		var b1, b2 byte
		if b1, err = in.readByte(); err != nil {
			break
		}
		if b2, err = in.readByte(); err != nil {
			break
		}
		var data []byte
		if data, err = in.readBytes(int(b1&0x3F) + 1); err == nil {
			in.handler.HandleSpiData(int(b1>>6), int(b2&0x3F), data)
		}
	case inSpiReportTxStatus:
		err = in.handleTxStatus(in.handler.HandleSpiReportTxStatus)
	case inI2cStatus:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleI2cStatus(int(b&0x03), b&0x80 != 0)
		}
	case inI2cResult:
		err = in.handleI2cResult()
	case inI2cReportTxStatus:
		err = in.handleTxStatus(in.handler.HandleI2cReportTxStatus)
	case inIcspReportRxStatus:
		var b1, b2 byte
		if b1, err = in.readByte(); err != nil {
			break
		}
		if b2, err = in.readByte(); err == nil {
			in.handler.HandleIcspReportRxStatus(int(b1) | int(b2)<<8)
		}
	case inIcspResult:
		var b1, b2 byte
		if b1, err = in.readByte(); err != nil {
			break
		}
		if b2, err = in.readByte(); err == nil {
			in.handler.HandleIcspResult(uint16(b1) | uint16(b2)<<8)
		}
	case inIcspConfig:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleIcspConfig(b&0x01 != 0)
		}
	case inIncapStatus:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleIncapStatus(int(b&0x7F), b&0x80 != 0)
		}
	case inIncapReport:
		err = in.handleIncapReport()
	case inSoftClose:
		// The device acknowledged shutdown; treat like EOF.
		return true, nil
	case inCapSenseReport:
		var b1, b2 byte
		if b1, err = in.readByte(); err != nil {
			break
		}
		if b2, err = in.readByte(); err == nil {
			in.handler.HandleCapSenseReport(int(b1&0x3F), int(b1>>6)|int(b2)<<2)
		}
	case inSetCapSenseSampling:
		var b byte
		if b, err = in.readByte(); err == nil {
			in.handler.HandleSetCapSenseSampling(int(b&0x3F), b&0x80 != 0)
		}
	case inSequencerEvent:
		err = in.handleSequencerEvent()
	case inSync:
		in.handler.HandleSync()
	default:
		return false, errors.Errorf("unknown incoming opcode 0x%02x", op)
	}
	return false, err
}

func (in *Incoming) handleEstablishConnection() error {
	magic, err := in.readBytes(len(ConnectionMagic))
	if err != nil {
		return err
	}
	for i, b := range magic {
		if b != ConnectionMagic[i] {
			return errors.Errorf("bad establish-connection magic % x", magic)
		}
	}
	hw, err := in.readBytes(8)
	if err != nil {
		return err
	}
	bl, err := in.readBytes(8)
	if err != nil {
		return err
	}
	fw, err := in.readBytes(8)
	if err != nil {
		return err
	}
	in.handler.HandleEstablishConnection(hw, bl, fw)
	return nil
}

// handleReportAnalogInStatus decodes one 10-bit sample per tracked pin.
// The two low bits of each sample are packed into a shared header byte
// that precedes every group of four pins; the high eight bits follow
// per pin.
func (in *Incoming) handleReportAnalogInStatus() error {
	var header byte
	values := make([]int, len(in.analogPins))
	for i := range in.analogPins {
		if i%4 == 0 {
			b, err := in.readByte()
			if err != nil {
				return err
			}
			header = b
		}
		b, err := in.readByte()
		if err != nil {
			return err
		}
		values[i] = int(header>>(2*(i%4)))&0x03 | int(b)<<2
	}
	pins := make([]int, len(in.analogPins))
	copy(pins, in.analogPins)
	in.handler.HandleReportAnalogInValues(pins, values)
	return nil
}

// handleReportAnalogInFormat replaces the tracked analog pin list. The
// firmware only reports the new membership, so per-pin open and close
// events are inferred from the symmetric difference: removals first,
// then additions.
func (in *Incoming) handleReportAnalogInFormat() error {
	count, err := in.readByte()
	if err != nil {
		return err
	}
	fresh := make([]int, count)
	for i := range fresh {
		b, err := in.readByte()
		if err != nil {
			return err
		}
		fresh[i] = int(b)
	}
	for _, pin := range in.analogPins {
		if !containsPin(fresh, pin) {
			in.handler.HandleAnalogPinStatus(pin, false)
		}
	}
	for _, pin := range fresh {
		if !containsPin(in.analogPins, pin) {
			in.handler.HandleAnalogPinStatus(pin, true)
		}
	}
	in.analogPins = fresh
	return nil
}

func containsPin(pins []int, pin int) bool {
	for _, p := range pins {
		if p == pin {
			return true
		}
	}
	return false
}

// handleTxStatus decodes the shared report format: module id in the low
// two bits of the first byte, a 10-bit remaining-buffer count in the
// rest.
func (in *Incoming) handleTxStatus(deliver func(num, bytesRemaining int)) error {
	b1, err := in.readByte()
	if err != nil {
		return err
	}
	b2, err := in.readByte()
	if err != nil {
		return err
	}
	deliver(int(b1&0x03), int(b1>>2)|int(b2)<<6)
	return nil
}

func (in *Incoming) handleI2cResult() error {
	b1, err := in.readByte()
	if err != nil {
		return err
	}
	size, err := in.readByte()
	if err != nil {
		return err
	}
	if size == 0xFF {
		// Transaction aborted (NAK or bus fault).
		in.handler.HandleI2cResult(int(b1&0x03), nil, true)
		return nil
	}
	data, err := in.readBytes(int(size))
	if err != nil {
		return err
	}
	in.handler.HandleI2cResult(int(b1&0x03), data, false)
	return nil
}

func (in *Incoming) handleIncapReport() error {
	b, err := in.readByte()
	if err != nil {
		return err
	}
	size := int(b >> 6)
	if size == 0 {
		size = 4
	}
	raw, err := in.readBytes(size)
	if err != nil {
		return err
	}
	var value uint32
	for i := size - 1; i >= 0; i-- {
		value = value<<8 | uint32(raw[i])
	}
	in.handler.HandleIncapReport(int(b&0x3F), value)
	return nil
}

func (in *Incoming) handleSequencerEvent() error {
	b, err := in.readByte()
	if err != nil {
		return err
	}
	event := SequencerEvent(b)
	if event > SequencerEventClosed {
		return errors.Errorf("unknown sequencer event %d", b)
	}
	arg := 0
	if event == SequencerEventOpened || event == SequencerEventStopped {
		slots, err := in.readByte()
		if err != nil {
			return err
		}
		arg = int(slots)
	}
	in.handler.HandleSequencerEvent(event, arg)
	return nil
}

func (in *Incoming) readByte() (byte, error) {
	b, err := in.r.ReadByte()
	if err != nil {
		return 0, errors.Wrap(err, "reading event payload")
	}
	return b, nil
}

func (in *Incoming) readBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(in.r, buf); err != nil {
		return nil, errors.Wrap(err, "reading event payload")
	}
	return buf, nil
}
