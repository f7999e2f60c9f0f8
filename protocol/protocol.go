// Package protocol implements the IOIO wire protocol: the outgoing
// command channel and the incoming event parser.
//
// The protocol is byte oriented. Multi-byte integers are little-endian.
// Several opcode values are shared between directions with different
// semantics; the two directions therefore use separate constant tables
// and must never be mixed.
package protocol

// InterfaceID is the protocol interface identifier sent with
// CHECK_INTERFACE. The firmware accepts the connection only if it
// implements this exact interface.
var InterfaceID = [8]byte{'I', 'O', 'I', 'O', '0', '0', '0', '5'}

// ConnectionMagic opens ESTABLISH_CONNECTION and HARD_RESET frames.
var ConnectionMagic = [4]byte{'I', 'O', 'I', 'O'}

// Outgoing opcodes (host to device).
const (
	outHardReset                = 0x00
	outSoftReset                = 0x01
	outCheckInterface           = 0x02
	outSetPinDigitalOut         = 0x03
	outSetDigitalOutLevel       = 0x04
	outSetPinDigitalIn          = 0x05
	outSetChangeNotify          = 0x06
	outRegisterPeriodicSampling = 0x07 // reserved, no encoder
	outSetPinPwm                = 0x08
	outSetPwmDutyCycle          = 0x09
	outSetPwmPeriod             = 0x0A
	outSetPinAnalogIn           = 0x0B
	outSetAnalogInSampling      = 0x0C
	outUartConfig               = 0x0D
	outUartData                 = 0x0E
	outSetPinUart               = 0x0F
	outSpiConfigureMaster       = 0x10
	outSpiMasterRequest         = 0x11
	outSetPinSpi                = 0x12
	outI2cConfigureMaster       = 0x13
	outI2cWriteRead             = 0x14
	outIcspSix                  = 0x16
	outIcspRegout               = 0x17
	outIcspProgEnter            = 0x18
	outIcspProgExit             = 0x19
	outIcspConfig               = 0x1A
	outIncapConfigure           = 0x1B
	outSetPinIncap              = 0x1C
	outSoftClose                = 0x1D
	outSetPinCapSense           = 0x1E
	outSetCapSenseSampling      = 0x1F
	outSequencerConfigure       = 0x20
	outSequencerPush            = 0x21
	outSequencerControl         = 0x22
	outSync                     = 0x23
)

// Incoming opcodes (device to host). Values overlap the outgoing table
// but the semantics differ per direction.
const (
	inEstablishConnection     = 0x00
	inSoftReset               = 0x01
	inCheckInterfaceResponse  = 0x02
	inReportDigitalInStatus   = 0x04
	inReportPeriodicDigitalIn = 0x05 // reserved, empty payload
	inSetChangeNotify         = 0x06
	inReportAnalogInStatus    = 0x0B
	inReportAnalogInFormat    = 0x0C
	inUartStatus              = 0x0D
	inUartData                = 0x0E
	inUartReportTxStatus      = 0x0F
	inSpiStatus               = 0x10
	inSpiData                 = 0x11
	inSpiReportTxStatus       = 0x12
	inI2cStatus               = 0x13
	inI2cResult               = 0x14
	inI2cReportTxStatus       = 0x15
	inIcspReportRxStatus      = 0x16
	inIcspResult              = 0x17
	inIcspConfig              = 0x1A
	inIncapStatus             = 0x1B
	inIncapReport             = 0x1C
	inSoftClose               = 0x1D
	inCapSenseReport          = 0x1E
	inSetCapSenseSampling     = 0x1F
	inSequencerEvent          = 0x20
	inSync                    = 0x23
)

// Pull selects the input resistor configuration of a digital input pin.
type Pull int

const (
	PullFloating Pull = 0
	PullUp       Pull = 1
	PullDown     Pull = 2
)

// Parity selects UART parity.
type Parity int

const (
	ParityNone Parity = 0
	ParityEven Parity = 1
	ParityOdd  Parity = 2
)

// PwmScale is the PWM clock prescaler. The wire encoding is not the
// divider itself: 1x->0, 8x->3, 64x->2, 256x->1.
type PwmScale int

const (
	PwmScale1   PwmScale = 0
	PwmScale8   PwmScale = 3
	PwmScale64  PwmScale = 2
	PwmScale256 PwmScale = 1
)

// PwmScaleDividers lists the supported prescalers from finest to
// coarsest, paired with their wire encodings.
var PwmScaleDividers = []struct {
	Divider int
	Scale   PwmScale
}{
	{1, PwmScale1},
	{8, PwmScale8},
	{64, PwmScale64},
	{256, PwmScale256},
}

// SpiPinMode assigns a pin's role on an SPI bus.
type SpiPinMode int

const (
	SpiPinMosi SpiPinMode = 0
	SpiPinMiso SpiPinMode = 1
	SpiPinClk  SpiPinMode = 2
)

// SpiRate is the SPI clock rate code. Code 0 closes the module, so
// valid rates start at 1 (slowest).
type SpiRate int

const (
	SpiRate31K  SpiRate = 1
	SpiRate62K  SpiRate = 2
	SpiRate125K SpiRate = 3
	SpiRate250K SpiRate = 4
	SpiRate500K SpiRate = 5
	SpiRate1M   SpiRate = 6
	SpiRate2M   SpiRate = 7
	SpiRate4M   SpiRate = 8
)

// TwiRate is the TWI (I2C) bus rate code. Code 0 closes the module.
type TwiRate int

const (
	TwiRate100K TwiRate = 1
	TwiRate400K TwiRate = 2
	TwiRate1M   TwiRate = 3
)

// IncapMode selects what an input-capture module measures. Mode 0
// closes the module.
type IncapMode int

const (
	IncapModePositive IncapMode = 1 // high pulse width
	IncapModeNegative IncapMode = 2 // low pulse width
	IncapModeFreq     IncapMode = 3 // period, rising edge to rising edge
	IncapModeFreq4x   IncapMode = 4 // period scaled by 4
	IncapModeFreq16x  IncapMode = 5 // period scaled by 16
)

// IncapClock selects the capture time base.
type IncapClock int

const (
	IncapClock16MHz  IncapClock = 0
	IncapClock2MHz   IncapClock = 1
	IncapClock250KHz IncapClock = 2
	IncapClock62KHz  IncapClock = 3
)

// Hertz returns the tick rate of the capture clock.
func (c IncapClock) Hertz() float64 {
	switch c {
	case IncapClock16MHz:
		return 16000000
	case IncapClock2MHz:
		return 2000000
	case IncapClock250KHz:
		return 250000
	default:
		return 62500
	}
}

// SequencerEvent identifies an event reported by the motion sequencer.
type SequencerEvent int

const (
	SequencerEventPaused  SequencerEvent = 0
	SequencerEventStalled SequencerEvent = 1
	SequencerEventOpened  SequencerEvent = 2
	SequencerEventNextCue SequencerEvent = 3
	SequencerEventStopped SequencerEvent = 4
	SequencerEventClosed  SequencerEvent = 5
)

// SequencerAction is the SEQUENCER_CONTROL action code.
type SequencerAction int

const (
	SequencerActionStop        SequencerAction = 0
	SequencerActionStart       SequencerAction = 1
	SequencerActionPause       SequencerAction = 2
	SequencerActionManualStart SequencerAction = 3
	SequencerActionManualStop  SequencerAction = 4
)

// Wire limits.
const (
	// UartDataMax is the largest payload of a single UART_DATA command.
	UartDataMax = 64
	// SequencerMax bounds sequencer configuration and cue payloads.
	SequencerMax = 68
)
