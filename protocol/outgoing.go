package protocol

import (
	"bufio"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Outgoing serialises command writes to the transport. All commands go
// through one mutex, so writes from different goroutines interleave at
// command boundaries only. Commands are buffered and flushed when the
// outermost batch ends; a single command outside an explicit batch is a
// batch of its own and flushes immediately.
type Outgoing struct {
	mu    sync.Mutex
	w     *bufio.Writer
	depth int
	err   error // sticky; once a write fails the channel is dead
}

// NewOutgoing creates an outgoing channel writing to w.
func NewOutgoing(w io.Writer) *Outgoing {
	return &Outgoing{w: bufio.NewWriter(w)}
}

// BeginBatch opens an explicit batch. Commands sent before the matching
// EndBatch are buffered and flushed as one transport write. Batches
// nest; only the outermost end flushes.
func (o *Outgoing) BeginBatch() {
	o.mu.Lock()
	o.depth++
	o.mu.Unlock()
}

// EndBatch closes an explicit batch, flushing if it was the outermost.
func (o *Outgoing) EndBatch() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.end()
}

// begin must be called with the mutex held, before encoding a command.
func (o *Outgoing) begin() {
	o.depth++
}

// end must be called with the mutex held, after encoding a command. It
// flushes when the batch depth returns to zero and reports the sticky
// channel error.
func (o *Outgoing) end() error {
	o.depth--
	if o.depth == 0 && o.err == nil {
		if err := o.w.Flush(); err != nil {
			o.err = errors.Wrap(err, "flushing outgoing channel")
		}
	}
	return o.err
}

func (o *Outgoing) write(b ...byte) {
	if o.err != nil {
		return
	}
	if _, err := o.w.Write(b); err != nil {
		o.err = errors.Wrap(err, "writing outgoing channel")
	}
}

func (o *Outgoing) writeU16(v uint16) {
	o.write(byte(v&0xFF), byte(v>>8))
}

// Err reports the sticky channel error, if any.
func (o *Outgoing) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// HardReset asks the device to reboot. The connection drops afterwards.
func (o *Outgoing) HardReset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outHardReset)
	o.write(ConnectionMagic[:]...)
	return o.end()
}

// SoftReset asks the device to close every open module while keeping
// the connection alive.
func (o *Outgoing) SoftReset() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSoftReset)
	return o.end()
}

// SoftClose asks the device to tear the connection down from its side.
// Used when the transport cannot be closed by the host.
func (o *Outgoing) SoftClose() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSoftClose)
	return o.end()
}

// CheckInterface asks the firmware whether it implements the given
// protocol interface.
func (o *Outgoing) CheckInterface(id [8]byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outCheckInterface)
	o.write(id[:]...)
	return o.end()
}

// SetPinDigitalOut configures a pin as a digital output with an initial
// level.
func (o *Outgoing) SetPinDigitalOut(pin int, value bool, openDrain bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(pin << 2)
	if openDrain {
		b |= 0x01
	}
	if value {
		b |= 0x02
	}
	o.write(outSetPinDigitalOut, b)
	return o.end()
}

// SetDigitalOutLevel changes the level of a pin already configured as a
// digital output.
func (o *Outgoing) SetDigitalOutLevel(pin int, value bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(pin << 2)
	if value {
		b |= 0x01
	}
	o.write(outSetDigitalOutLevel, b)
	return o.end()
}

// SetPinDigitalIn configures a pin as a digital input.
func (o *Outgoing) SetPinDigitalIn(pin int, pull Pull) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSetPinDigitalIn, byte(pin<<2)|byte(pull))
	return o.end()
}

// SetChangeNotify enables or disables change notifications for an input
// pin.
func (o *Outgoing) SetChangeNotify(pin int, notify bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(pin << 2)
	if notify {
		b |= 0x01
	}
	o.write(outSetChangeNotify, b)
	return o.end()
}

// SetPinPwm binds or unbinds a pin to a PWM module.
func (o *Outgoing) SetPinPwm(pin int, pwmNum int, enable bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(pwmNum & 0x0F)
	if enable {
		b |= 0x80
	}
	o.write(outSetPinPwm, byte(pin&0x3F), b)
	return o.end()
}

// SetPwmDutyCycle sets a PWM module's duty period. fraction carries the
// two sub-clock bits.
func (o *Outgoing) SetPwmDutyCycle(pwmNum int, duty uint16, fraction int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSetPwmDutyCycle, byte(pwmNum<<2)|byte(fraction&0x03))
	o.writeU16(duty)
	return o.end()
}

// SetPwmPeriod sets a PWM module's period in prescaled clock ticks.
func (o *Outgoing) SetPwmPeriod(pwmNum int, period uint16, scale PwmScale) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte((int(scale)&0x02)<<6) | byte(pwmNum<<1) | byte(int(scale)&0x01)
	o.write(outSetPwmPeriod, b)
	o.writeU16(period)
	return o.end()
}

// SetPinAnalogIn configures a pin for analog input.
func (o *Outgoing) SetPinAnalogIn(pin int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSetPinAnalogIn, byte(pin&0x3F))
	return o.end()
}

// SetAnalogInSampling adds or removes a pin from the analog sampling
// set.
func (o *Outgoing) SetAnalogInSampling(pin int, enable bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(pin & 0x3F)
	if enable {
		b |= 0x80
	}
	o.write(outSetAnalogInSampling, b)
	return o.end()
}

// UartConfig configures and opens a UART module. rate is the baud-rate
// divisor; speed4x selects the 4x clock.
func (o *Outgoing) UartConfig(uartNum int, rate uint16, speed4x, twoStopBits bool, parity Parity) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(uartNum << 6)
	if speed4x {
		b |= 0x08
	}
	if twoStopBits {
		b |= 0x04
	}
	b |= byte(parity)
	o.write(outUartConfig, b)
	o.writeU16(rate)
	return o.end()
}

// UartClose closes a UART module. On the wire this is a config command
// with a zero rate.
func (o *Outgoing) UartClose(uartNum int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outUartConfig, byte(uartNum<<6))
	o.writeU16(0)
	return o.end()
}

// UartData sends 1..64 bytes over a UART module.
func (o *Outgoing) UartData(uartNum int, data []byte) error {
	if len(data) < 1 || len(data) > UartDataMax {
		return errors.Errorf("uart data payload must be 1..%d bytes, got %d", UartDataMax, len(data))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outUartData, byte((len(data)-1)&0x3F)|byte(uartNum<<6))
	o.write(data...)
	return o.end()
}

// SetPinUart binds or unbinds a pin to a UART module's RX or TX line.
func (o *Outgoing) SetPinUart(pin int, uartNum int, tx bool, enable bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(uartNum)
	if tx {
		b |= 0x40
	}
	if enable {
		b |= 0x80
	}
	o.write(outSetPinUart, byte(pin), b)
	return o.end()
}

// SpiConfigureMaster configures and opens an SPI module.
func (o *Outgoing) SpiConfigureMaster(spiNum int, rate SpiRate, sampleOnTrailing, invertClk bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(0)
	if !sampleOnTrailing {
		b |= 0x02
	}
	if invertClk {
		b |= 0x01
	}
	o.write(outSpiConfigureMaster, byte(spiNum<<5)|byte(rate), b)
	return o.end()
}

// SpiClose closes an SPI module (rate code zero).
func (o *Outgoing) SpiClose(spiNum int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSpiConfigureMaster, byte(spiNum<<5), 0x00)
	return o.end()
}

// SpiMasterRequest starts an SPI transaction of totalSize clocked
// bytes. data holds the first dataSize bytes to transmit (the rest is
// padding clocked by the device) and responseSize trailing bytes of the
// slave response are reported back.
func (o *Outgoing) SpiMasterRequest(spiNum int, ssPin int, data []byte, dataSize, totalSize, responseSize int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSpiMasterRequest, byte(spiNum<<6)|byte(ssPin))
	b := byte(totalSize - 1)
	if dataSize != totalSize {
		b |= 0x80
	}
	if responseSize != totalSize {
		b |= 0x40
	}
	o.write(b)
	if dataSize != totalSize {
		o.write(byte(dataSize))
	}
	if responseSize != totalSize {
		o.write(byte(responseSize))
	}
	o.write(data[:dataSize]...)
	return o.end()
}

// SetPinSpi binds or unbinds a pin to an SPI module line.
func (o *Outgoing) SetPinSpi(pin int, mode SpiPinMode, enable bool, spiNum int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(mode<<2) | byte(spiNum)
	if enable {
		b |= 0x10
	}
	o.write(outSetPinSpi, byte(pin), b)
	return o.end()
}

// I2cConfigureMaster configures and opens a TWI module.
func (o *Outgoing) I2cConfigureMaster(i2cNum int, rate TwiRate, smbusLevels bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(rate<<5) | byte(i2cNum)
	if smbusLevels {
		b |= 0x80
	}
	o.write(outI2cConfigureMaster, b)
	return o.end()
}

// I2cClose closes a TWI module (rate code zero).
func (o *Outgoing) I2cClose(i2cNum int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outI2cConfigureMaster, byte(i2cNum))
	return o.end()
}

// I2cWriteRead performs a combined write-then-read transaction on a TWI
// module.
func (o *Outgoing) I2cWriteRead(i2cNum int, tenBitAddr bool, addr int, writeData []byte, writeSize, readSize int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte((addr>>8)<<6) | byte(i2cNum)
	if tenBitAddr {
		b |= 0x20
	}
	o.write(outI2cWriteRead, b, byte(addr&0xFF), byte(writeSize), byte(readSize))
	o.write(writeData[:writeSize]...)
	return o.end()
}

// IcspOpen opens the ICSP module.
func (o *Outgoing) IcspOpen() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outIcspConfig, 0x01)
	return o.end()
}

// IcspClose closes the ICSP module.
func (o *Outgoing) IcspClose() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outIcspConfig, 0x00)
	return o.end()
}

// IcspEnterProg puts the target into programming mode.
func (o *Outgoing) IcspEnterProg() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outIcspProgEnter)
	return o.end()
}

// IcspExitProg takes the target out of programming mode.
func (o *Outgoing) IcspExitProg() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outIcspProgExit)
	return o.end()
}

// IcspSix executes a 24-bit instruction on the target.
func (o *Outgoing) IcspSix(instruction uint32) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outIcspSix,
		byte(instruction&0xFF),
		byte((instruction>>8)&0xFF),
		byte((instruction>>16)&0xFF))
	return o.end()
}

// IcspRegout reads the target's VISI register; the result arrives as an
// ICSP_RESULT event.
func (o *Outgoing) IcspRegout() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outIcspRegout)
	return o.end()
}

// SetPinIncap binds or unbinds a pin to an input-capture module.
func (o *Outgoing) SetPinIncap(pin int, incapNum int, enable bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(incapNum)
	if enable {
		b |= 0x80
	}
	o.write(outSetPinIncap, byte(pin), b)
	return o.end()
}

// IncapConfigure configures and opens an input-capture module.
func (o *Outgoing) IncapConfigure(incapNum int, double bool, mode IncapMode, clock IncapClock) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(mode<<3) | byte(clock)
	if double {
		b |= 0x80
	}
	o.write(outIncapConfigure, byte(incapNum), b)
	return o.end()
}

// IncapClose closes an input-capture module (mode and clock zero).
func (o *Outgoing) IncapClose(incapNum int, double bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(0)
	if double {
		b |= 0x80
	}
	o.write(outIncapConfigure, byte(incapNum), b)
	return o.end()
}

// SetPinCapSense configures a pin for capacitive sensing.
func (o *Outgoing) SetPinCapSense(pin int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSetPinCapSense, byte(pin&0x3F))
	return o.end()
}

// SetCapSenseSampling adds or removes a pin from the cap-sense sampling
// set.
func (o *Outgoing) SetCapSenseSampling(pin int, enable bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	b := byte(pin & 0x3F)
	if enable {
		b |= 0x80
	}
	o.write(outSetCapSenseSampling, b)
	return o.end()
}

// SequencerConfigure opens the sequencer with an opaque channel
// configuration. An empty configuration closes it.
func (o *Outgoing) SequencerConfigure(config []byte) error {
	if len(config) > SequencerMax {
		return errors.Errorf("sequencer config must be at most %d bytes, got %d", SequencerMax, len(config))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSequencerConfigure, byte(len(config)))
	o.write(config...)
	return o.end()
}

// SequencerPush appends a timed cue to the sequencer's queue.
func (o *Outgoing) SequencerPush(duration uint16, cue []byte) error {
	if len(cue) > SequencerMax {
		return errors.Errorf("sequencer cue must be at most %d bytes, got %d", SequencerMax, len(cue))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSequencerPush)
	o.writeU16(duration)
	o.write(cue...)
	return o.end()
}

// SequencerControl issues a sequencer action. cue is only used with
// the manual-start action.
func (o *Outgoing) SequencerControl(action SequencerAction, cue []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSequencerControl, byte(action))
	if action == SequencerActionManualStart {
		o.write(cue...)
	}
	return o.end()
}

// Sync sends a sync marker; the device echoes it after processing all
// preceding commands.
func (o *Outgoing) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.begin()
	o.write(outSync)
	return o.end()
}
