package core

import (
	"math"

	"github.com/pkg/errors"

	"ioio/protocol"
)

// pwmBaseClock is the PWM time base before prescaling.
const pwmBaseClock = 16000000

// PwmOutput is an open PWM output channel bound to a pin.
type PwmOutput struct {
	board *Board
	mon   *monitor
	pin   *Resource
	pwm   *Resource

	scale  protocol.PwmScale
	period int // prescaled clock ticks per cycle
	freqHz float64
}

// OpenPwmOutput binds a peripheral-output pin to a free PWM module at
// the given frequency. The pin drives push-pull; see
// OpenPwmOutputOpenDrain for open-drain.
func (b *Board) OpenPwmOutput(pin int, freqHz float64) (*PwmOutput, error) {
	return b.openPwm(pin, freqHz, false)
}

// OpenPwmOutputOpenDrain is OpenPwmOutput with an open-drain pin
// driver.
func (b *Board) OpenPwmOutputOpenDrain(pin int, freqHz float64) (*PwmOutput, error) {
	return b.openPwm(pin, freqHz, true)
}

func (b *Board) openPwm(pin int, freqHz float64, openDrain bool) (*PwmOutput, error) {
	if err := b.checkConnected(); err != nil {
		return nil, err
	}
	if err := b.checkPin(pin); err != nil {
		return nil, err
	}
	if !b.cap.IsPeripheralOutPin(pin) {
		return nil, errors.Wrapf(ErrIllegalArgument, "pin %d is not peripheral-output capable", pin)
	}
	scale, period, err := pwmPeriod(freqHz)
	if err != nil {
		return nil, err
	}

	p := &PwmOutput{
		board:  b,
		mon:    newMonitor(),
		pin:    &Resource{Kind: ResourcePin, ID: pin},
		pwm:    &Resource{Kind: ResourceOutCompare, ID: -1},
		scale:  scale,
		period: period,
		freqHz: freqHz,
	}
	if err := b.rm.Alloc(p.pin, p.pwm); err != nil {
		return nil, err
	}
	b.bus.register(ResourceOutCompare, p.pwm.ID, p)

	b.out.BeginBatch()
	b.out.SetPinDigitalOut(pin, false, openDrain)
	b.out.SetPinPwm(pin, p.pwm.ID, true)
	b.out.SetPwmPeriod(p.pwm.ID, uint16(period-1), scale)
	if err := b.out.EndBatch(); err != nil {
		return nil, errors.Wrapf(ErrConnectionLost, "opening pwm on pin %d: %v", pin, err)
	}
	return p, nil
}

// pwmPeriod picks the finest prescaler whose period fits in 16 bits.
func pwmPeriod(freqHz float64) (protocol.PwmScale, int, error) {
	if freqHz <= 0 {
		return 0, 0, errors.Wrapf(ErrIllegalArgument, "pwm frequency %g Hz", freqHz)
	}
	for _, s := range protocol.PwmScaleDividers {
		period := int(math.Round(pwmBaseClock / float64(s.Divider) / freqHz))
		if period <= 65536 {
			if period < 2 {
				return 0, 0, errors.Wrapf(ErrIllegalArgument, "pwm frequency %g Hz too high", freqHz)
			}
			return s.Scale, period, nil
		}
	}
	return 0, 0, errors.Wrapf(ErrIllegalArgument, "pwm frequency %g Hz too low", freqHz)
}

// SetDutyCycle sets the high fraction of the cycle, 0..1.
func (p *PwmOutput) SetDutyCycle(dc float64) error {
	if dc < 0 || dc > 1 {
		return errors.Wrapf(ErrIllegalArgument, "duty cycle %g", dc)
	}
	p.mon.lock()
	if p.mon.cause != nil {
		defer p.mon.unlock()
		return p.mon.cause
	}
	p.mon.unlock()

	// The device resolves the duty period to a quarter tick.
	quarters := int(math.Round(dc * float64(p.period) * 4))
	duty := quarters >> 2
	fraction := quarters & 0x03
	if duty >= p.period {
		duty = p.period - 1
		fraction = 3
	}
	if err := p.board.out.SetPwmDutyCycle(p.pwm.ID, uint16(duty), fraction); err != nil {
		return errors.Wrapf(ErrConnectionLost, "setting duty cycle: %v", err)
	}
	return nil
}

// SetPulseWidth sets the high time in microseconds.
func (p *PwmOutput) SetPulseWidth(us float64) error {
	periodUs := 1e6 / p.freqHz
	if us < 0 || us > periodUs {
		return errors.Wrapf(ErrIllegalArgument, "pulse width %g us at period %g us", us, periodUs)
	}
	return p.SetDutyCycle(us / periodUs)
}

// Close unbinds the PWM module and returns the pin to a floating
// input.
func (p *PwmOutput) Close() error {
	p.mon.lock()
	if p.mon.cause != nil {
		defer p.mon.unlock()
		return p.mon.cause
	}
	p.mon.fail(errors.Wrap(ErrIllegalState, "pwm output closed"))
	p.mon.unlock()

	p.board.bus.unregister(ResourceOutCompare, p.pwm.ID)
	p.board.out.BeginBatch()
	p.board.out.SetPinPwm(p.pin.ID, p.pwm.ID, false)
	p.board.out.SetPinDigitalIn(p.pin.ID, protocol.PullFloating)
	err := p.board.out.EndBatch()
	p.board.rm.Free(p.pin, p.pwm)
	if err != nil {
		return errors.Wrapf(ErrConnectionLost, "closing pwm on pin %d: %v", p.pin.ID, err)
	}
	return nil
}

func (p *PwmOutput) descriptors() []*Resource {
	return []*Resource{p.pin, p.pwm}
}

func (p *PwmOutput) dropped(cause error) {
	p.mon.lock()
	p.mon.fail(cause)
	p.mon.unlock()
}
