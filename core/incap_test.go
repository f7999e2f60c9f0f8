package core

import (
	"bytes"
	"math"
	"testing"

	"ioio/protocol"
)

func TestPulseInputOpenWire(t *testing.T) {
	board, tr := mustConnect(t)
	base := len(tr.written())

	// First single-precision module: wire unit 6 (above the three
	// double pairs).
	if _, err := board.OpenPulseInput(6, protocol.IncapModePositive, protocol.IncapClock62KHz, false); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x05, 0x18, // pin 6 digital in, floating
		0x1C, 0x06, 0x86, // pin 6 bound to incap unit 6
		0x1B, 0x06, 0x0B, // unit 6: single, positive pulse, 62.5 kHz
	}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Errorf("incap open wire:\n got % x\nwant % x", got, want)
	}
}

func TestPulseInputDoubleUsesUnitPair(t *testing.T) {
	board, tr := mustConnect(t)
	base := len(tr.written())

	if _, err := board.OpenPulseInput(6, protocol.IncapModeFreq, protocol.IncapClock16MHz, true); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x05, 0x18,
		0x1C, 0x06, 0x80, // pin 6 bound to incap unit 0
		0x1B, 0x00, 0x98, // unit 0: double, frequency, 16 MHz
	}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Errorf("incap double open wire:\n got % x\nwant % x", got, want)
	}
}

func TestPulseInputDuration(t *testing.T) {
	board, tr := mustConnect(t)

	p, err := board.OpenPulseInput(6, protocol.IncapModePositive, protocol.IncapClock16MHz, false)
	if err != nil {
		t.Fatal(err)
	}

	// 16000 ticks at 16 MHz is a 1 ms pulse; single module reports as
	// wire unit 6.
	tr.feed(0x1C, 0x86, 0x80, 0x3E)
	d, err := p.Duration(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(d-0.001) > 1e-9 {
		t.Errorf("duration: got %g want 0.001", d)
	}

	f, err := p.Frequency(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(f-1000) > 1e-6 {
		t.Errorf("frequency: got %g want 1000", f)
	}
}

func TestPulseInputWaitPulseOrder(t *testing.T) {
	board, tr := mustConnect(t)

	p, err := board.OpenPulseInput(6, protocol.IncapModePositive, protocol.IncapClock16MHz, false)
	if err != nil {
		t.Fatal(err)
	}
	tr.feed(0x1C, 0x46, 0x10) // 16 ticks
	tr.feed(0x1C, 0x46, 0x20) // 32 ticks

	d1, err := p.WaitPulse(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	d2, err := p.WaitPulse(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if d2 <= d1 {
		t.Errorf("pulse order: got %g then %g", d1, d2)
	}
}
