package protocol

import (
	"bytes"
	"testing"
)

// flushRecorder records each transport write separately so tests can
// observe flush boundaries.
type flushRecorder struct {
	writes [][]byte
}

func (f *flushRecorder) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *flushRecorder) all() []byte {
	var out []byte
	for _, w := range f.writes {
		out = append(out, w...)
	}
	return out
}

func TestOutgoingEncodings(t *testing.T) {
	cases := []struct {
		name string
		send func(o *Outgoing) error
		want []byte
	}{
		{"HardReset", func(o *Outgoing) error { return o.HardReset() },
			[]byte{0x00, 'I', 'O', 'I', 'O'}},
		{"SoftReset", func(o *Outgoing) error { return o.SoftReset() },
			[]byte{0x01}},
		{"SoftClose", func(o *Outgoing) error { return o.SoftClose() },
			[]byte{0x1D}},
		{"CheckInterface", func(o *Outgoing) error { return o.CheckInterface(InterfaceID) },
			[]byte{0x02, 'I', 'O', 'I', 'O', '0', '0', '0', '5'}},
		{"SetPinDigitalOutLow", func(o *Outgoing) error { return o.SetPinDigitalOut(13, false, false) },
			[]byte{0x03, 0x34}},
		{"SetPinDigitalOutHighOpenDrain", func(o *Outgoing) error { return o.SetPinDigitalOut(1, true, true) },
			[]byte{0x03, 0x07}},
		{"SetDigitalOutLevelHigh", func(o *Outgoing) error { return o.SetDigitalOutLevel(13, true) },
			[]byte{0x04, 0x35}},
		{"SetPinDigitalInPullUp", func(o *Outgoing) error { return o.SetPinDigitalIn(5, PullUp) },
			[]byte{0x05, 0x15}},
		{"SetChangeNotifyOn", func(o *Outgoing) error { return o.SetChangeNotify(5, true) },
			[]byte{0x06, 0x15}},
		{"SetPinPwmEnable", func(o *Outgoing) error { return o.SetPinPwm(10, 0, true) },
			[]byte{0x08, 0x0A, 0x80}},
		{"SetPwmDutyCycle", func(o *Outgoing) error { return o.SetPwmDutyCycle(1, 0x1234, 3) },
			[]byte{0x09, 0x07, 0x34, 0x12}},
		{"SetPwmPeriodScale1", func(o *Outgoing) error { return o.SetPwmPeriod(0, 15999, PwmScale1) },
			[]byte{0x0A, 0x00, 0x7F, 0x3E}},
		{"SetPwmPeriodScale256", func(o *Outgoing) error { return o.SetPwmPeriod(2, 0x0102, PwmScale256) },
			[]byte{0x0A, 0x05, 0x02, 0x01}},
		{"SetPinAnalogIn", func(o *Outgoing) error { return o.SetPinAnalogIn(31) },
			[]byte{0x0B, 0x1F}},
		{"SetAnalogInSamplingOn", func(o *Outgoing) error { return o.SetAnalogInSampling(31, true) },
			[]byte{0x0C, 0x9F}},
		{"UartConfig", func(o *Outgoing) error { return o.UartConfig(1, 103, true, false, ParityEven) },
			[]byte{0x0D, 0x49, 0x67, 0x00}},
		{"UartClose", func(o *Outgoing) error { return o.UartClose(2) },
			[]byte{0x0D, 0x80, 0x00, 0x00}},
		{"UartData", func(o *Outgoing) error { return o.UartData(1, []byte{0xAA, 0xBB}) },
			[]byte{0x0E, 0x41, 0xAA, 0xBB}},
		{"SetPinUartRx", func(o *Outgoing) error { return o.SetPinUart(9, 1, false, true) },
			[]byte{0x0F, 0x09, 0x81}},
		{"SetPinUartTx", func(o *Outgoing) error { return o.SetPinUart(10, 1, true, true) },
			[]byte{0x0F, 0x0A, 0xC1}},
		{"SpiConfigureMaster", func(o *Outgoing) error { return o.SpiConfigureMaster(1, SpiRate4M, true, false) },
			[]byte{0x10, 0x28, 0x00}},
		{"SpiConfigureMasterLeading", func(o *Outgoing) error { return o.SpiConfigureMaster(0, SpiRate31K, false, true) },
			[]byte{0x10, 0x01, 0x03}},
		{"SpiClose", func(o *Outgoing) error { return o.SpiClose(1) },
			[]byte{0x10, 0x20, 0x00}},
		{"SpiMasterRequest", func(o *Outgoing) error {
			return o.SpiMasterRequest(0, 3, []byte{0x23, 0x45}, 2, 4, 3)
		}, []byte{0x11, 0x03, 0xC3, 0x02, 0x03, 0x23, 0x45}},
		{"SpiMasterRequestFull", func(o *Outgoing) error {
			return o.SpiMasterRequest(1, 2, []byte{0x01, 0x02}, 2, 2, 2)
		}, []byte{0x11, 0x42, 0x01, 0x01, 0x02}},
		{"SetPinSpiMiso", func(o *Outgoing) error { return o.SetPinSpi(14, SpiPinMiso, true, 1) },
			[]byte{0x12, 0x0E, 0x15}},
		{"I2cConfigureMaster", func(o *Outgoing) error { return o.I2cConfigureMaster(2, TwiRate400K, true) },
			[]byte{0x13, 0xC2}},
		{"I2cClose", func(o *Outgoing) error { return o.I2cClose(2) },
			[]byte{0x13, 0x02}},
		{"I2cWriteRead", func(o *Outgoing) error {
			return o.I2cWriteRead(0, false, 0x48, []byte{0x01}, 1, 2)
		}, []byte{0x14, 0x00, 0x48, 0x01, 0x02, 0x01}},
		{"I2cWriteReadTenBit", func(o *Outgoing) error {
			return o.I2cWriteRead(1, true, 0x123, nil, 0, 4)
		}, []byte{0x14, 0x61, 0x23, 0x00, 0x04}},
		{"IcspOpen", func(o *Outgoing) error { return o.IcspOpen() },
			[]byte{0x1A, 0x01}},
		{"IcspClose", func(o *Outgoing) error { return o.IcspClose() },
			[]byte{0x1A, 0x00}},
		{"IcspEnterProg", func(o *Outgoing) error { return o.IcspEnterProg() },
			[]byte{0x18}},
		{"IcspExitProg", func(o *Outgoing) error { return o.IcspExitProg() },
			[]byte{0x19}},
		{"IcspSix", func(o *Outgoing) error { return o.IcspSix(0x123456) },
			[]byte{0x16, 0x56, 0x34, 0x12}},
		{"IcspRegout", func(o *Outgoing) error { return o.IcspRegout() },
			[]byte{0x17}},
		{"SetPinIncap", func(o *Outgoing) error { return o.SetPinIncap(6, 2, true) },
			[]byte{0x1C, 0x06, 0x82}},
		{"IncapConfigure", func(o *Outgoing) error {
			return o.IncapConfigure(1, true, IncapModeFreq, IncapClock2MHz)
		}, []byte{0x1B, 0x01, 0x99}},
		{"IncapClose", func(o *Outgoing) error { return o.IncapClose(1, false) },
			[]byte{0x1B, 0x01, 0x00}},
		{"SetPinCapSense", func(o *Outgoing) error { return o.SetPinCapSense(32) },
			[]byte{0x1E, 0x20}},
		{"SetCapSenseSamplingOn", func(o *Outgoing) error { return o.SetCapSenseSampling(32, true) },
			[]byte{0x1F, 0xA0}},
		{"SequencerConfigure", func(o *Outgoing) error { return o.SequencerConfigure([]byte{0x01, 0x02}) },
			[]byte{0x20, 0x02, 0x01, 0x02}},
		{"SequencerClose", func(o *Outgoing) error { return o.SequencerConfigure(nil) },
			[]byte{0x20, 0x00}},
		{"SequencerPush", func(o *Outgoing) error { return o.SequencerPush(0x1000, []byte{0x07}) },
			[]byte{0x21, 0x00, 0x10, 0x07}},
		{"SequencerStart", func(o *Outgoing) error { return o.SequencerControl(SequencerActionStart, nil) },
			[]byte{0x22, 0x01}},
		{"SequencerManualStart", func(o *Outgoing) error {
			return o.SequencerControl(SequencerActionManualStart, []byte{0x05})
		}, []byte{0x22, 0x03, 0x05}},
		{"Sync", func(o *Outgoing) error { return o.Sync() },
			[]byte{0x23}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &flushRecorder{}
			o := NewOutgoing(rec)
			if err := tc.send(o); err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if got := rec.all(); !bytes.Equal(got, tc.want) {
				t.Errorf("got % x want % x", got, tc.want)
			}
		})
	}
}

func TestOutgoingDigitalBlinkSequence(t *testing.T) {
	// Open pin 13 as output low, write high, write low, close.
	rec := &flushRecorder{}
	o := NewOutgoing(rec)

	if err := o.SetPinDigitalOut(13, false, false); err != nil {
		t.Fatal(err)
	}
	if err := o.SetDigitalOutLevel(13, true); err != nil {
		t.Fatal(err)
	}
	if err := o.SetDigitalOutLevel(13, false); err != nil {
		t.Fatal(err)
	}
	if err := o.SetPinDigitalIn(13, PullFloating); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x03, 0x34, 0x04, 0x35, 0x04, 0x34, 0x05, 0x34}
	if got := rec.all(); !bytes.Equal(got, want) {
		t.Errorf("got % x want % x", got, want)
	}
}

func TestOutgoingBatchFlushesOnce(t *testing.T) {
	rec := &flushRecorder{}
	o := NewOutgoing(rec)

	o.BeginBatch()
	if err := o.SetPinAnalogIn(31); err != nil {
		t.Fatal(err)
	}
	o.BeginBatch()
	if err := o.SetAnalogInSampling(31, true); err != nil {
		t.Fatal(err)
	}
	if err := o.EndBatch(); err != nil {
		t.Fatal(err)
	}
	if len(rec.writes) != 0 {
		t.Fatalf("inner batch end flushed: %d writes", len(rec.writes))
	}
	if err := o.EndBatch(); err != nil {
		t.Fatal(err)
	}

	if len(rec.writes) != 1 {
		t.Fatalf("expected exactly one transport write, got %d", len(rec.writes))
	}
	want := []byte{0x0B, 0x1F, 0x0C, 0x9F}
	if !bytes.Equal(rec.writes[0], want) {
		t.Errorf("got % x want % x", rec.writes[0], want)
	}
}

func TestOutgoingUartDataBounds(t *testing.T) {
	o := NewOutgoing(&flushRecorder{})

	if err := o.UartData(0, nil); err == nil {
		t.Error("expected error for empty uart payload")
	}
	if err := o.UartData(0, make([]byte, 65)); err == nil {
		t.Error("expected error for oversized uart payload")
	}
	if err := o.UartData(0, make([]byte, 64)); err != nil {
		t.Errorf("64-byte payload should be legal: %v", err)
	}
}

func TestOutgoingSequencerBounds(t *testing.T) {
	o := NewOutgoing(&flushRecorder{})

	if err := o.SequencerConfigure(make([]byte, 69)); err == nil {
		t.Error("expected error for oversized sequencer config")
	}
	if err := o.SequencerPush(0, make([]byte, 69)); err == nil {
		t.Error("expected error for oversized sequencer cue")
	}
}

// failingWriter fails every write, simulating a dead transport.
type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, bytes.ErrTooLarge
}

func TestOutgoingStickyError(t *testing.T) {
	o := NewOutgoing(failingWriter{})

	// bufio absorbs the first small command; the flush fails.
	if err := o.Sync(); err == nil {
		t.Fatal("expected flush error")
	}
	if err := o.SoftReset(); err == nil {
		t.Fatal("error should be sticky")
	}
	if o.Err() == nil {
		t.Fatal("Err should report the sticky error")
	}
}
