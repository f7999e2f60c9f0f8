package core

import (
	"bytes"
	"testing"
)

func TestCapSenseOpenWire(t *testing.T) {
	board, tr := mustConnect(t)
	base := len(tr.written())

	if _, err := board.OpenCapSense(32); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x1E, 0x20, 0x1F, 0xA0}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Errorf("cap sense open wire: got % x want % x", got, want)
	}

	if _, err := board.OpenCapSense(13); !isIllegalArgument(err) {
		t.Errorf("cap sense on incapable pin: got %v", err)
	}
}

func TestCapSenseReadAndThresholds(t *testing.T) {
	board, tr := mustConnect(t)

	cs, err := board.OpenCapSense(32)
	if err != nil {
		t.Fatal(err)
	}

	// pin 32: value 513 = (0x20>>6=0... header) built as b1=0x60, b2=0x80:
	// pin = 0x60 & 0x3F = 32, value = (0x60>>6) | (0x80<<2) = 1 | 512.
	tr.feed(0x1E, 0x60, 0x80)
	v, err := cs.Read(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if v != 513 {
		t.Errorf("reading: got %g want 513", v)
	}

	done := make(chan error, 1)
	go func() {
		done <- cs.WaitUnder(testContext(t), 100)
	}()
	tr.feed(0x1E, 0x20, 0x08) // pin 32, value 32
	if err := <-done; err != nil {
		t.Fatalf("WaitUnder: %v", err)
	}

	go func() {
		done <- cs.WaitOver(testContext(t), 500)
	}()
	tr.feed(0x1E, 0x60, 0x80) // back to 513
	if err := <-done; err != nil {
		t.Fatalf("WaitOver: %v", err)
	}
}
