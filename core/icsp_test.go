package core

import (
	"bytes"
	"errors"
	"testing"
)

func TestIcspVisiFifo(t *testing.T) {
	board, tr := mustConnect(t)

	icsp, err := board.OpenIcsp()
	if err != nil {
		t.Fatal(err)
	}
	base := len(tr.written())

	if err := icsp.EnterProgramming(); err != nil {
		t.Fatal(err)
	}
	if err := icsp.Six(testContext(t), 0x123456); err != nil {
		t.Fatal(err)
	}
	if err := icsp.RegOut(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if err := icsp.RegOut(testContext(t)); err != nil {
		t.Fatal(err)
	}

	want := []byte{0x18, 0x16, 0x56, 0x34, 0x12, 0x17, 0x17}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Fatalf("icsp wire: got % x want % x", got, want)
	}

	// VISI results are consumed oldest first.
	tr.feed(0x17, 0x34, 0x12)
	tr.feed(0x17, 0x78, 0x56)
	v1, err := icsp.WaitVisi(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	v2, err := icsp.WaitVisi(testContext(t))
	if err != nil {
		t.Fatal(err)
	}
	if v1 != 0x1234 || v2 != 0x5678 {
		t.Errorf("visi results: got %04x %04x", v1, v2)
	}
}

func TestIcspClaimsDedicatedPins(t *testing.T) {
	board, _ := mustConnect(t)

	if _, err := board.OpenIcsp(); err != nil {
		t.Fatal(err)
	}
	// The ICSP pin triple (36, 37, 38) is claimed implicitly.
	for _, pin := range []int{36, 37, 38} {
		if _, err := board.OpenDigitalOutput(pin, false, false); !errors.Is(err, ErrOutOfResource) {
			t.Errorf("pin %d not claimed by icsp: %v", pin, err)
		}
	}
	// Only one ICSP instance exists.
	if _, err := board.OpenIcsp(); !errors.Is(err, ErrOutOfResource) {
		t.Errorf("second icsp: got %v want out of resource", err)
	}
}
