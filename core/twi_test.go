package core

import (
	"bytes"
	"errors"
	"testing"

	"ioio/protocol"
)

func openTestTwi(t *testing.T) (*Board, *testTransport, *TwiMaster) {
	t.Helper()
	board, tr := mustConnect(t)
	tm, err := board.OpenTwiMaster(0, protocol.TwiRate100K, false)
	if err != nil {
		t.Fatalf("open twi: %v", err)
	}
	return board, tr, tm
}

func TestTwiOpenClaimsModulePins(t *testing.T) {
	board, tr := mustConnect(t)
	base := len(tr.written())

	if _, err := board.OpenTwiMaster(0, protocol.TwiRate400K, false); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x13, 0x40}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Errorf("twi open wire: got % x want % x", got, want)
	}

	// The module's pin pair (4, 5) is claimed even though the caller
	// never named it.
	if _, err := board.OpenDigitalOutput(4, false, false); !errors.Is(err, ErrOutOfResource) {
		t.Errorf("sda pin not claimed: %v", err)
	}
	if _, err := board.OpenDigitalOutput(5, false, false); !errors.Is(err, ErrOutOfResource) {
		t.Errorf("scl pin not claimed: %v", err)
	}
}

func TestTwiWriteRead(t *testing.T) {
	_, tr, tm := openTestTwi(t)
	base := len(tr.written())

	done := make(chan struct {
		data []byte
		err  error
	}, 1)
	go func() {
		data, err := tm.WriteRead(testContext(t), 0x48, false, []byte{0x01}, 2)
		done <- struct {
			data []byte
			err  error
		}{data, err}
	}()

	want := []byte{0x14, 0x00, 0x48, 0x01, 0x02, 0x01}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Fatalf("twi request wire: got % x want % x", got, want)
	}

	tr.feed(0x14, 0x00, 0x02, 0xDE, 0xAD)
	res := <-done
	if res.err != nil {
		t.Fatalf("WriteRead: %v", res.err)
	}
	if !bytes.Equal(res.data, []byte{0xDE, 0xAD}) {
		t.Errorf("response: got % x", res.data)
	}
}

func TestTwiAborted(t *testing.T) {
	_, tr, tm := openTestTwi(t)

	done := make(chan error, 1)
	go func() {
		_, err := tm.WriteRead(testContext(t), 0x48, false, []byte{0x01}, 2)
		done <- err
	}()

	// Result size 0xFF signals an aborted transaction; it surfaces as
	// a distinct error, not as data.
	tr.feed(0x14, 0x00, 0xFF)
	if err := <-done; !errors.Is(err, ErrTwiAborted) {
		t.Fatalf("got %v want twi aborted", err)
	}

	// The module stays usable after an abort.
	done2 := make(chan error, 1)
	go func() {
		_, err := tm.WriteRead(testContext(t), 0x48, false, nil, 1)
		done2 <- err
	}()
	tr.feed(0x14, 0x00, 0x01, 0x55)
	if err := <-done2; err != nil {
		t.Fatalf("transaction after abort: %v", err)
	}
}

func TestTwiAddressChecks(t *testing.T) {
	_, tr, tm := openTestTwi(t)

	if _, err := tm.WriteRead(testContext(t), 0x80, false, nil, 1); !isIllegalArgument(err) {
		t.Errorf("7-bit address overflow: got %v", err)
	}

	// 0x3FF is legal with 10-bit addressing.
	done := make(chan error, 1)
	go func() {
		_, err := tm.WriteRead(testContext(t), 0x3FF, true, nil, 1)
		done <- err
	}()
	tr.feed(0x14, 0x00, 0x01, 0x00)
	if err := <-done; err != nil {
		t.Errorf("10-bit address rejected: %v", err)
	}
}
