package core

import (
	"bytes"
	"testing"

	"ioio/protocol"
)

func openTestSpi(t *testing.T) (*Board, *testTransport, *SpiMaster) {
	t.Helper()
	board, tr := mustConnect(t)
	s, err := board.OpenSpiMaster(3, 4, 5, []int{6}, SpiConfig{Rate: protocol.SpiRate1M})
	if err != nil {
		t.Fatalf("open spi: %v", err)
	}
	return board, tr, s
}

func TestSpiOpenWire(t *testing.T) {
	board, tr := mustConnect(t)
	base := len(tr.written())

	if _, err := board.OpenSpiMaster(3, 4, 5, []int{6}, SpiConfig{Rate: protocol.SpiRate1M}); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x05, 0x0C, // miso pin 3 digital in, floating
		0x12, 0x03, 0x14, // miso bound to spi 0
		0x03, 0x12, // mosi pin 4 digital out, high
		0x12, 0x04, 0x10, // mosi bound to spi 0
		0x03, 0x14, // clk pin 5 digital out, low
		0x12, 0x05, 0x18, // clk bound to spi 0
		0x03, 0x1A, // ss pin 6 digital out, high
		0x10, 0x06, 0x02, // spi 0 configured at rate 6, leading-edge sample
	}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Errorf("spi open wire:\n got % x\nwant % x", got, want)
	}
}

func TestSpiWriteRead(t *testing.T) {
	_, tr, s := openTestSpi(t)
	base := len(tr.written())

	done := make(chan error, 1)
	read := make([]byte, 3)
	go func() {
		done <- s.WriteRead(testContext(t), 0, []byte{0x23, 0x45}, 2, 4, read)
	}()

	want := []byte{0x11, 0x06, 0xC3, 0x02, 0x03, 0x23, 0x45}
	got := tr.waitWritten(t, base+len(want))[base:]
	if !bytes.Equal(got, want) {
		t.Fatalf("spi request wire: got % x want % x", got, want)
	}

	tr.feed(0x11, 0x02, 0x06, 0xAA, 0xBB, 0xCC)
	if err := <-done; err != nil {
		t.Fatalf("WriteRead: %v", err)
	}
	if !bytes.Equal(read, []byte{0xAA, 0xBB, 0xCC}) {
		t.Errorf("response: got % x", read)
	}
}

func TestSpiResponsesMatchRequestsInOrder(t *testing.T) {
	_, tr, s := openTestSpi(t)
	base := len(tr.written())

	readA := make([]byte, 2)
	doneA := make(chan error, 1)
	go func() {
		doneA <- s.WriteRead(testContext(t), 0, []byte{0x11, 0x22}, 2, 2, readA)
	}()
	// Request A on the wire before request B is issued.
	tr.waitWritten(t, base+5)

	readB := make([]byte, 1)
	doneB := make(chan error, 1)
	go func() {
		doneB <- s.WriteRead(testContext(t), 0, nil, 0, 1, readB)
	}()
	tr.waitWritten(t, base+5+4)

	// Responses arrive in request order; each must complete its own
	// request.
	tr.feed(0x11, 0x01, 0x06, 0xA1, 0xA2)
	if err := <-doneA; err != nil {
		t.Fatalf("request A: %v", err)
	}
	tr.feed(0x11, 0x00, 0x06, 0xB1)
	if err := <-doneB; err != nil {
		t.Fatalf("request B: %v", err)
	}

	if !bytes.Equal(readA, []byte{0xA1, 0xA2}) {
		t.Errorf("request A response: got % x", readA)
	}
	if readB[0] != 0xB1 {
		t.Errorf("request B response: got % x", readB)
	}
}

func TestSpiWriteOnlyDoesNotWaitForResponse(t *testing.T) {
	_, _, s := openTestSpi(t)

	if err := s.WriteRead(testContext(t), 0, []byte{0x01}, 1, 1, nil); err != nil {
		t.Fatalf("write-only transaction: %v", err)
	}
}

func TestSpiArgumentChecks(t *testing.T) {
	_, _, s := openTestSpi(t)

	var read [2]byte
	if err := s.WriteRead(testContext(t), 1, nil, 0, 1, read[:1]); !isIllegalArgument(err) {
		t.Errorf("bad slave index: got %v", err)
	}
	if err := s.WriteRead(testContext(t), 0, nil, 0, 65, nil); !isIllegalArgument(err) {
		t.Errorf("oversized total: got %v", err)
	}
	if err := s.WriteRead(testContext(t), 0, []byte{1}, 2, 4, nil); !isIllegalArgument(err) {
		t.Errorf("write size beyond data: got %v", err)
	}
}
