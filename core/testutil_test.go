package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// testTransport is an in-memory transport: the test plays the device
// by feeding event bytes and inspecting written command bytes. Feeds
// are queued through a feeder goroutine so tests can script events
// before the dispatcher starts reading.
type testTransport struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	feedCh   chan []byte
	feedOnce sync.Once

	mu    sync.Mutex
	wrote bytes.Buffer

	closeOnce sync.Once
	canClose  bool
}

func newTestTransport() *testTransport {
	pr, pw := io.Pipe()
	t := &testTransport{pr: pr, pw: pw, feedCh: make(chan []byte, 64), canClose: true}
	go func() {
		for b := range t.feedCh {
			if _, err := pw.Write(b); err != nil {
				return
			}
		}
		pw.Close()
	}()
	return t
}

func (t *testTransport) Connect() error { return nil }

func (t *testTransport) Read(p []byte) (int, error) {
	return t.pr.Read(p)
}

func (t *testTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wrote.Write(p)
}

func (t *testTransport) Disconnect() {
	t.closeOnce.Do(func() {
		t.pr.Close()
	})
}

func (t *testTransport) CanClose() bool { return t.canClose }

// feed queues device-to-host bytes.
func (t *testTransport) feed(b ...byte) {
	t.feedCh <- b
}

// eof simulates the device dropping the link after the queued feeds
// drain.
func (t *testTransport) eof() {
	t.feedOnce.Do(func() { close(t.feedCh) })
}

func (t *testTransport) written() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := make([]byte, t.wrote.Len())
	copy(cp, t.wrote.Bytes())
	return cp
}

// waitWritten polls until at least n bytes went out or the deadline
// expires.
func (t *testTransport) waitWritten(tb testing.TB, n int) []byte {
	tb.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := t.written(); len(got) >= n {
			return got
		}
		time.Sleep(time.Millisecond)
	}
	tb.Fatalf("timed out waiting for %d written bytes, have % x", n, t.written())
	return nil
}

func isIllegalArgument(err error) bool {
	return errors.Is(err, ErrIllegalArgument)
}

func testContext(tb testing.TB) context.Context {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	tb.Cleanup(cancel)
	return ctx
}

func handshakeBytes() []byte {
	b := []byte{0x00, 'I', 'O', 'I', 'O'}
	b = append(b, []byte("SPRK0020")...)
	b = append(b, []byte("IOIO0400")...)
	b = append(b, []byte("IOIO0503")...)
	return b
}

// checkInterfaceLen is the wire size of the interface check the host
// sends while connecting.
const checkInterfaceLen = 9

// mustConnect brings a board to the connected state against a scripted
// transport. The interface-supported response is pre-fed.
func mustConnect(tb testing.TB) (*Board, *testTransport) {
	tb.Helper()
	tr := newTestTransport()
	board := New(tr)
	tr.feed(handshakeBytes()...)
	tr.feed(0x02, 0x01)
	if err := board.WaitForConnect(testContext(tb)); err != nil {
		tb.Fatalf("WaitForConnect: %v", err)
	}
	tb.Cleanup(board.Disconnect)
	return board, tr
}
