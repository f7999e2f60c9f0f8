// Package tcp connects to an IOIO board over the network, either by
// dialing the board or by accepting a single inbound connection from
// it.
package tcp

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Transport is a core.Transport over a TCP connection.
type Transport struct {
	addr   string
	listen bool

	mu   sync.Mutex
	conn net.Conn
	ln   net.Listener
}

// Dial creates a transport that connects to a board listening at addr.
func Dial(addr string) *Transport {
	return &Transport{addr: addr}
}

// Listen creates a transport that waits for the board to connect to
// addr. Connect accepts exactly one connection and stops listening.
func Listen(addr string) *Transport {
	return &Transport{addr: addr, listen: true}
}

// Connect establishes the TCP link.
func (t *Transport) Connect() error {
	if t.listen {
		ln, err := net.Listen("tcp", t.addr)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", t.addr)
		}
		t.mu.Lock()
		t.ln = ln
		t.mu.Unlock()

		conn, err := ln.Accept()
		ln.Close()
		if err != nil {
			return errors.Wrapf(err, "accepting on %s", t.addr)
		}
		t.mu.Lock()
		t.conn = conn
		t.ln = nil
		t.mu.Unlock()
		return nil
	}

	conn, err := net.Dial("tcp", t.addr)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", t.addr)
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Read reads from the connection.
func (t *Transport) Read(p []byte) (int, error) {
	return t.conn.Read(p)
}

// Write writes to the connection.
func (t *Transport) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Disconnect closes the connection (and a pending listener),
// unblocking a concurrent Read. Safe to call more than once.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn, ln := t.conn, t.ln
	t.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	if conn != nil {
		conn.Close()
	}
}

// CanClose reports that TCP links can be torn down by the host.
func (t *Transport) CanClose() bool {
	return true
}
