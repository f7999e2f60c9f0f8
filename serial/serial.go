// Package serial connects to an IOIO board over a serial device: a
// USB CDC device node or a Bluetooth RFCOMM binding.
package serial

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Config holds serial transport configuration.
type Config struct {
	// Device path (e.g. "/dev/ttyACM0", "/dev/rfcomm0", "COM3").
	Device string

	// Baud rate. USB CDC ignores it; RFCOMM bindings may not.
	Baud int
}

// DefaultConfig returns the usual configuration for an IOIO board.
func DefaultConfig(device string) *Config {
	return &Config{
		Device: device,
		Baud:   38400,
	}
}

// Transport is a core.Transport over a serial port.
type Transport struct {
	cfg *Config

	mu   sync.Mutex
	port *serial.Port
}

// New creates a serial transport. The port opens on Connect.
func New(cfg *Config) *Transport {
	return &Transport{cfg: cfg}
}

// Connect opens the serial port.
func (t *Transport) Connect() error {
	port, err := serial.OpenPort(&serial.Config{
		Name: t.cfg.Device,
		Baud: t.cfg.Baud,
	})
	if err != nil {
		return errors.Wrapf(err, "opening serial port %s", t.cfg.Device)
	}
	t.mu.Lock()
	t.port = port
	t.mu.Unlock()
	return nil
}

// Read reads from the serial port.
func (t *Transport) Read(p []byte) (int, error) {
	return t.port.Read(p)
}

// Write writes to the serial port.
func (t *Transport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

// Disconnect closes the serial port, unblocking a concurrent Read.
// Safe to call more than once.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port != nil {
		port.Close()
	}
}

// CanClose reports that serial links can be torn down by the host.
func (t *Transport) CanClose() bool {
	return true
}
