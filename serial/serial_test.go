package serial

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/dev/ttyACM0")
	if cfg.Device != "/dev/ttyACM0" {
		t.Errorf("device: got %q", cfg.Device)
	}
	if cfg.Baud != 38400 {
		t.Errorf("baud: got %d want 38400", cfg.Baud)
	}
}

func TestCanClose(t *testing.T) {
	tr := New(DefaultConfig("/dev/null"))
	if !tr.CanClose() {
		t.Error("serial transports are host-closable")
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	tr := New(DefaultConfig("/dev/null"))
	// Must not panic with no port open.
	tr.Disconnect()
	tr.Disconnect()
}
