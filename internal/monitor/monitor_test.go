package monitor

import (
	"net"
	"testing"
	"time"

	"github.com/kotareflec/reflec/internal/events"
)

func TestNewClientParsesAddress(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{name: "host and port", addr: "localhost:8888", wantHost: "localhost", wantPort: 8888},
		{name: "scheme prefix", addr: "mms://example.com:9000/live", wantHost: "example.com", wantPort: 9000},
		{name: "missing port", addr: "localhost", wantErr: true},
		{name: "non-numeric port", addr: "localhost:abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(tt.addr, time.Second)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewClient(%q) = nil error, want error", tt.addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient(%q): %v", tt.addr, err)
			}
			if c.Host != tt.wantHost || c.Port != tt.wantPort {
				t.Fatalf("got host=%q port=%d, want host=%q port=%d", c.Host, c.Port, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestCheckAliveReflectsListenerState(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	c, err := NewClient(ln.Addr().String(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if !c.CheckAlive() {
		t.Fatal("expected listener to be reported alive")
	}
	if !c.Alive() {
		t.Fatal("Alive() should reflect the last check")
	}

	ln.Close()
	if c.CheckAlive() {
		t.Fatal("expected closed listener to be reported dead")
	}
}

func TestPortMonitorEmitsChangeOnTransition(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	bus := events.New(nil)
	changes := make(chan string, 8)
	bus.Subscribe("alive", func(_ events.Name, payload any) {
		if c, ok := payload.(*Client); ok {
			changes <- c.Status()
		}
	})

	m := New(20*time.Millisecond, 0, bus, nil)
	if err := m.Append(ln.Addr().String(), 200*time.Millisecond); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m.Start()
	defer m.Terminate()

	select {
	case status := <-changes:
		if status != "ALIVE" {
			t.Fatalf("status = %q, want ALIVE", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("never observed an alive transition")
	}
}
