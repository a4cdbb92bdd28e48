// Package monitor watches a list of TCP endpoints and reports whether
// each one is open or closed, emitting events.Bus notifications when a
// target flips state. It is the core of the companion liveness
// monitor (cmd/livealive): it only ever decides *whether* a reflector
// should be (re)launched, never touching internal/ring, internal/upstream,
// or internal/downstream directly (spec.md §1).
//
// Grounded on original_source/lib/utils/monitor.py (MonitorClient,
// PortMonitor) and lib/livealive/monitor.py (LiveAliveClient,
// LiveAliveMonitor), which supplement spec.md per SPEC_FULL.md §8.
package monitor

import (
	"fmt"
	"log"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/kotareflec/reflec/internal/events"
)

// addressPattern matches MonitorClient.__init__'s
// ^(?:[^:]+://)?([^/:]+)(?::(\d+))?.* — an optional scheme, a host, and
// an optional :port.
var addressPattern = regexp.MustCompile(`^(?:[^:]+://)?([^/:]+)(?::(\d+))?.*`)

// Client is one monitored TCP endpoint, mirroring MonitorClient.
//
// Per spec.md §9 Open Questions, the original's "terminating" flag is
// normalized from the source's "termnating" typo — same intent, corrected
// spelling — and a malformed port is reported as an error rather than
// left to crash the process the way the Python version's uncaught
// int(...) would.
type Client struct {
	Address string
	Host    string
	Port    int
	Timeout time.Duration

	mu          sync.Mutex
	alive       bool
	terminating bool
}

// NewClient parses address ("host:port", "scheme://host:port/path", or
// a bare host meaning port 0 is invalid) into a Client. It returns an
// error if address has no parseable port, which the original silently
// left as an uncaught ValueError — spec.md §9 requires an error here.
func NewClient(address string, timeout time.Duration) (*Client, error) {
	m := addressPattern.FindStringSubmatch(address)
	if m == nil || m[1] == "" {
		return nil, fmt.Errorf("monitor: %q is not a valid address", address)
	}
	if m[2] == "" {
		return nil, fmt.Errorf("monitor: %q has no port", address)
	}
	port, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("monitor: %q has a non-numeric port: %w", address, err)
	}
	return &Client{
		Address: address,
		Host:    m[1],
		Port:    port,
		Timeout: timeout,
	}, nil
}

func (c *Client) String() string {
	return fmt.Sprintf("Client[%s:%d]", c.Host, c.Port)
}

// Terminate asks the client's monitoring loop to stop at its next
// opportunity.
func (c *Client) Terminate() {
	c.mu.Lock()
	c.terminating = true
	c.mu.Unlock()
}

func (c *Client) isTerminating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminating
}

// Alive reports the client's last-known liveness.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// Status renders the client's last-known liveness as the original's
// "ALIVE"/"DEAD" string, used only in log lines.
func (c *Client) Status() string {
	if c.Alive() {
		return "ALIVE"
	}
	return "DEAD"
}

// CheckAlive dials the client's host:port with Timeout and records
// whether the connection succeeded, mirroring MonitorClient.check_alive.
func (c *Client) CheckAlive() bool {
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	conn, err := net.DialTimeout("tcp", addr, c.Timeout)
	alive := err == nil
	if conn != nil {
		conn.Close()
	}
	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
	return alive
}

// PortMonitor watches a set of Clients, polling each one on its own
// goroutine every Interval, staggering goroutine startup by Delay so a
// large client list doesn't open a burst of sockets at once
// (PortMonitor.starting_thread_proc).
type PortMonitor struct {
	Interval time.Duration
	Delay    time.Duration

	Bus    *events.Bus
	Logger *log.Logger

	mu      sync.Mutex
	clients map[string]*Client

	terminating bool
	wg          sync.WaitGroup
}

// New creates an empty PortMonitor. interval default 60s, delay
// default 5s per spec.md §8 "Supplements" / SPEC_FULL.md §8.
func New(interval, delay time.Duration, bus *events.Bus, logger *log.Logger) *PortMonitor {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &PortMonitor{
		Interval: interval,
		Delay:    delay,
		Bus:      bus,
		Logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// Append adds address to the watch list, mirroring PortMonitor.append.
func (m *PortMonitor) Append(address string, timeout time.Duration) error {
	c, err := NewClient(address, timeout)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.clients[address] = c
	m.mu.Unlock()
	return nil
}

// Remove stops and drops address from the watch list.
func (m *PortMonitor) Remove(address string) {
	m.mu.Lock()
	c, ok := m.clients[address]
	delete(m.clients, address)
	m.mu.Unlock()
	if ok {
		c.Terminate()
	}
}

// Clients returns a snapshot of the currently-watched clients.
func (m *PortMonitor) Clients() []*Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// Start launches one polling goroutine per currently-registered client,
// staggered by Delay, mirroring PortMonitor.start/starting_thread_proc.
// It returns immediately; call Wait to block until every client
// goroutine has exited.
func (m *PortMonitor) Start() {
	m.mu.Lock()
	m.terminating = false
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()

	m.wg.Add(len(clients))
	go func() {
		for _, c := range clients {
			go m.runClient(c)
			time.Sleep(m.Delay)
		}
	}()
}

// Wait blocks until every client goroutine Start launched has exited.
func (m *PortMonitor) Wait() { m.wg.Wait() }

// Terminate stops every client's monitoring loop, mirroring
// PortMonitor.terminate.
func (m *PortMonitor) Terminate() {
	m.mu.Lock()
	m.terminating = true
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()
	for _, c := range clients {
		c.Terminate()
	}
}

func (m *PortMonitor) isTerminating() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminating
}

// runClient is one client's monitoring loop: check, emit events on
// change, then sleep Interval in 1s increments so termination is
// noticed promptly, mirroring PortMonitor.client_thread_proc.
func (m *PortMonitor) runClient(c *Client) {
	defer m.wg.Done()
	defer m.Remove(c.Address)

	m.Bus.Emit("start", c)

	for !m.isTerminating() && !c.isTerminating() {
		m.Bus.Emit("checking", c)

		lastAlive := c.Alive()
		nowAlive := c.CheckAlive()
		if lastAlive != nowAlive {
			m.Logger.Printf("Monitor: %s has become %s.", c, c.Status())
			m.Bus.Emit("change", c)
			if nowAlive {
				m.Bus.Emit("alive", c)
			} else {
				m.Bus.Emit("dead", c)
			}
		}

		m.Bus.Emit("checked", c)

		deadline := time.Now().Add(m.Interval)
		for time.Now().Before(deadline) {
			if m.isTerminating() || c.isTerminating() {
				break
			}
			time.Sleep(time.Second)
		}
	}
}
