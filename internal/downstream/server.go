package downstream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kotareflec/reflec/internal/events"
	"github.com/kotareflec/reflec/internal/ring"
	"github.com/kotareflec/reflec/internal/upstream"
)

// session is one accepted downstream connection's log-correlation
// identity, grounded on the teacher's stream.Listener.ID: the wire
// protocol itself carries no notion of a session, but tagging every
// log line for a connection with the same ID makes a busy server's
// log readable.
type session struct {
	ID         uuid.UUID
	RemoteAddr string
}

func (s session) String() string {
	return fmt.Sprintf("%s[%s]", s.RemoteAddr, s.ID)
}

// maxRequestLine bounds how many bytes fixupListener reads while
// looking for the end of a request line, so a client that never sends
// a newline can't make it buffer unbounded data.
const maxRequestLine = 8192

// fixupListener rewrites a bare "METHOD HTTP/x.x" request line (no
// path) into "METHOD / HTTP/x.x" before net/http ever parses it,
// mirroring MMSHTTPBaseHandler.parse_request's tolerance for the
// malformed requests some MMS-HTTP clients send. net/http has no hook
// to patch the raw line itself, so the fix-up has to happen one layer
// down, on the accepted connection.
type fixupListener struct {
	net.Listener
}

func (l *fixupListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &fixupConn{Conn: conn}, nil
}

type fixupConn struct {
	net.Conn
	pending     *bytes.Reader
	initialized bool
}

func (c *fixupConn) Read(p []byte) (int, error) {
	if !c.initialized {
		c.initialized = true
		if err := c.primeFirstLine(); err != nil {
			return 0, err
		}
	}
	if c.pending != nil {
		n, err := c.pending.Read(p)
		if n > 0 {
			if err == io.EOF {
				c.pending = nil
			}
			return n, nil
		}
		c.pending = nil
	}
	return c.Conn.Read(p)
}

func (c *fixupConn) primeFirstLine() error {
	var line []byte
	buf := make([]byte, 1)
	for len(line) < maxRequestLine {
		n, err := c.Conn.Read(buf)
		if n > 0 {
			line = append(line, buf[0])
			if buf[0] == '\n' {
				break
			}
		}
		if err != nil {
			if len(line) > 0 {
				break
			}
			return err
		}
	}

	words := strings.Fields(strings.TrimRight(string(line), "\r\n"))
	if len(words) == 2 && strings.HasPrefix(words[1], "HTTP/") {
		line = []byte(words[0] + " / " + words[1] + "\r\n")
	}
	c.pending = bytes.NewReader(line)
	return nil
}

// playlistFormat is the ASX redirect a browser (as opposed to a media
// player) gets back, mirroring MMSHTTPStreamingHandler.playlist_format.
const playlistFormat = "<asx version=\"3.0\">\n\t<entry>\n\t\t<ref href=\"%s\" />\n\t</entry>\n</asx>\n"

// Server is a single MMS-over-HTTP downstream listener: it accepts
// player connections, classifies each request, and either relays the
// live stream or turns the connection away.
//
// Grounded on MMSHTTPServer/MMSHTTPStreamingHandler/
// MMSHTTPClientMaxHandler: a mutex-guarded client count picks between
// the normal handler and a 503 overflow handler per accepted
// connection, and server_close's poll-with-countdown drain loop.
type Server struct {
	ClientMax int
	Timeout   time.Duration
	Countdown time.Duration

	Source *Source
	Bus    *events.Bus
	Logger *log.Logger

	listener   net.Listener
	httpServer *http.Server

	mu        sync.Mutex
	clientNum int

	terminated atomic.Bool
}

// New binds addr and returns a Server ready to Serve. addr is a
// "host:port" or ":port" string, the form cmd/reflec builds from each
// parsed reflecconfig.Binding.
func New(addr string, source *Source, clientMax int, timeout, countdown time.Duration, bus *events.Bus, logger *log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("downstream: listen %s: %w", addr, err)
	}

	s := &Server{
		ClientMax: clientMax,
		Timeout:   timeout,
		Countdown: countdown,
		Source:    source,
		Bus:       bus,
		Logger:    logger,
		listener:  &fixupListener{ln},
	}
	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.serveHTTP)}
	return s, nil
}

// Addr returns the address actually bound (useful when addr was
// ":0").
func (s *Server) Addr() string { return s.listener.Addr().String() }

// ClientCount returns the number of connections currently being
// served.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientNum
}

// Serve blocks, accepting and handling connections, until Close is
// called. It mirrors server_thread_proc, minus the thread: callers run
// it in its own goroutine.
func (s *Server) Serve() error {
	s.Logger.Printf("Server[%s] is initialized successfully.", s.Addr())
	s.Bus.Emit("start", s.Addr())
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close stops accepting new connections, then polls the live
// connection count once a second until it reaches zero, ctx is
// cancelled, or Timeout elapses — logging a countdown notice every
// Countdown interval, exactly as MMSHTTPServer.server_close does.
func (s *Server) Close(ctx context.Context) error {
	s.Logger.Printf("Server[%s] terminating...", s.Addr())
	s.Bus.Emit("terminating", s.Addr())
	s.terminated.Store(true)
	s.httpServer.Close()

	start := time.Now()
	lastDiv := -1
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		remain := s.ClientCount()
		if remain == 0 {
			s.Logger.Printf("Server[%s] terminated successfully.", s.Addr())
			s.Bus.Emit("terminate", s.Addr())
			return nil
		}

		elapsed := time.Since(start)
		if elapsed >= s.Timeout {
			s.Logger.Printf("Server[%s] terminated, but %d clients remained.", s.Addr(), remain)
			s.Bus.Emit("terminate", s.Addr())
			return nil
		}

		if s.Countdown > 0 {
			div := int(elapsed / s.Countdown)
			if div > lastDiv {
				lastDiv = div
				left := s.Timeout - elapsed
				s.Logger.Printf("Server[%s] has %s left (%d clients remain)", s.Addr(), left, remain)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Server) acquireSlot() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clientNum >= s.ClientMax {
		return false
	}
	s.clientNum++
	return true
}

func (s *Server) releaseSlot() {
	s.mu.Lock()
	s.clientNum--
	n := s.clientNum
	s.mu.Unlock()
	s.Bus.Emit("client_num", n)
}

// serveHTTP is process_request's client-cap check plus
// MMSHTTPStreamingHandler.do_GET/do_POST folded into one dispatcher:
// an accepted connection either gets the real handler or, once
// ClientMax is reached, the 503 overflow handler — never a rejection
// at the listen-backlog level.
func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	sess := session{ID: uuid.New(), RemoteAddr: r.RemoteAddr}

	if !s.acquireSlot() {
		s.Logger.Printf("%s connected, but disconnecting due to ClientMax.", sess)
		http.Error(w, "Too Many Clients", http.StatusServiceUnavailable)
		return
	}
	s.Bus.Emit("client_num", s.ClientCount())
	s.Logger.Printf("%s connected successfully.", sess)
	defer func() {
		s.releaseSlot()
		s.Logger.Printf("%s disconnected successfully.", sess)
	}()

	switch r.Method {
	case http.MethodPost:
		s.handlePOST(w, r, sess)
	case http.MethodGet, http.MethodHead:
		s.handleGET(w, r, sess)
	default:
		http.Error(w, "", http.StatusNotImplemented)
	}
}

// handlePOST accepts a player's log-line report and answers 204, per
// MMSHTTPStreamingHandler.do_POST.
func (s *Server) handlePOST(w http.ResponseWriter, r *http.Request, sess session) {
	pragmas := upstream.ParsePragma(r.Header.Get("Pragma"))
	if line, ok := pragmas["log-line"]; ok {
		s.Logger.Printf("%s has log-line: %s", sess, line)
	}
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusNoContent)
}

// handleGET implements MMSHTTPStreamingHandler.do_GET's dispatch: no
// source, source not ready, streaming request, header-only request, or
// fall through to the ordinary-web-page path.
func (s *Server) handleGET(w http.ResponseWriter, r *http.Request, sess session) {
	if s.Source == nil {
		http.Error(w, "", http.StatusNotImplemented)
		return
	}
	if !s.Source.Ready() {
		http.Error(w, "Service is not ready.", http.StatusServiceUnavailable)
		return
	}

	pragmas := upstream.ParsePragma(r.Header.Get("Pragma"))
	switch {
	case IsRequestForStreaming(pragmas):
		s.relay(w, r, true, sess)
	case IsRequestForHeader(pragmas):
		s.relay(w, r, false, sess)
	default:
		s.sendDefaultPage(w, r)
	}
}

// relay hijacks the connection and writes the source's header block
// and info packet bit-exact, then — if withBody is set — the live
// packet stream until the player disconnects or the source
// terminates. It never re-enters net/http's own response writer once
// hijacked, because MMS framing must reach the player unaltered.
func (s *Server) relay(w http.ResponseWriter, r *http.Request, withBody bool, sess session) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		s.Logger.Printf("%s hijack failed: %v", sess, err)
		return
	}
	defer conn.Close()

	if err := writeAll(bufrw, s.Source.HeaderBytes()); err != nil {
		return
	}
	if err := writeAll(bufrw, s.Source.InfoPacketRaw()); err != nil {
		return
	}
	if err := bufrw.Flush(); err != nil {
		return
	}
	if !withBody {
		return
	}

	s.sendStreaming(bufrw, r.Context(), sess)
}

// sendStreaming writes every packet the source produces, in order,
// until the reader falls off the end of the stream ($E), the ring
// terminates, or a write to the player fails (the player closed the
// connection), mirroring send_streaming's blocking for-loop. The
// request context of a hijacked connection is not cancelled when the
// player goes away.
func (s *Server) sendStreaming(w *bufio.ReadWriter, ctx context.Context, who session) {
	reader := s.Source.NewReader()
	for {
		p, err := reader.Next(ctx)
		if err != nil {
			if !errors.Is(err, ring.ErrTerminated) && ctx.Err() == nil {
				s.Logger.Printf("%s streaming stopped: %v", who, err)
			}
			return
		}
		if err := writeAll(w, p.Raw); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		if p.IsLast() {
			return
		}
	}
}

// sendDefaultPage answers a plain web request (as opposed to a media
// player) with an ASX redirect, or 400 if the request looks like a
// Shoutcast client or lacks a usable Host header, mirroring
// send_default_page/send_playlist.
func (s *Server) sendDefaultPage(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Icy-MetaData") != "" {
		http.Error(w, "Shoutcast Not Supported. Try mms Protocol.", http.StatusBadRequest)
		return
	}

	host := r.Host
	if host == "" {
		http.Error(w, "Unknown Headers. Try mms Protocol.", http.StatusBadRequest)
		return
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		if _, port, splitErr := net.SplitHostPort(s.Addr()); splitErr == nil {
			host = net.JoinHostPort(host, port)
		}
	}

	playlist := fmt.Sprintf(playlistFormat, fmt.Sprintf("mms://%s%s", host, r.URL.Path))
	w.Header().Set("Content-Type", "video/x-ms-asf")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(playlist))
}

func writeAll(w *bufio.ReadWriter, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	_, err := w.Write(data)
	return err
}
