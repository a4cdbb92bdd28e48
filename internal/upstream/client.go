package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kotareflec/reflec/internal/events"
	"github.com/kotareflec/reflec/internal/mmsframe"
	"github.com/kotareflec/reflec/internal/ring"
)

// Peer identifies the upstream MMS-over-HTTP source.
type Peer struct {
	Host string
	Port int
	Path string
}

// URL returns the plain-HTTP URL Reflec issues both requests against.
func (p Peer) URL() string {
	return fmt.Sprintf("http://%s:%d%s", p.Host, p.Port, p.Path)
}

func (p Peer) String() string {
	return fmt.Sprintf("Client[%s:%d%s]", p.Host, p.Port, p.Path)
}

// RequestNotSucceeded is returned when the upstream server answers
// with a non-2xx status, mirroring client.py's RequestNotSucceeded.
type RequestNotSucceeded struct {
	Status int
	Reason string
}

func (e *RequestNotSucceeded) Error() string {
	return fmt.Sprintf("upstream: request not succeeded: %d %s", e.Status, e.Reason)
}

// Client pulls one live MMS-over-HTTP stream and publishes every
// streaming-phase packet it receives, bit-exact, onto a ring.Ring (the
// info-phase $H packet is kept aside, see InfoPacket). The ring is
// terminated when Run returns.
//
// Grounded on MMSHTTPClient/MMSHTTPBufferedClient: the two-request
// handshake (info, then streaming), the ring-buffered packet sink, and
// the event set a plugin could subscribe to.
type Client struct {
	Peer     Peer
	Timeout  time.Duration
	Retry    int
	RetrySec time.Duration

	Bus    *events.Bus
	Ring   *ring.Ring
	Logger *log.Logger

	dialer *net.Dialer

	mu         sync.Mutex
	infoPacket *mmsframe.InfoPacket
	rawHead    []byte

	started     atomic.Bool
	terminated  atomic.Bool
	terminating atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New builds a Client ready to Run. bus and ring may be shared with
// other components (the downstream server reads from ring; a monitor
// or CLI can subscribe to bus).
func New(peer Peer, timeout time.Duration, retry int, retrySec time.Duration, bus *events.Bus, r *ring.Ring, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		Peer:     peer,
		Timeout:  timeout,
		Retry:    retry,
		RetrySec: retrySec,
		Bus:      bus,
		Ring:     r,
		Logger:   logger,
		dialer:   &net.Dialer{Timeout: timeout},
	}
}

// InfoPacket returns the media-info packet captured during the info
// phase of the handshake, or nil if none has arrived yet.
func (c *Client) InfoPacket() *mmsframe.InfoPacket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoPacket
}

// Started reports whether streaming has been judged to have begun
// (the 3rd-packet heuristic below).
func (c *Client) Started() bool { return c.started.Load() }

// Terminated reports whether the client's run loop has returned.
func (c *Client) Terminated() bool { return c.terminated.Load() }

// Terminate requests that Run stop as soon as possible by cancelling
// its in-flight request, mirroring HTTPClient.terminate()'s socket
// close — Go's idiom for unblocking a pending read is context
// cancellation rather than reaching into the connection directly.
func (c *Client) Terminate() {
	c.terminating.Store(true)
	c.cancelMu.Lock()
	cancel := c.cancel
	c.cancelMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run drives the client's full lifecycle: connect, handshake, stream,
// retry on failure, until ctx is cancelled, Terminate is called, or
// retries are exhausted. It emits "start" on entry and "terminate" on
// exit, matching client_thread_proc.
func (c *Client) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer cancel()

	c.Bus.Emit("start", c.Peer)
	defer func() {
		c.terminated.Store(true)
		if c.Ring != nil {
			c.Ring.Terminate()
		}
		c.Bus.Emit("terminate", c.Peer)
	}()

	c.Bus.Emit("processing", c.Peer)
	err := c.process(runCtx)
	if err == nil {
		c.Bus.Emit("processed", c.Peer)
	}
	return err
}

// process runs the handshake with retry, mirroring HTTPClient._process:
// the first attempt calls process(); every retry after a socket error
// calls retry_process(), which skips the info phase once info_packet
// has already been captured. Only a socket-level error is retried —
// _process's `except socket.error` never catches RequestNotSucceeded
// or any other application-level failure, so those propagate and end
// the client on the first attempt.
func (c *Client) process(ctx context.Context) error {
	attempt := 0
	attemptOnce := func() error {
		var err error
		if attempt == 0 {
			err = c.firstAttempt(ctx)
		} else {
			err = c.retryAttempt(ctx)
		}
		attempt++
		return err
	}

	if c.Retry <= 0 || c.RetrySec <= 0 {
		return attemptOnce()
	}

	operation := func() error {
		err := attemptOnce()
		if err != nil && (c.terminating.Load() || !isRetryable(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.RetrySec), uint64(c.Retry)),
		ctx,
	)
	return backoff.RetryNotify(operation, bo, func(err error, d time.Duration) {
		c.Logger.Printf("%s closed: %s. Retrying after %s.", c.Peer, err, d)
	})
}

// isRetryable reports whether err is a network I/O failure — the only
// kind _process's `except socket.error` retries. A non-2xx response
// (*RequestNotSucceeded), a malformed packet, or any other
// application-level error is permanent.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) firstAttempt(ctx context.Context) error {
	c.Logger.Printf("%s first connect to the server for media info.", c.Peer)
	if err := c.requestForInfo(ctx); err != nil {
		return err
	}
	c.Logger.Printf("%s second connect to the server for streaming.", c.Peer)
	return c.requestForStreaming(ctx)
}

func (c *Client) retryAttempt(ctx context.Context) error {
	if c.InfoPacket() == nil {
		return c.firstAttempt(ctx)
	}
	c.Logger.Printf("%s skipped first connect.", c.Peer)
	c.Logger.Printf("%s second connect to the server for streaming.", c.Peer)
	return c.requestForStreaming(ctx)
}

func (c *Client) requestForInfo(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, BuildInfoPragma())
	if err != nil {
		return err
	}
	defer resp.Close()

	p, err := mmsframe.DecodeOne(resp.body)
	if err != nil {
		return fmt.Errorf("upstream: reading info packet: %w", err)
	}

	info := mmsframe.ParseInfoPacket(p)
	c.mu.Lock()
	c.infoPacket = info
	c.mu.Unlock()

	c.Bus.Emit("info_packet", info)
	c.Logger.Printf("%s received the media info successfully.", c.Peer)
	return nil
}

func (c *Client) requestForStreaming(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, BuildStreamingPragma())
	if err != nil {
		return err
	}
	defer resp.Close()

	dec := mmsframe.NewDecoder(resp.body)
	packetNum := 0
	started := false

	defer func() {
		if started {
			c.Bus.Emit("finish_streaming", c.Peer)
			c.Logger.Printf("%s has finished receiving media streaming.", c.Peer)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		p, err := dec.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		packetNum++
		if packetNum == 3 && !started {
			started = true
			c.started.Store(true)
			c.Bus.Emit("start_streaming", c.Peer)
			c.Logger.Printf("%s has started receiving media streaming.", c.Peer)
		}

		c.Ring.Push(p)

		if p.IsLast() {
			return nil
		}
	}
}

// upstreamResponse is one request's raw wire response: the connection
// it arrived on (closed once the caller is done with the body) and a
// reader positioned right after the header block's terminating blank
// line.
type upstreamResponse struct {
	conn net.Conn
	body *bufio.Reader
	stop chan struct{}
}

func (r *upstreamResponse) Close() error {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	return r.conn.Close()
}

// sendRequest dials a fresh connection to the peer (mirroring
// send_request's own per-request httplib.HTTPConnection), writes the
// request line and headers by hand, and reads back the response
// status line and header block as raw bytes rather than through
// net/http's client: net/http parses, reorders, and canonicalizes
// headers (and strips Content-Length/Transfer-Encoding into separate
// fields), which would make HeaderBytes's retransmission something
// other than the bit-exact copy spec requires. Rejects non-2xx
// responses with *RequestNotSucceeded, same as send_request.
func (c *Client) sendRequest(ctx context.Context, pragma string) (*upstreamResponse, error) {
	addr := net.JoinHostPort(c.Peer.Host, strconv.Itoa(c.Peer.Port))

	c.Logger.Printf("%s is connecting to %s.", c.Peer, c.Peer.URL())
	c.Bus.Emit("connecting", c.Peer)

	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	fail := func(err error) error {
		close(stop)
		conn.Close()
		return err
	}

	c.Bus.Emit("connected", c.Peer)
	c.Logger.Printf("%s connected successfully.", c.Peer)

	reqHeader := fmt.Sprintf(
		"GET %s HTTP/1.1\r\nHost: %s\r\nAccept: */*\r\nUser-Agent: NSPlayer/4.1.0.3928\r\nPragma: %s\r\n\r\n",
		c.Peer.Path, addr, pragma,
	)
	c.Bus.Emit("request", reqHeader)
	if err := conn.SetWriteDeadline(deadline(c.Timeout)); err != nil {
		return nil, fail(err)
	}
	if _, err := io.WriteString(conn, reqHeader); err != nil {
		return nil, fail(err)
	}

	if err := conn.SetReadDeadline(deadline(c.Timeout)); err != nil {
		return nil, fail(err)
	}
	br := bufio.NewReader(conn)
	statusCode, reason, rawHead, err := readResponseHead(br)
	if err != nil {
		return nil, fail(err)
	}
	c.Bus.Emit("response", statusCode)

	if statusCode < 200 || statusCode >= 300 {
		return nil, fail(&RequestNotSucceeded{Status: statusCode, Reason: reason})
	}

	// Streaming has no fixed length — the connection stays open for as
	// long as packets arrive, so the read deadline set above only
	// bounds the handshake itself.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fail(err)
	}

	c.mu.Lock()
	c.rawHead = rawHead
	c.mu.Unlock()

	return &upstreamResponse{conn: conn, body: br, stop: stop}, nil
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// readResponseHead reads the status line and every header line off br
// verbatim, stopping at the blank line that ends the header block, and
// returns the parsed status code and reason phrase alongside the raw,
// unmodified bytes of the whole block (status line through the blank
// line).
func readResponseHead(br *bufio.Reader) (statusCode int, reason string, raw []byte, err error) {
	var buf strings.Builder

	statusLine, err := br.ReadString('\n')
	if err != nil {
		return 0, "", nil, err
	}
	buf.WriteString(statusLine)

	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return 0, "", nil, fmt.Errorf("upstream: malformed status line %q", strings.TrimSpace(statusLine))
	}
	statusCode, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, "", nil, fmt.Errorf("upstream: malformed status line %q: %w", strings.TrimSpace(statusLine), err)
	}
	reason = strings.TrimSpace(strings.Join(fields[2:], " "))

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return 0, "", nil, err
		}
		buf.WriteString(line)
		if line == "\r\n" || line == "\n" {
			break
		}
	}
	return statusCode, reason, []byte(buf.String()), nil
}

// ResponseHeaderRaw returns the exact bytes of the most recently
// completed request's status line and header block, terminated by the
// blank line that ends it — the same raw text
// MMSHTTPClientSource.headers() rebuilds from HTTPClient.status_line
// and "".join(HTTPClient.header.headers).
func (c *Client) ResponseHeaderRaw() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.rawHead...)
}

