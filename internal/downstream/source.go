package downstream

import (
	"github.com/kotareflec/reflec/internal/mmsframe"
	"github.com/kotareflec/reflec/internal/ring"
)

// sourceClient is the slice of *upstream.Client a Source needs:
// readiness and the two captured artifacts (raw response header
// block, info packet) every downstream connection replays. Expressing
// it as an interface rather than depending on *upstream.Client
// directly keeps Source (and its tests) decoupled from the concrete
// upstream transport, per spec.md's design note on replacing
// inheritance with composition.
type sourceClient interface {
	Started() bool
	Terminated() bool
	ResponseHeaderRaw() []byte
	InfoPacket() *mmsframe.InfoPacket
}

// Source is the streaming source a Server relays to every connected
// player, grounded on MMSHTTPClientSource: a thin passthrough over the
// upstream client's captured response and the shared ring buffer.
type Source struct {
	Client sourceClient
	Ring   *ring.Ring
}

// Ready reports whether the source has media to send, mirroring
// MMSHTTPClientSource.is_ready(): streaming must have started, and the
// upstream client must not have already terminated.
func (s *Source) Ready() bool {
	return s.Client.Started() && !s.Client.Terminated()
}

// HeaderBytes returns the status-line-plus-headers block
// MMSHTTPClientSource.headers() sends ahead of the info packet: the
// upstream server's own response bytes, passed through bit-exact
// (captured off the wire, not reassembled from a parsed header map),
// already terminated by the blank line that ends an HTTP header block.
func (s *Source) HeaderBytes() []byte {
	return s.Client.ResponseHeaderRaw()
}

// InfoPacketRaw returns the exact bytes of the captured $H info
// packet, or nil if none has arrived yet.
func (s *Source) InfoPacketRaw() []byte {
	info := s.Client.InfoPacket()
	if info == nil {
		return nil
	}
	return info.Raw
}

// NewReader returns a fresh cursor into the shared ring, starting at
// the next future packet (see ring.Ring.NewReader).
func (s *Source) NewReader() *ring.Reader {
	return s.Ring.NewReader()
}
