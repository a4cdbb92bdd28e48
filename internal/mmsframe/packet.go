// Package mmsframe frames and defames MMS-over-HTTP packets: a 2-byte
// ASCII marker, a 2-byte little-endian payload length, and the payload.
// Re-encoding is never performed on data captured off the wire — Raw is
// always the exact bytes read, because a reflector retransmits it
// verbatim to every downstream player.
package mmsframe

import (
	"bytes"
	"io"

	"github.com/kotareflec/reflec/internal/asf"
)

// Marker values recognized on the wire (spec.md §4.2).
const (
	MarkerInfo          = "$H"
	MarkerData          = "$D"
	MarkerDataAlt       = "?D"
	MarkerEndOfStream   = "$E"
	MarkerChangingMedia = "$C"
	MarkerMetaData      = "$M"
	MarkerPairData      = "$P"
)

// Packet is one MMS-HTTP frame.
type Packet struct {
	Marker string
	Data   []byte
	Raw    []byte
}

// IsInfo reports whether the packet is the leading $H info packet.
func (p *Packet) IsInfo() bool { return p.Marker == MarkerInfo }

// IsLast reports whether the packet is the terminal $E packet.
func (p *Packet) IsLast() bool { return p.Marker == MarkerEndOfStream }

// DecodeOne reads a single packet from r. A short read anywhere — even
// mid-marker — is reported as io.ErrUnexpectedEOF (io.EOF only if the
// stream ended cleanly before any byte of a new packet was read).
func DecodeOne(r io.Reader) (*Packet, error) {
	var raw bytes.Buffer

	marker := make([]byte, 2)
	n, err := io.ReadFull(r, marker)
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	raw.Write(marker)

	sizeBytes := make([]byte, 2)
	if _, err := io.ReadFull(r, sizeBytes); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	raw.Write(sizeBytes)
	size := int(sizeBytes[0]) | int(sizeBytes[1])<<8

	data := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
	}
	raw.Write(data)

	return &Packet{
		Marker: string(marker),
		Data:   data,
		Raw:    raw.Bytes(),
	}, nil
}

// Decoder turns a reader of back-to-back MMS packets into a stream that
// stops — returning io.EOF — right after the first $E packet is returned,
// matching the Python StreamingIterator generator.
type Decoder struct {
	r    io.Reader
	done bool
}

// NewDecoder wraps r for sequential packet decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next packet, or io.EOF once the stream has yielded its
// terminal $E packet (or the underlying reader is exhausted).
func (d *Decoder) Next() (*Packet, error) {
	if d.done {
		return nil, io.EOF
	}
	p, err := DecodeOne(d.r)
	if err != nil {
		d.done = true
		return nil, err
	}
	if p.IsLast() {
		d.done = true
	}
	return p, nil
}

// InfoPacket is the first $H packet: an 8-byte MMS pre-header the caller
// skips, followed by an ASF header block.
type InfoPacket struct {
	*Packet
	MediaInfo map[string]string
	ExtInfo   map[string]interface{}
}

// preHeaderSize is the number of bytes of MMS pre-header skipped before
// the ASF header block begins inside an info packet's payload.
const preHeaderSize = 8

// ParseInfoPacket wraps p, parsing the ASF metadata that follows the
// 8-byte MMS pre-header in its payload. A truncated ASF header simply
// yields partial (or empty) metadata — it never fails the packet itself.
func ParseInfoPacket(p *Packet) *InfoPacket {
	info := &InfoPacket{Packet: p}

	body := p.Data
	if len(body) > preHeaderSize {
		body = body[preHeaderSize:]
	} else {
		body = nil
	}

	reader := asf.NewReader(body)
	reader.Parse()
	info.MediaInfo = reader.MediaInfo
	info.ExtInfo = reader.ExtInfo
	return info
}
