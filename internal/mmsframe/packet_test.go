package mmsframe

import (
	"bytes"
	"io"
	"testing"
)

func encodePacket(marker string, data []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(marker)
	buf.WriteByte(byte(len(data)))
	buf.WriteByte(byte(len(data) >> 8))
	buf.Write(data)
	return buf.Bytes()
}

func TestDecodeOneRoundTrip(t *testing.T) {
	payload := []byte("hello media data")
	wire := encodePacket(MarkerData, payload)

	p, err := DecodeOne(bytes.NewReader(wire))
	if err != nil {
		t.Fatalf("DecodeOne: %v", err)
	}
	if p.Marker != MarkerData {
		t.Errorf("Marker = %q, want %q", p.Marker, MarkerData)
	}
	if !bytes.Equal(p.Data, payload) {
		t.Errorf("Data = %q, want %q", p.Data, payload)
	}
	if !bytes.Equal(p.Raw, wire) {
		t.Errorf("Raw = %q, want %q (bit-exact round trip)", p.Raw, wire)
	}
}

func TestDecoderStopsAfterEndOfStream(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(encodePacket(MarkerData, []byte("one")))
	wire.Write(encodePacket(MarkerEndOfStream, nil))
	wire.Write(encodePacket(MarkerData, []byte("should never be seen")))

	d := NewDecoder(&wire)

	p1, err := d.Next()
	if err != nil || p1.Marker != MarkerData {
		t.Fatalf("first packet: %v, %v", p1, err)
	}

	p2, err := d.Next()
	if err != nil || !p2.IsLast() {
		t.Fatalf("second packet: %v, %v", p2, err)
	}

	_, err = d.Next()
	if err != io.EOF {
		t.Fatalf("Next after $E = %v, want io.EOF", err)
	}
}

func TestDecodeOneShortReadIsUnexpectedEOF(t *testing.T) {
	wire := []byte{'$', 'D', 5, 0, 'a', 'b'} // claims 5 bytes, only has 2
	_, err := DecodeOne(bytes.NewReader(wire))
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecodeOneCleanEOF(t *testing.T) {
	_, err := DecodeOne(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestIsInfoAndIsLast(t *testing.T) {
	info := &Packet{Marker: MarkerInfo}
	if !info.IsInfo() || info.IsLast() {
		t.Errorf("info packet classification wrong")
	}
	end := &Packet{Marker: MarkerEndOfStream}
	if end.IsInfo() || !end.IsLast() {
		t.Errorf("end packet classification wrong")
	}
}

func TestParseInfoPacketSkipsPreHeader(t *testing.T) {
	preHeader := bytes.Repeat([]byte{0xAA}, preHeaderSize)
	payload := append(append([]byte{}, preHeader...), []byte{1, 2, 3}...)
	p := &Packet{Marker: MarkerInfo, Data: payload}

	info := ParseInfoPacket(p)
	if info.MediaInfo == nil || info.ExtInfo == nil {
		t.Fatalf("expected non-nil metadata maps even for garbage ASF data")
	}

	// A Content Description Object (size 36) whose only field is the
	// title "T": it is found only if the 8 pre-header bytes are skipped.
	contentDesc := []byte{
		0x33, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C,
		36, 0, 0, 0, 0, 0, 0, 0,
		2, 0, 0, 0, 0, 0, 0, 0, 0, 0,
		'T', 0,
	}
	withASF := append(append([]byte{}, preHeader...), contentDesc...)
	info = ParseInfoPacket(&Packet{Marker: MarkerInfo, Data: withASF})
	if info.MediaInfo["title"] != "T" {
		t.Errorf("MediaInfo[title] = %q, want T (pre-header not skipped?)", info.MediaInfo["title"])
	}
}
