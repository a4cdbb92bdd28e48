package asf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func utf16leBytes(s string) []byte {
	var buf bytes.Buffer
	for _, r := range s {
		buf.WriteByte(byte(r))
		buf.WriteByte(byte(r >> 8))
	}
	return buf.Bytes()
}

func encodeObject(guid [16]byte, body []byte) []byte {
	var buf bytes.Buffer
	buf.Write(guid[:])
	binary.Write(&buf, binary.LittleEndian, uint64(24+len(body)))
	buf.Write(body)
	return buf.Bytes()
}

func TestContentDescriptionObjectOrderAndCount(t *testing.T) {
	title := utf16leBytes("Title")
	author := utf16leBytes("Author")
	copyr := utf16leBytes("Copyright")
	desc := utf16leBytes("Description")
	rating := utf16leBytes("Rating")

	var body bytes.Buffer
	lengths := []uint16{uint16(len(title)), uint16(len(author)), uint16(len(copyr)), uint16(len(desc)), uint16(len(rating))}
	for _, l := range lengths {
		binary.Write(&body, binary.LittleEndian, l)
	}
	body.Write(title)
	body.Write(author)
	body.Write(copyr)
	body.Write(desc)
	body.Write(rating)

	obj := encodeObject(guidContentDesc, body.Bytes())

	r := NewReader(obj)
	r.Parse()

	wantOrder := []string{"title", "author", "copyright", "description", "rating"}
	if len(r.MediaInfo) != 5 {
		t.Fatalf("MediaInfo has %d entries, want 5: %v", len(r.MediaInfo), r.MediaInfo)
	}
	want := map[string]string{
		"title": "Title", "author": "Author", "copyright": "Copyright",
		"description": "Description", "rating": "Rating",
	}
	for _, k := range wantOrder {
		if r.MediaInfo[k] != want[k] {
			t.Errorf("MediaInfo[%q] = %q, want %q", k, r.MediaInfo[k], want[k])
		}
	}
}

func TestContentDescriptionZeroLengthOmitted(t *testing.T) {
	title := utf16leBytes("OnlyTitle")

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(len(title)))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	body.Write(title)

	obj := encodeObject(guidContentDesc, body.Bytes())
	r := NewReader(obj)
	r.Parse()

	if len(r.MediaInfo) != 1 {
		t.Fatalf("MediaInfo has %d entries, want 1: %v", len(r.MediaInfo), r.MediaInfo)
	}
	if r.MediaInfo["title"] != "OnlyTitle" {
		t.Errorf("MediaInfo[title] = %q", r.MediaInfo["title"])
	}
}

func TestExtendedContentDescriptionParentalRating(t *testing.T) {
	name := utf16leBytes("WM/ParentalRating")
	value := utf16leBytes("PG")

	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(1)) // descriptor count
	binary.Write(&body, binary.LittleEndian, uint16(len(name)))
	body.Write(name)
	binary.Write(&body, binary.LittleEndian, uint16(DescString))
	binary.Write(&body, binary.LittleEndian, uint16(len(value)))
	body.Write(value)

	obj := encodeObject(guidExtContentDesc, body.Bytes())
	r := NewReader(obj)
	r.Parse()

	if r.ExtInfo["WM/ParentalRating"] != "PG" {
		t.Errorf("ExtInfo[WM/ParentalRating] = %v", r.ExtInfo["WM/ParentalRating"])
	}
	if r.MediaInfo["rating"] != "PG" {
		t.Errorf("MediaInfo[rating] = %v, want PG", r.MediaInfo["rating"])
	}
}

func TestUnknownObjectSkipped(t *testing.T) {
	unknownGUID := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	unknown := encodeObject(unknownGUID, []byte("ignored payload"))

	title := utf16leBytes("AfterUnknown")
	var body bytes.Buffer
	binary.Write(&body, binary.LittleEndian, uint16(len(title)))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	binary.Write(&body, binary.LittleEndian, uint16(0))
	body.Write(title)
	known := encodeObject(guidContentDesc, body.Bytes())

	buf := append(unknown, known...)

	r := NewReader(buf)
	r.Parse()

	if r.MediaInfo["title"] != "AfterUnknown" {
		t.Errorf("MediaInfo[title] = %q, want AfterUnknown", r.MediaInfo["title"])
	}
}

func TestHeaderObjectConsumesChildren(t *testing.T) {
	title := utf16leBytes("Nested")
	var cdBody bytes.Buffer
	binary.Write(&cdBody, binary.LittleEndian, uint16(len(title)))
	binary.Write(&cdBody, binary.LittleEndian, uint16(0))
	binary.Write(&cdBody, binary.LittleEndian, uint16(0))
	binary.Write(&cdBody, binary.LittleEndian, uint16(0))
	binary.Write(&cdBody, binary.LittleEndian, uint16(0))
	cdBody.Write(title)
	child := encodeObject(guidContentDesc, cdBody.Bytes())

	var headerBody bytes.Buffer
	binary.Write(&headerBody, binary.LittleEndian, uint32(1)) // object_count
	headerBody.WriteByte(0)                                   // reserved1
	headerBody.WriteByte(0)                                   // reserved2
	headerBody.Write(child)

	obj := encodeObject(guidHeader, headerBody.Bytes())
	r := NewReader(obj)
	r.Parse()

	if r.MediaInfo["title"] != "Nested" {
		t.Errorf("MediaInfo[title] = %q, want Nested", r.MediaInfo["title"])
	}
}

func TestShortReadStopsParsingWithoutPanic(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	r.Parse()
	if len(r.MediaInfo) != 0 {
		t.Errorf("expected no media info from a truncated buffer")
	}
}
