// Package asf reads Advanced Systems Format header objects out of an
// in-memory byte buffer, the way an MMS info packet's payload carries
// them.
//
// Only the three object types a reflector cares about are understood:
// the Header Object (a container), the Content Description Object, and
// the Extended Content Description Object. Anything else is skipped by
// seeking past it. A short read anywhere is reported as io.ErrUnexpectedEOF
// and simply stops parsing — a truncated info packet yields whatever
// metadata was read before the cut.
package asf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// Object GUIDs as they appear on the wire (already little-endian encoded,
// compared byte-for-byte — never reformatted into canonical GUID text).
var (
	guidHeader           = [16]byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}
	guidContentDesc      = [16]byte{0x33, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}
	guidExtContentDesc   = [16]byte{0x40, 0xA4, 0xD0, 0xD2, 0x07, 0xE3, 0xD2, 0x11, 0x97, 0xF0, 0x00, 0xA0, 0xC9, 0x5E, 0xA8, 0x50}
)

// Descriptor value types used by the Extended Content Description Object.
const (
	DescString    = 0
	DescBytes     = 1
	DescBool      = 2
	DescDWord     = 3
	DescQWord     = 4
	DescWord      = 5
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

// Reader parses ASF objects from a byte buffer and accumulates the media
// metadata it recognizes.
type Reader struct {
	r         *bytes.Reader
	MediaInfo map[string]string
	ExtInfo   map[string]interface{}
}

// NewReader wraps buf for parsing. The reader is single-use.
func NewReader(buf []byte) *Reader {
	return &Reader{
		r:         bytes.NewReader(buf),
		MediaInfo: make(map[string]string),
		ExtInfo:   make(map[string]interface{}),
	}
}

// Parse reads ASF objects from the buffer until it is exhausted or a
// short read is hit. Parsing simply stops on a short read — whatever was
// already accumulated in MediaInfo/ExtInfo is returned as-is, matching
// the Python EOFError-is-caught-by-the-caller behavior.
func (r *Reader) Parse() {
	for {
		if err := r.readObject(); err != nil {
			return
		}
	}
}

func (r *Reader) readObject() error {
	var guid [16]byte
	if _, err := io.ReadFull(r.r, guid[:]); err != nil {
		return io.ErrUnexpectedEOF
	}

	var size uint64
	if err := binary.Read(r.r, binary.LittleEndian, &size); err != nil {
		return io.ErrUnexpectedEOF
	}

	switch guid {
	case guidHeader:
		return r.readHeaderObject()
	case guidContentDesc:
		return r.readContentDescriptionObject()
	case guidExtContentDesc:
		return r.readExtendedContentDescriptionObject()
	default:
		// 24 = 16-byte GUID + 8-byte size already consumed.
		remaining := int64(size) - 24
		if remaining < 0 {
			return fmt.Errorf("asf: negative object remainder")
		}
		if _, err := r.r.Seek(remaining, io.SeekCurrent); err != nil {
			return io.ErrUnexpectedEOF
		}
		return nil
	}
}

func (r *Reader) readHeaderObject() error {
	var objectCount uint32
	if err := binary.Read(r.r, binary.LittleEndian, &objectCount); err != nil {
		return io.ErrUnexpectedEOF
	}
	var reserved [2]byte
	if _, err := io.ReadFull(r.r, reserved[:]); err != nil {
		return io.ErrUnexpectedEOF
	}

	for i := uint32(0); i < objectCount; i++ {
		if err := r.readObject(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readContentDescriptionObject() error {
	var lengths [5]uint16
	if err := binary.Read(r.r, binary.LittleEndian, &lengths); err != nil {
		return io.ErrUnexpectedEOF
	}

	keys := [5]string{"title", "author", "copyright", "description", "rating"}
	for i, size := range lengths {
		if size == 0 {
			continue
		}
		s, err := r.readString(int(size))
		if err != nil {
			return err
		}
		r.MediaInfo[keys[i]] = s
	}
	return nil
}

func (r *Reader) readExtendedContentDescriptionObject() error {
	var count uint16
	if err := binary.Read(r.r, binary.LittleEndian, &count); err != nil {
		return io.ErrUnexpectedEOF
	}

	for i := uint16(0); i < count; i++ {
		var nameLen uint16
		if err := binary.Read(r.r, binary.LittleEndian, &nameLen); err != nil {
			return io.ErrUnexpectedEOF
		}
		if nameLen == 0 {
			continue
		}
		name, err := r.readString(int(nameLen))
		if err != nil {
			return err
		}

		var descType, valueLen uint16
		if err := binary.Read(r.r, binary.LittleEndian, &descType); err != nil {
			return io.ErrUnexpectedEOF
		}
		if err := binary.Read(r.r, binary.LittleEndian, &valueLen); err != nil {
			return io.ErrUnexpectedEOF
		}

		value, err := r.readDescriptorValue(descType, int(valueLen))
		if err != nil {
			return err
		}
		r.ExtInfo[name] = value

		if name == "WM/ParentalRating" {
			if s, ok := value.(string); ok {
				r.MediaInfo["rating"] = s
			} else {
				r.MediaInfo["rating"] = fmt.Sprintf("%v", value)
			}
		}
	}
	return nil
}

func (r *Reader) readDescriptorValue(descType uint16, size int) (interface{}, error) {
	switch descType {
	case DescString:
		return r.readString(size)
	case DescBool:
		v, err := r.readUint32(size)
		if err != nil {
			return nil, err
		}
		return v != 0, nil
	case DescDWord:
		return r.readUint32(size)
	case DescQWord:
		buf := make([]byte, size)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		if size < 8 {
			return uint64(0), nil
		}
		return binary.LittleEndian.Uint64(buf), nil
	case DescWord:
		buf := make([]byte, size)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		if size < 2 {
			return uint16(0), nil
		}
		return binary.LittleEndian.Uint16(buf), nil
	default: // DescBytes and anything unrecognized: raw bytes.
		buf := make([]byte, size)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return buf, nil
	}
}

func (r *Reader) readUint32(size int) (uint32, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return 0, io.ErrUnexpectedEOF
	}
	if size < 4 {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// readString reads length bytes of UTF-16LE text, stripping a trailing
// NUL terminator if present, and decodes it to UTF-8.
func (r *Reader) readString(length int) (string, error) {
	raw := make([]byte, length)
	if _, err := io.ReadFull(r.r, raw); err != nil {
		return "", io.ErrUnexpectedEOF
	}
	if len(raw) >= 2 && raw[len(raw)-2] == 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-2]
	}
	decoded, err := utf16le.Bytes(raw)
	if err != nil {
		return "", nil
	}
	return string(decoded), nil
}
