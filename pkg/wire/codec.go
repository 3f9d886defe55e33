package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// ProtocolVersion is the single byte a producer writes when a connection opens.
	ProtocolVersion byte = 1

	// MaxFrameSize bounds the body length a frame may announce.
	MaxFrameSize = 16 << 20

	lenFieldSize = 4
	// kind + timestamp + thread len + file len + line
	fixedBodySize = 1 + 8 + lenFieldSize + lenFieldSize + 4
)

// Encode returns the complete frame for m, length header included.
func Encode(m Message) ([]byte, error) {
	return AppendFrame(nil, m)
}

// AppendFrame appends the frame for m to dst and returns the extended slice.
// Strings that are not valid UTF-8 are sanitized with U+FFFD so the frame
// always decodes.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	thread := validUTF8(m.ThreadID)
	file := validUTF8(m.Location.File)

	n := fixedBodySize + len(thread) + len(file)
	switch p := m.Payload.(type) {
	case nil:
		n += lenFieldSize
	case Text:
		n += lenFieldSize + len(validUTF8(string(p)))
	case Values:
		n += lenFieldSize
		for _, pair := range p {
			n += 2*lenFieldSize + len(validUTF8(pair.Expr)) + len(validUTF8(pair.Value))
		}
	default:
		return dst, fmt.Errorf("wire: unsupported payload type %T", m.Payload)
	}
	if n > MaxFrameSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	if cap(dst)-len(dst) < lenFieldSize+n {
		grown := make([]byte, len(dst), len(dst)+lenFieldSize+n)
		copy(grown, dst)
		dst = grown
	}

	dst = binary.BigEndian.AppendUint32(dst, uint32(n))
	dst = append(dst, byte(m.Kind()))
	dst = binary.BigEndian.AppendUint64(dst, m.Timestamp)
	dst = appendString(dst, thread)
	dst = appendString(dst, file)
	dst = binary.BigEndian.AppendUint32(dst, m.Location.Line)

	switch p := m.Payload.(type) {
	case nil:
		dst = appendString(dst, "")
	case Text:
		dst = appendString(dst, validUTF8(string(p)))
	case Values:
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(p)))
		for _, pair := range p {
			dst = appendString(dst, validUTF8(pair.Expr))
			dst = appendString(dst, validUTF8(pair.Value))
		}
	}
	return dst, nil
}

// Decode parses one frame body (the bytes after the length header).
func Decode(body []byte) (Message, error) {
	r := bodyReader{buf: body}

	tag, err := r.u8()
	if err != nil {
		return Message{}, err
	}
	var m Message
	if m.Timestamp, err = r.u64(); err != nil {
		return Message{}, err
	}
	if m.ThreadID, err = r.str("thread id"); err != nil {
		return Message{}, err
	}
	if m.Location.File, err = r.str("filename"); err != nil {
		return Message{}, err
	}
	if m.Location.Line, err = r.u32(); err != nil {
		return Message{}, err
	}

	switch Kind(tag) {
	case KindText:
		s, err := r.str("text")
		if err != nil {
			return Message{}, err
		}
		m.Payload = Text(s)
	case KindValues:
		count, err := r.u32()
		if err != nil {
			return Message{}, err
		}
		// Every pair needs at least two length fields; reject counts the
		// remaining bytes cannot hold before allocating.
		if uint64(count)*2*lenFieldSize > uint64(r.remaining()) {
			return Message{}, protocolErr(fmt.Sprintf("pair count %d exceeds frame", count), nil)
		}
		// An empty dump decodes as nil, the form NewValues builds.
		var vals Values
		if count > 0 {
			vals = make(Values, 0, count)
		}
		for i := uint32(0); i < count; i++ {
			expr, err := r.str("expression")
			if err != nil {
				return Message{}, err
			}
			val, err := r.str("value")
			if err != nil {
				return Message{}, err
			}
			vals = append(vals, Pair{Expr: expr, Value: val})
		}
		m.Payload = vals
	default:
		return Message{}, protocolErr(fmt.Sprintf("unknown payload kind %d", tag), nil)
	}

	if r.remaining() != 0 {
		return Message{}, protocolErr(fmt.Sprintf("%d trailing bytes", r.remaining()), nil)
	}
	return m, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// bodyReader walks a frame body. Every read past the end is a ProtocolError.
type bodyReader struct {
	buf []byte
	off int
}

func (r *bodyReader) remaining() int { return len(r.buf) - r.off }

func (r *bodyReader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, protocolErr("truncated frame body", nil)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *bodyReader) u8() (byte, error) {
	b, err := r.next(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *bodyReader) u32() (uint32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *bodyReader) u64() (uint64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *bodyReader) str(field string) (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.remaining()) {
		return "", protocolErr(fmt.Sprintf("%s length %d exceeds frame", field, n), nil)
	}
	b, _ := r.next(int(n))
	if !utf8.Valid(b) {
		return "", protocolErr(field+" is not valid UTF-8", nil)
	}
	return string(b), nil
}
