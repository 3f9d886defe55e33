package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decoder reads frames from a byte stream. It holds at most one frame in
// memory and reuses its buffer between calls, so it is not safe for
// concurrent use.
type Decoder struct {
	r      io.Reader
	header [lenFieldSize]byte
	buf    []byte
	max    uint32
	err    error
}

// NewDecoder returns a Decoder reading from r with the default MaxFrameSize.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, max: MaxFrameSize}
}

// SetMaxFrameSize lowers or raises the largest body length accepted.
// Zero restores MaxFrameSize.
func (d *Decoder) SetMaxFrameSize(n uint32) {
	if n == 0 {
		n = MaxFrameSize
	}
	d.max = n
}

// Next blocks until one complete frame has arrived and returns its Message.
//
// It returns ErrConnectionClosed when the stream ends exactly on a frame
// boundary, and a *ProtocolError when the stream ends mid-frame or the frame
// is malformed. Once Next has returned an error every later call returns the
// same error.
func (d *Decoder) Next() (Message, error) {
	if d.err != nil {
		return Message{}, d.err
	}
	m, err := d.next()
	if err != nil {
		d.err = err
	}
	return m, err
}

func (d *Decoder) next() (Message, error) {
	n, err := io.ReadFull(d.r, d.header[:])
	switch {
	case errors.Is(err, io.EOF) && n == 0:
		return Message{}, ErrConnectionClosed
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Message{}, protocolErr(fmt.Sprintf("truncated length header (%d of %d bytes)", n, lenFieldSize), err)
	case err != nil:
		return Message{}, err
	}

	size := binary.BigEndian.Uint32(d.header[:])
	if size > d.max {
		return Message{}, protocolErr(fmt.Sprintf("frame length %d exceeds limit %d", size, d.max), nil)
	}

	if cap(d.buf) < int(size) {
		d.buf = make([]byte, size)
	}
	body := d.buf[:size]
	if n, err := io.ReadFull(d.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, protocolErr(fmt.Sprintf("truncated frame body (%d of %d bytes)", n, size), io.ErrUnexpectedEOF)
		}
		return Message{}, err
	}
	return Decode(body)
}

// WriteVersion writes the connection greeting byte.
func WriteVersion(w io.Writer) error {
	_, err := w.Write([]byte{ProtocolVersion})
	return err
}

// ReadVersion reads the connection greeting byte and checks it.
func ReadVersion(r io.Reader) error {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrConnectionClosed
		}
		return err
	}
	if b[0] != ProtocolVersion {
		return protocolErr(fmt.Sprintf("bad version %d, want %d", b[0], ProtocolVersion), ErrVersionMismatch)
	}
	return nil
}
