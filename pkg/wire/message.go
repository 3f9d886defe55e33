package wire

import (
	"fmt"
	"time"
)

// Kind is the payload-kind tag written as the first byte of a frame body.
type Kind uint8

const (
	KindText   Kind = 0
	KindValues Kind = 1
)

// String returns the human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindValues:
		return "values"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Location is the call site that produced a Message.
type Location struct {
	File string `json:"file"`
	Line uint32 `json:"line"`
}

// String formats the location as file:line.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Pair is one expression and its already-formatted value.
type Pair struct {
	Expr  string `json:"expr"`
	Value string `json:"value"`
}

// Payload is either Text or Values.
type Payload interface {
	Kind() Kind
}

// Text is a pre-formatted message line.
type Text string

// Kind implements Payload.
func (Text) Kind() Kind { return KindText }

// Values is an ordered expression/value dump. Order is the argument order at
// the call site.
type Values []Pair

// Kind implements Payload.
func (Values) Kind() Kind { return KindValues }

// Message is one debug event. Treat it as immutable once built: the transport
// and decoder share it between goroutines without copying.
type Message struct {
	// Timestamp is wall-clock milliseconds since the Unix epoch at creation.
	Timestamp uint64
	// ThreadID identifies the originating goroutine or thread.
	ThreadID string
	Location Location
	Payload  Payload
}

// NewText builds a text Message stamped with the current time.
func NewText(threadID string, loc Location, text string) Message {
	return Message{
		Timestamp: nowMillis(),
		ThreadID:  threadID,
		Location:  loc,
		Payload:   Text(text),
	}
}

// NewValues builds a value-dump Message stamped with the current time.
// pairs is copied so later changes by the caller cannot leak into the message.
// An empty dump is Values(nil), which is also what decoding produces.
func NewValues(threadID string, loc Location, pairs ...Pair) Message {
	var vals Values
	if len(pairs) > 0 {
		vals = make(Values, len(pairs))
		copy(vals, pairs)
	}
	return Message{
		Timestamp: nowMillis(),
		ThreadID:  threadID,
		Location:  loc,
		Payload:   vals,
	}
}

// Time returns Timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(int64(m.Timestamp))
}

// Kind returns the payload kind. A nil payload encodes as empty text.
func (m Message) Kind() Kind {
	if m.Payload == nil {
		return KindText
	}
	return m.Payload.Kind()
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}
