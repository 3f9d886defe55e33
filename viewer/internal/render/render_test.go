package render

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/remdbg/remdbg/pkg/wire"
)

func msg(p wire.Payload) wire.Message {
	return wire.Message{
		Timestamp: 1700000000123,
		ThreadID:  "7",
		Location:  wire.Location{File: "app/main.go", Line: 42},
		Payload:   p,
	}
}

func TestPlain_Text(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, FormatPlain, false)

	if err := p.Message(msg(wire.Text("hello"))); err != nil {
		t.Fatalf("Message: %v", err)
	}
	want := "T:1700000000123 THR:7 app/main.go:42 hello\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestPlain_MultilineTextStartsOnNextLine(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, FormatPlain, false)
	p.Message(msg(wire.Text("line one\nline two")))

	want := "T:1700000000123 THR:7 app/main.go:42\nline one\nline two\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestPlain_TrailingNewlineStaysInline(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, FormatPlain, false)
	p.Message(msg(wire.Text("done\n")))

	want := "T:1700000000123 THR:7 app/main.go:42 done\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestPlain_Values(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, FormatPlain, false)
	p.Message(msg(wire.Values{{Expr: "x", Value: "1"}, {Expr: "name", Value: "gopher"}}))

	want := "T:1700000000123 THR:7 app/main.go:42\n  x = 1\n  name = gopher\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}

func TestStructured_Dump(t *testing.T) {
	var out bytes.Buffer
	p := New(&out, &bytes.Buffer{}, FormatStructured, false)
	p.Message(msg(wire.Values{{Expr: "x", Value: "1"}}))

	got := out.String()
	for _, want := range []string{
		"Message {\n",
		"    time: 1700000000123,\n",
		"    thread_id: \"7\",\n",
		"    file: \"app/main.go\",\n",
		"    line: 42,\n",
		"        (\"x\", \"1\"),\n",
		"}\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestUnknownFormatFallsBackToPlain(t *testing.T) {
	var out bytes.Buffer
	New(&out, &bytes.Buffer{}, "fancy", false).Message(msg(wire.Text("x")))
	if !strings.HasPrefix(out.String(), "T:") {
		t.Errorf("got %q, want plain output", out.String())
	}
}

func TestBanners(t *testing.T) {
	var out, diag bytes.Buffer
	p := New(&out, &diag, FormatPlain, false)

	p.Connected("127.0.0.1:13579")
	p.Disconnected("127.0.0.1:13579", nil)
	p.Disconnected("127.0.0.1:13579", errors.New("corrupt frame"))

	want := "*** Connected to 127.0.0.1:13579 ***\n" +
		"*** Disconnected from 127.0.0.1:13579 ***\n" +
		"*** Disconnected from 127.0.0.1:13579 (corrupt frame) ***\n"
	if diag.String() != want {
		t.Errorf("diag = %q, want %q", diag.String(), want)
	}
	if out.Len() != 0 {
		t.Errorf("banners leaked to message output: %q", out.String())
	}
}

func TestColor_NoEscapesOnNonTerminal(t *testing.T) {
	var out bytes.Buffer
	New(&out, &bytes.Buffer{}, FormatPlain, true).Message(msg(wire.Text("hi")))
	if strings.Contains(out.String(), "\x1b[") {
		t.Errorf("ANSI escapes written to a non-terminal: %q", out.String())
	}
}
