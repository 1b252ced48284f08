package llm

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func collectPayloads(t *testing.T, d *FrameDecoder) ([]string, error) {
	t.Helper()
	var out []string
	for {
		p, err := d.Next()
		if err != nil {
			return out, err
		}
		out = append(out, p)
	}
}

func TestFrameDecoder_ReassemblesSplitFrames(t *testing.T) {
	body := "data: {\"content\":\"Hel\"}\n\ndata: {\"content\":\"lo\"}\n\ndata: [DONE]\n\n"
	d := NewFrameDecoder(iotest.OneByteReader(strings.NewReader(body)))

	got, err := collectPayloads(t, d)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	want := []string{`{"content":"Hel"}`, `{"content":"lo"}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("payloads = %q, want %q", got, want)
	}
	if !d.SawDone() {
		t.Error("expected SawDone after [DONE] frame")
	}
	if !d.Clean() {
		t.Error("expected clean end at frame boundary")
	}
}

func TestFrameDecoder_DoneIsNeverEmitted(t *testing.T) {
	d := NewFrameDecoder(strings.NewReader("data: [DONE]\n\ndata: [DONE]\n\n"))
	got, err := collectPayloads(t, d)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if len(got) != 0 {
		t.Fatalf("payloads = %q, want none", got)
	}
}

func TestFrameDecoder_IgnoresFramesWithoutDataPrefix(t *testing.T) {
	body := ": keep-alive\n\nevent: ping\ndata: skipped\n\nretry: 10\n\ndata: kept\n\n"
	got, err := collectPayloads(t, NewFrameDecoder(strings.NewReader(body)))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if len(got) != 1 || got[0] != "kept" {
		t.Fatalf("payloads = %q, want [kept]", got)
	}
}

func TestFrameDecoder_CRLFAcrossReads(t *testing.T) {
	body := "data: a\r\n\r\ndata: b\r\n\r\n"
	got, err := collectPayloads(t, NewFrameDecoder(iotest.OneByteReader(strings.NewReader(body))))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if strings.Join(got, ",") != "a,b" {
		t.Fatalf("payloads = %q, want [a b]", got)
	}
}

func TestFrameDecoder_MultiLineData(t *testing.T) {
	got, _ := collectPayloads(t, NewFrameDecoder(strings.NewReader("data: line1\ndata: line2\n\n")))
	if len(got) != 1 || got[0] != "line1\nline2" {
		t.Fatalf("payloads = %q", got)
	}
}

func TestFrameDecoder_RetainsPartialFrame(t *testing.T) {
	d := NewFrameDecoder(strings.NewReader("data: first\n\ndata: {\"content\":\"tru"))
	got, err := collectPayloads(t, d)
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	if len(got) != 1 || got[0] != "first" {
		t.Fatalf("payloads = %q, want [first]", got)
	}
	if d.Clean() {
		t.Error("expected unclean end with a partial frame pending")
	}
	if d.Pending() != `data: {"content":"tru` {
		t.Errorf("Pending() = %q", d.Pending())
	}
}

func TestFrameDecoder_ReaderError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: ok\n\n"), iotest.ErrReader(boom))
	got, err := collectPayloads(t, NewFrameDecoder(r))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("payloads = %q, want [ok]", got)
	}
}

func TestFrameDecoder_ExtraBlankLinesBetweenFrames(t *testing.T) {
	body := "data: {\"content\":\"a\"}\n\n\ndata: {\"content\":\"b\"}\n\n\n\n\ndata: {\"content\":\"c\"}\n\n"
	got, err := collectPayloads(t, NewFrameDecoder(iotest.OneByteReader(strings.NewReader(body))))
	if err != io.EOF {
		t.Fatalf("err = %v, want io.EOF", err)
	}
	want := []string{`{"content":"a"}`, `{"content":"b"}`, `{"content":"c"}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("payloads = %q, want %q", got, want)
	}
}
