package ndjson

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	enc := NewEncoder(&buf, logger)
	if err := enc.Encode(sample{Name: "a", Value: 1}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := enc.Encode(sample{Name: "b", Value: 2}); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	dec := NewDecoder(&buf, logger)
	var first, second sample
	if err := dec.Decode(&first); err != nil {
		t.Fatalf("Decode first: %v", err)
	}
	if err := dec.Decode(&second); err != nil {
		t.Fatalf("Decode second: %v", err)
	}
	if first.Name != "a" || second.Name != "b" {
		t.Errorf("got %+v, %+v", first, second)
	}

	var extra sample
	if err := dec.Decode(&extra); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestDecodeSkipsBlankLines(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	input := strings.NewReader("\n\n{\"name\":\"x\",\"value\":9}\n")
	dec := NewDecoder(input, logger)

	var got sample
	if err := dec.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name != "x" || got.Value != 9 {
		t.Errorf("got %+v", got)
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	enc := NewEncoder(&buf, logger)

	big := sample{Name: strings.Repeat("x", MaxMessageSize), Value: 1}
	err := enc.Encode(big)
	if err == nil {
		t.Fatal("expected error for oversized message")
	}
	if !strings.Contains(err.Error(), "exceeds limit") {
		t.Errorf("got error: %v", err)
	}
}

func TestReadUserMessagesFromFiltersRoleAndSkipsGarbage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transcript := strings.Join([]string{
		`{"id":"m1","role":"assistant","ts":"2026-07-30T10:00:00Z","text":"hi"}`,
		`not json at all`,
		`{"id":"m2","role":"user","ts":"2026-07-30T10:01:00Z","text":"confirm ab12cd34"}`,
		`{"id":"m3","role":"system","ts":"2026-07-30T10:02:00Z","text":"note"}`,
		`{"id":"m4","role":"user","ts":"2026-07-30T10:03:00Z","text":"yes"}`,
		``,
	}, "\n")

	msgs, err := ReadUserMessagesFrom(strings.NewReader(transcript), logger)
	if err != nil {
		t.Fatalf("ReadUserMessagesFrom: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 user messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].ID != "m2" || msgs[1].ID != "m4" {
		t.Errorf("unexpected order/content: %+v", msgs)
	}
}
