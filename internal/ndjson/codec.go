// Package ndjson implements a generic newline-delimited JSON encoder/decoder,
// and the HostChatMessage envelope used to read host-chat session transcripts
// for the confirmation loop worker (C10) and runtime bridge (C11).
package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// MaxMessageSize is the maximum NDJSON message size (256 KiB).
const MaxMessageSize = 256 * 1024

// Encoder writes NDJSON messages to an output stream.
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder.
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{writer: bufio.NewWriter(w), logger: logger}
}

// Encode writes a message as a single JSON line.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: marshal message: %w", err)
	}
	if len(data) > MaxMessageSize {
		e.logger.Error("message exceeds size limit", "size", len(data), "limit", MaxMessageSize)
		return fmt.Errorf("ndjson: message size %d exceeds limit %d", len(data), MaxMessageSize)
	}
	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("ndjson: write message: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("ndjson: write newline: %w", err)
	}
	return e.writer.Flush()
}

// Decoder reads NDJSON messages from an input stream.
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	lineNum int
}

// NewDecoder creates a new NDJSON decoder.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, MaxMessageSize)
	return &Decoder{scanner: scanner, logger: logger}
}

// Decode reads the next NDJSON message, skipping blank lines.
func (d *Decoder) Decode(v any) error {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return fmt.Errorf("ndjson: scanner error at line %d: %w", d.lineNum, err)
		}
		return io.EOF
	}
	d.lineNum++
	data := d.scanner.Bytes()
	if len(data) == 0 {
		return d.Decode(v)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ndjson: unmarshal line %d: %w", d.lineNum, err)
	}
	return nil
}

// HostChatRole is the closed set of roles a host-chat session transcript may
// tag a message with.
type HostChatRole string

const (
	RoleUser      HostChatRole = "user"
	RoleAssistant HostChatRole = "assistant"
	RoleSystem    HostChatRole = "system"
)

// HostChatMessage is one line of a host-chat session transcript, stripped of
// whatever transport envelope the host actually uses (§4.10 step 3).
type HostChatMessage struct {
	ID   string       `json:"id"`
	Role HostChatRole `json:"role"`
	TS   string       `json:"ts"`
	Text string       `json:"text"`
}

// ReadUserMessagesFrom reads every HostChatMessage record in r and returns
// only the user-role ones, in file order.
func ReadUserMessagesFrom(r io.Reader, logger *slog.Logger) ([]HostChatMessage, error) {
	dec := NewDecoder(r, logger)
	var out []HostChatMessage
	for {
		var msg HostChatMessage
		err := dec.Decode(&msg)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed transcript line is skipped, not fatal: the worker
			// must keep making progress even if one host-chat line is garbled.
			continue
		}
		if msg.Role == RoleUser {
			out = append(out, msg)
		}
	}
	return out, nil
}
