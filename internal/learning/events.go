// Package learning implements C9: the append-only learning-event log fed by
// every resolved ask_user prompt (§4.6, §4.9), and the adaptive per-domain
// threshold learner that reads it back.
package learning

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/fsutil"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
)

// Outcome is the closed set of learning-event outcomes (§4.9).
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeCorrected Outcome = "corrected"
)

// EventLog is the append-only NDJSON log of learning events.
type EventLog struct {
	path string
}

// NewEventLog opens the learning-event log at path.
func NewEventLog(path string) *EventLog {
	return &EventLog{path: path}
}

// Append writes ev (stamping a fresh LearningEventID if empty) to the log.
func (l *EventLog) Append(ev model.LearningEvent) error {
	if ev.LearningEventID == "" {
		ev.LearningEventID = ids.New()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("learning: marshal event: %w", err)
	}
	return fsutil.AppendLine(l.path, string(line))
}

// ReadAll reads every event in the log, in file order, skipping malformed
// lines (the same tolerant-fold posture as the DLQ log, §4.1).
func (l *EventLog) ReadAll() ([]model.LearningEvent, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("learning: open log: %w", err)
	}
	defer f.Close()

	var events []model.LearningEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev model.LearningEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("learning: scan log: %w", err)
	}
	return events, nil
}

// Since filters events to those within lookback of now.
func Since(events []model.LearningEvent, now time.Time, lookbackDays int) []model.LearningEvent {
	cutoff := now.AddDate(0, 0, -lookbackDays)
	var out []model.LearningEvent
	for _, ev := range events {
		if !ev.TS.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}
