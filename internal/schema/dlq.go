package schema

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ajeenkya/openclaw-state-consistency/internal/fsutil"
	"github.com/ajeenkya/openclaw-state-consistency/internal/ids"
)

// DLQStatus is the closed set of DLQ entry statuses.
type DLQStatus string

const (
	StatusPendingRetry    DLQStatus = "pending_retry"
	StatusResolved        DLQStatus = "resolved"
	StatusFailedPermanent DLQStatus = "failed_permanent"
)

// DefaultMaxRetries is the default retry ceiling (§4.1).
const DefaultMaxRetries = 5

// DLQEntry is one fold-accumulated, authoritative view of a quarantined
// payload, keyed by DLQID. The on-disk log is append-only NDJSON; entries
// are reconstructed by folding every line for a given dlq_id, last write
// wins per field (§4.1 "DLQ state rebuild").
type DLQEntry struct {
	DLQID            string          `json:"dlq_id"`
	SchemaName       Name            `json:"schema_name"`
	Payload          json.RawMessage `json:"payload"`
	ValidationErrors []string        `json:"validation_errors"`
	FirstSeenTS      time.Time       `json:"first_seen_ts"`
	RetryCount       int             `json:"retry_count"`
	NextRetryTS      time.Time       `json:"next_retry_ts"`
	Status           DLQStatus       `json:"status"`
	LastRetryTS      *time.Time      `json:"last_retry_ts,omitempty"`
	LastResultStatus string          `json:"last_result_status,omitempty"`
}

// BackoffSchedule is the fixed retry backoff table from §4.1: 60s, 5m, 30m,
// 2h; further retries reuse the last interval.
var BackoffSchedule = []time.Duration{
	60 * time.Second,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// tableBackOff adapts BackoffSchedule to the cenkalti/backoff BackOff
// interface. internal/dlqretry does not use it: it computes next_retry_ts
// with IntervalForRetryCount.
type tableBackOff struct {
	schedule []time.Duration
	attempt  int
}

// NewTableBackOff returns a backoff.BackOff that walks BackoffSchedule and
// then repeats its last interval forever.
func NewTableBackOff() backoff.BackOff {
	return &tableBackOff{schedule: BackoffSchedule}
}

func (b *tableBackOff) NextBackOff() time.Duration {
	idx := b.attempt
	if idx >= len(b.schedule) {
		idx = len(b.schedule) - 1
	}
	b.attempt++
	return b.schedule[idx]
}

func (b *tableBackOff) Reset() { b.attempt = 0 }

// IntervalForRetryCount returns the backoff interval that corresponds to a
// given retry_count, without mutating any shared stepper state.
func IntervalForRetryCount(retryCount int) time.Duration {
	idx := retryCount
	if idx < 0 {
		idx = 0
	}
	if idx >= len(BackoffSchedule) {
		idx = len(BackoffSchedule) - 1
	}
	return BackoffSchedule[idx]
}

// DLQ wraps the append-only NDJSON dead-letter log.
type DLQ struct {
	path string
}

// NewDLQ opens (without yet reading) the DLQ log at path.
func NewDLQ(path string) *DLQ {
	return &DLQ{path: path}
}

// Create quarantines a freshly failed payload and returns the new entry.
func (d *DLQ) Create(now time.Time, schemaName Name, payload []byte, validationErrors []string) (DLQEntry, error) {
	entry := DLQEntry{
		DLQID:            ids.New(),
		SchemaName:       schemaName,
		Payload:          json.RawMessage(append([]byte(nil), payload...)),
		ValidationErrors: validationErrors,
		FirstSeenTS:      now,
		RetryCount:       0,
		NextRetryTS:      now.Add(BackoffSchedule[0]),
		Status:           StatusPendingRetry,
	}
	return entry, d.append(entry)
}

// Update appends an updated view of an existing entry (by DLQID) to the log.
func (d *DLQ) Update(entry DLQEntry) error {
	return d.append(entry)
}

func (d *DLQ) append(entry DLQEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dlq: marshal entry: %w", err)
	}
	return fsutil.AppendLine(d.path, string(line))
}

// FoldResult is the outcome of reading and folding the DLQ log.
type FoldResult struct {
	Entries       map[string]DLQEntry
	MalformedLines int
}

// Fold reconstructs the authoritative state of every DLQ entry by replaying
// every line, last-write-wins per dlq_id, per §4.1. Malformed lines are
// counted, not fatal, per §4.1's error-conditions rule.
func (d *DLQ) Fold() (FoldResult, error) {
	result := FoldResult{Entries: map[string]DLQEntry{}}

	f, err := os.Open(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("dlq: open log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry DLQEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			result.MalformedLines++
			continue
		}
		result.Entries[entry.DLQID] = entry
	}
	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("dlq: scan log: %w", err)
	}
	return result, nil
}

// PendingRetryable returns entries with status=pending_retry, due per
// includeNotDue, sorted by first_seen_ts ascending (§4.8).
func (fr FoldResult) PendingRetryable(now time.Time, includeNotDue bool) []DLQEntry {
	var out []DLQEntry
	for _, e := range fr.Entries {
		if e.Status != StatusPendingRetry {
			continue
		}
		if !includeNotDue && e.NextRetryTS.After(now) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FirstSeenTS.Before(out[j].FirstSeenTS)
	})
	return out
}
