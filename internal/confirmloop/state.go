package confirmloop

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/fsutil"
)

// RuntimeState is the confirmation loop's persisted cursor, one JSON file
// per §4.10 and §6's "Files (persisted state)" table.
type RuntimeState struct {
	Version          string     `json:"version"`
	Target           string     `json:"target"` // chat/channel identifier the worker dispatches to
	EntityID         string     `json:"entity_id"`
	SessionID        string     `json:"session_id"`
	SessionFile      string     `json:"session_file"`
	SessionCursor    int64      `json:"session_cursor"` // byte offset into SessionFile already consumed
	ActivePromptID   string     `json:"active_prompt_id,omitempty"`
	ActiveMessageID  string     `json:"active_message_id,omitempty"`
	LastDispatchedAt *time.Time `json:"last_dispatched_at,omitempty"`
	LastDecisionAt   *time.Time `json:"last_decision_at,omitempty"`
}

// LoadRuntimeState reads the confirmation loop's state file, returning a
// fresh zero-value state (version "1") on first run.
func LoadRuntimeState(path string) (*RuntimeState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &RuntimeState{Version: "1"}, nil
	}
	if err != nil {
		return nil, err
	}
	var st RuntimeState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// SaveRuntimeState atomically persists st.
func SaveRuntimeState(path string, st *RuntimeState) error {
	return fsutil.AtomicWriteJSON(path, st)
}
