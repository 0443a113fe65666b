// Package bridge implements C11: the runtime hooks that connect the
// state-consistency engine to a host chat runtime — pre-response context
// injection, inbound message ingestion, and the /state-confirm command.
package bridge

import (
	"fmt"
	"strings"

	"github.com/ajeenkya/openclaw-state-consistency/internal/confirmloop"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// DefaultInjectMaxFields is §4.11 Hook A's default truncation cap.
const DefaultInjectMaxFields = 32

// BuildContext renders Hook A's pre-response context block (§4.11).
func BuildContext(doc *model.Document, activePromptID string, maxFields int) string {
	if maxFields <= 0 {
		maxFields = DefaultInjectMaxFields
	}

	var b strings.Builder
	b.WriteString("Known state:\n")

	keys := store.SortedRecordKeys(doc)
	shown := keys
	omitted := 0
	if len(keys) > maxFields {
		shown = keys[:maxFields]
		omitted = len(keys) - maxFields
	}
	for _, k := range shown {
		rec := doc.Entities[k.EntityID].State[k.Domain][k.Field]
		fmt.Fprintf(&b, "- [%s] %s.%s = %s (confidence=%.3f, source=%s)\n",
			k.EntityID, k.Domain, k.Field, summarize(rec.Value), rec.Confidence, rec.Source)
	}
	if omitted > 0 {
		fmt.Fprintf(&b, "%d more omitted\n", omitted)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Pending confirmations: %d\n", len(doc.PendingConfirmations))

	active := activePromptID
	if active == "" {
		if p := firstByCreatedAt(doc); p != nil {
			active = p.PromptID
		}
	}
	if active != "" {
		if p, ok := doc.PendingConfirmations[active]; ok {
			fmt.Fprintf(&b, "Active pending check: %s %s = %s\n", shortID(p.PromptID), p.ObservationEvent.Field, summarize(p.ObservationEvent.CandidateValue))
		}
	}

	b.WriteString("If chat context conflicts with this snapshot, prefer this snapshot.")
	return b.String()
}

func firstByCreatedAt(doc *model.Document) *model.PendingPrompt {
	sorted := store.SortedPendingPrompts(doc)
	if len(sorted) == 0 {
		return nil
	}
	return &sorted[0]
}

func summarize(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "<none>"
	default:
		return fmt.Sprintf("%v", val)
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ResolveActivePromptID mirrors §4.11 Hook A's "active prompt" resolution:
// the confirmation worker's runtime state if it names one, else empty (the
// caller falls back to first-by-created-at inside BuildContext).
func ResolveActivePromptID(workerStatePath string) string {
	st, err := confirmloop.LoadRuntimeState(workerStatePath)
	if err != nil {
		return ""
	}
	return st.ActivePromptID
}
