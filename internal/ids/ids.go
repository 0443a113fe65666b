// Package ids provides identifier generation and matching for the
// state-consistency engine: random uuids for prompts/DLQ entries, and
// content-derived uuid5 identifiers for signal-adapter event-ids so that
// re-polling the same external fact is always idempotent (§3, §4.5, §9).
package ids

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ajeenkya/openclaw-state-consistency/internal/idempotency"
)

// EventNamespace is the fixed namespace used to derive event-ids from the
// identifying tuple (kind, mode, entity_id, ref, value). Using a fixed
// namespace (rather than uuid.NameSpaceDNS/URL) keeps ids stable across
// deployments and is itself part of the idempotency contract: changing it
// would silently un-dedupe every previously ingested signal.
var EventNamespace = uuid.MustParse("7c6f9b2a-7f0e-4b7b-9a9b-8f7a3e9c9d11")

// New returns a new random (v4) identifier.
func New() string {
	return uuid.NewString()
}

// ContentDerivedEventID builds a deterministic event_id for a signal item
// by hashing the canonical serialization of (kind, mode, entity_id, ref, value)
// into a uuid5 under EventNamespace. Same input always yields the same id.
func ContentDerivedEventID(kind, mode, entityID, ref string, value any) (string, error) {
	canon, err := idempotency.CanonicalJSON(value)
	if err != nil {
		return "", fmt.Errorf("ids: canonicalize value: %w", err)
	}
	name := strings.Join([]string{kind, mode, entityID, ref, string(canon)}, ":")
	return uuid.NewSHA1(EventNamespace, []byte(name)).String(), nil
}

// IsValid reports whether s is a syntactically valid uuid (any version).
func IsValid(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// MatchesPrefix reports whether candidate equals ref, or ref is a case
// insensitive prefix of candidate of at least minLen characters — the
// prompt-reference matching rule used by C10's reply parser and C11's
// /state-confirm command handler.
func MatchesPrefix(candidate, ref string, minLen int) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if ref == "" || len(ref) < minLen {
		return false
	}
	if ref == candidate {
		return true
	}
	return strings.HasPrefix(candidate, ref)
}

