// Package projection implements C7: deterministically rewriting the
// "Canonical State" and "State Change Log" machine-managed zones inside a
// Markdown artifact, with SHA-256 drift detection against the last hash the
// engine itself persisted.
package projection

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ajeenkya/openclaw-state-consistency/internal/checksum"
	"github.com/ajeenkya/openclaw-state-consistency/internal/fsutil"
	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

// Zone identifiers and headings (§4.7).
const (
	ZoneCanonicalState = "canonical_state"
	ZoneStateChangeLog = "state_change_log"

	HeadingCanonicalState = "Canonical State (Machine Managed)"
	HeadingStateChangeLog = "State Change Log (Machine Managed)"
)

const changeLogMaxLines = 20

// Engine renders and rewrites the two machine-managed zones.
type Engine struct {
	Store *store.Store
}

// New builds a projection Engine.
func New(s *store.Store) *Engine {
	return &Engine{Store: s}
}

// RenderCanonicalState renders the Canonical State zone body per §4.7.
func RenderCanonicalState(doc *model.Document) string {
	var b strings.Builder

	keys := store.SortedRecordKeys(doc)
	if len(keys) == 0 {
		b.WriteString("- No committed state yet.\n")
	} else {
		for _, k := range keys {
			rec, _ := store.GetRecord(doc, k.EntityID, k.Domain, k.Field)
			b.WriteString(fmt.Sprintf(
				"- [%s] %s.%s = %s (confidence=%.3f, source=%s)\n",
				k.EntityID, k.Domain, k.Field, encodeValue(rec.Value), rec.Confidence, rec.Source,
			))
		}
	}

	b.WriteString("\n")
	b.WriteString("Pending Confirmations\n\n")
	prompts := store.SortedPendingPrompts(doc)
	if len(prompts) == 0 {
		b.WriteString("- None\n")
	} else {
		for _, p := range prompts {
			b.WriteString(fmt.Sprintf(
				"- [%s] %s | %s (confidence=%.3f, prompt_id=%s)\n",
				p.EntityID, p.Domain, p.ProposedChange, p.Confidence, p.PromptID,
			))
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

// RenderStateChangeLog renders the last 20 audit lines, per §4.7.
func RenderStateChangeLog(auditLines []string) string {
	if len(auditLines) == 0 {
		return "- No state changes yet.\n"
	}
	start := 0
	if len(auditLines) > changeLogMaxLines {
		start = len(auditLines) - changeLogMaxLines
	}
	var b strings.Builder
	for _, line := range auditLines[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func encodeValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

// zonePattern matches one machine-managed zone block, capturing its id and body.
var zonePattern = regexp.MustCompile(`(?s)<!-- STATE:BEGIN zone_id=(\S+) schema=v1 -->\n(.*?)\n?<!-- STATE:END zone_id=\S+ -->`)

// hashBody delegates to checksum.SHA256Bytes, stripping its "sha256:" prefix
// to keep runtime.projection_hashes entries as bare hex (the format already
// persisted in the canonical document before this adaptation).
func hashBody(body string) string {
	return strings.TrimPrefix(checksum.SHA256Bytes([]byte(body)), "sha256:")
}

func zoneBlock(heading, zoneID, body string) string {
	return fmt.Sprintf("## %s\n\n<!-- STATE:BEGIN zone_id=%s schema=v1 -->\n%s<!-- STATE:END zone_id=%s -->\n", heading, zoneID, body, zoneID)
}

// extractExistingBody finds the current body of zoneID in content, if present.
func extractExistingBody(content, zoneID string) (string, bool) {
	for _, m := range zonePattern.FindAllStringSubmatch(content, -1) {
		if m[1] == zoneID {
			return m[2] + "\n", true
		}
	}
	return "", false
}

// stripZones removes every machine-managed zone (including its "## Heading"
// line immediately above) from content, so both blocks can be rebuilt at the
// end of the file (§4.7 "Write").
func stripZones(content string) string {
	headingPattern := regexp.MustCompile(`(?m)^## .+\n\n` + zonePattern.String())
	return strings.TrimRight(headingPattern.ReplaceAllString(content, ""), "\n")
}

// Render rebuilds the full document content: existing content with both
// machine-managed zones stripped, followed by freshly rendered Canonical
// State and State Change Log zones. Drift is detected by comparing each
// zone's existing in-file body hash against the last persisted hash; any
// mismatch is surfaced via driftHeadings so the caller can audit it before
// overwriting (§4.7).
type Render struct {
	Content        string
	NewHashes      map[string]string
	DriftHeadings  []string
}

// Apply computes the new document content for path's existing content and
// the current document state.
func Apply(existingContent string, doc *model.Document, auditLines []string) Render {
	canonicalBody := RenderCanonicalState(doc)
	changeLogBody := RenderStateChangeLog(auditLines)

	newHashes := map[string]string{}
	var drift []string

	checkDrift := func(heading, zoneID, newBody string) {
		newHash := hashBody(newBody)
		newHashes[heading] = newHash

		existingBody, present := extractExistingBody(existingContent, zoneID)
		if !present {
			return
		}
		existingHash := hashBody(existingBody)
		persistedHash := doc.Runtime.ProjectionHashes[heading]
		if persistedHash != "" && existingHash != persistedHash && existingHash != newHash {
			drift = append(drift, heading)
		}
	}
	checkDrift(HeadingCanonicalState, ZoneCanonicalState, canonicalBody)
	checkDrift(HeadingStateChangeLog, ZoneStateChangeLog, changeLogBody)

	stripped := stripZones(existingContent)
	var b strings.Builder
	b.WriteString(stripped)
	if stripped != "" {
		b.WriteString("\n\n")
	}
	b.WriteString(zoneBlock(HeadingCanonicalState, ZoneCanonicalState, canonicalBody))
	b.WriteString("\n")
	b.WriteString(zoneBlock(HeadingStateChangeLog, ZoneStateChangeLog, changeLogBody))

	sort.Strings(drift)
	return Render{Content: b.String(), NewHashes: newHashes, DriftHeadings: drift}
}

// Write reads artifactPath (treating a missing file as empty content),
// renders both zones against the current document and audit log, audits any
// detected drift, writes the rebuilt content atomically, and persists the
// new zone hashes back into the document (§4.7 "Write").
func (e *Engine) Write(artifactPath string) (Render, error) {
	existing, err := os.ReadFile(artifactPath)
	if err != nil && !os.IsNotExist(err) {
		return Render{}, fmt.Errorf("projection: read artifact: %w", err)
	}

	doc, err := e.Store.Load()
	if err != nil {
		return Render{}, err
	}
	auditLines, err := e.Store.ReadAuditLines()
	if err != nil {
		return Render{}, err
	}

	render := Apply(string(existing), doc, auditLines)

	for _, heading := range render.DriftHeadings {
		if err := e.Store.AppendAudit(fmt.Sprintf("drift_detected | section=%s | action=reconcile", heading)); err != nil {
			return Render{}, err
		}
	}

	if err := fsutil.AtomicWrite(artifactPath, []byte(render.Content)); err != nil {
		return Render{}, fmt.Errorf("projection: write artifact: %w", err)
	}

	if _, err := e.Store.Mutate(func(doc *model.Document) error {
		if doc.Runtime.ProjectionHashes == nil {
			doc.Runtime.ProjectionHashes = map[string]string{}
		}
		for heading, hash := range render.NewHashes {
			doc.Runtime.ProjectionHashes[heading] = hash
		}
		return nil
	}); err != nil {
		return Render{}, err
	}

	return render, nil
}
