package learning

import (
	"fmt"
	"sort"
	"time"

	"github.com/ajeenkya/openclaw-state-consistency/internal/model"
	"github.com/ajeenkya/openclaw-state-consistency/internal/store"
)

const (
	autoFloor, autoCeil = 0.80, 0.99
	askFloor, askCeil   = 0.55, 0.80
	askAutoGap          = 0.08
)

// Proposal is one domain's recommended threshold adjustment (§4.9).
type Proposal struct {
	Domain           model.Domain
	SampleCount      int
	ConfirmationRate float64
	CorrectionRate   float64
	CurrentAsk       float64
	CurrentAuto      float64
	CandidateAsk     float64
	CandidateAuto    float64
	NewAsk           float64
	NewAuto          float64
	Changed          bool
}

// Learner runs the adaptive threshold learner over a document and its
// learning-event log.
type Learner struct {
	Events *EventLog
	Now    func() time.Time
}

// NewLearner builds a Learner.
func NewLearner(events *EventLog, now func() time.Time) *Learner {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Learner{Events: events, Now: now}
}

// Propose computes per-domain proposals from the learning-event log, per
// §4.9's "Per-domain proposal" rules. Domains with fewer than min_samples
// events in the lookback window are skipped (empty return entry omitted).
func (l *Learner) Propose(doc *model.Document) ([]Proposal, error) {
	all, err := l.Events.ReadAll()
	if err != nil {
		return nil, err
	}
	now := l.Now()
	cfg := doc.Runtime.AdaptiveLearning
	recent := Since(all, now, cfg.LookbackDays)

	byDomain := map[model.Domain][]model.LearningEvent{}
	for _, ev := range recent {
		if ev.Action != string(model.ActionConfirm) && ev.Action != string(model.ActionReject) && ev.Action != string(model.ActionEdit) {
			continue
		}
		byDomain[ev.Domain] = append(byDomain[ev.Domain], ev)
	}

	var proposals []Proposal
	for _, domain := range model.AllDomains {
		events := byDomain[domain]
		if len(events) < cfg.MinSamples {
			continue
		}
		proposals = append(proposals, l.proposeDomain(domain, doc.Domains[domain], events, cfg))
	}
	return proposals, nil
}

func (l *Learner) proposeDomain(domain model.Domain, current model.DomainConfig, events []model.LearningEvent, cfg model.AdaptiveLearningConfig) Proposal {
	sampleCount := len(events)
	var confirms, rejects, edits int
	var correctionConfidences []float64
	for _, ev := range events {
		switch ev.Action {
		case string(model.ActionConfirm):
			confirms++
		case string(model.ActionReject):
			rejects++
			correctionConfidences = append(correctionConfidences, ev.Confidence)
		case string(model.ActionEdit):
			edits++
			correctionConfidences = append(correctionConfidences, ev.Confidence)
		}
	}

	confirmationRate := float64(confirms) / float64(sampleCount)
	correctionRate := float64(rejects+edits) / float64(sampleCount)

	candidateAuto := current.AutoThreshold
	switch {
	case correctionRate > cfg.TargetCorrectionRate:
		candidateAuto += cfg.MaxDailyStep
	case correctionRate < cfg.TargetCorrectionRate/2 && confirmationRate >= cfg.HighConfirmationRate:
		candidateAuto -= cfg.MaxDailyStep * 0.5
	}
	if len(correctionConfidences) >= 3 {
		p75 := percentile(correctionConfidences, 0.75)
		if floor := p75 + 0.01; candidateAuto < floor {
			candidateAuto = floor
		}
	}
	candidateAuto = clamp(candidateAuto, autoFloor, autoCeil)

	candidateAsk := current.AskThreshold
	switch {
	case confirmationRate < cfg.LowConfirmationRate:
		candidateAsk += cfg.MaxDailyStep
	case confirmationRate > cfg.HighConfirmationRate:
		candidateAsk -= cfg.MaxDailyStep
	}
	if ceiling := candidateAuto - askAutoGap; candidateAsk > ceiling {
		candidateAsk = ceiling
	}
	candidateAsk = clamp(candidateAsk, askFloor, askCeil)

	newAuto := moveToward(current.AutoThreshold, candidateAuto, cfg.MaxDailyStep)
	newAsk := moveToward(current.AskThreshold, candidateAsk, cfg.MaxDailyStep)

	changed := round3(newAuto) != round3(current.AutoThreshold) || round3(newAsk) != round3(current.AskThreshold)

	return Proposal{
		Domain:           domain,
		SampleCount:      sampleCount,
		ConfirmationRate: confirmationRate,
		CorrectionRate:   correctionRate,
		CurrentAsk:       current.AskThreshold,
		CurrentAuto:      current.AutoThreshold,
		CandidateAsk:     candidateAsk,
		CandidateAuto:    candidateAuto,
		NewAsk:           newAsk,
		NewAuto:          newAuto,
		Changed:          changed,
	}
}

// ShouldRun reports whether a run is due, per §4.9's throttle rule.
func ShouldRun(runtime model.Runtime, now time.Time, force bool) bool {
	if force {
		return true
	}
	if runtime.AdaptiveLearning.LastRunAt == nil {
		return true
	}
	minInterval := time.Duration(runtime.AdaptiveLearning.MinIntervalHours * float64(time.Hour))
	return now.Sub(*runtime.AdaptiveLearning.LastRunAt) >= minInterval
}

// Apply runs Propose and, in apply mode, mutates the store's domain
// thresholds for every changed proposal, auditing each change. In shadow or
// off mode it only computes and returns proposals without mutating domains.
func (l *Learner) Apply(s *store.Store, force bool) ([]Proposal, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	now := l.Now()
	if !ShouldRun(doc.Runtime, now, force) {
		return nil, nil
	}

	proposals, err := l.Propose(doc)
	if err != nil {
		return nil, err
	}

	_, err = s.Mutate(func(doc *model.Document) error {
		doc.Runtime.AdaptiveLearning.LastRunAt = &now
		if doc.Runtime.AdaptiveMode != model.AdaptiveModeApply {
			return nil
		}
		for _, p := range proposals {
			if !p.Changed {
				continue
			}
			cfg := doc.Domains[p.Domain]
			cfg.AutoThreshold = round3(p.NewAuto)
			cfg.AskThreshold = round3(p.NewAsk)
			doc.Domains[p.Domain] = cfg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if doc.Runtime.AdaptiveMode == model.AdaptiveModeApply {
		for _, p := range proposals {
			if !p.Changed {
				continue
			}
			if err := s.AppendAudit(fmt.Sprintf(
				"threshold_updated | domain=%s | ask %.3f -> %.3f | auto %.3f -> %.3f",
				p.Domain, p.CurrentAsk, round3(p.NewAsk), p.CurrentAuto, round3(p.NewAuto),
			)); err != nil {
				return nil, err
			}
		}
	}

	return proposals, nil
}

func moveToward(current, candidate, maxStep float64) float64 {
	delta := candidate - current
	if delta > maxStep {
		delta = maxStep
	}
	if delta < -maxStep {
		delta = -maxStep
	}
	return current + delta
}

func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	idx := p * float64(len(sorted)-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round3(v float64) float64 {
	return model.Clamp01Round3(v)
}
