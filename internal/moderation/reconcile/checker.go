// Package reconcile compares stored active cases with the platform and
// corrects or flags any drift.
package reconcile

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robalyx/warden/internal/database/types"
	"github.com/robalyx/warden/internal/database/types/enum"
	"github.com/robalyx/warden/internal/moderation"
	"github.com/robalyx/warden/internal/moderation/kind"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Outcome is the result of checking one case or kind for a subject.
type Outcome int

const (
	// OutcomeMatch means the platform agrees with the store.
	OutcomeMatch Outcome = iota
	// OutcomeReapplied means a missing effect was put back.
	OutcomeReapplied
	// OutcomeFlagged means a missing effect was left alone and reported.
	OutcomeFlagged
	// OutcomeUnmanaged means an effect is present with no case behind it.
	OutcomeUnmanaged
	// OutcomeSkipped means the subject could not be resolved.
	OutcomeSkipped
	// OutcomeFailed means the probe or the correction failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMatch:
		return "match"
	case OutcomeReapplied:
		return "reapplied"
	case OutcomeFlagged:
		return "flagged"
	case OutcomeUnmanaged:
		return "unmanaged"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Finding is the result for one case, or for one unmanaged effect when CaseNumber is unallocated.
type Finding struct {
	CaseNumber int64
	SubjectID  uint64
	Kind       enum.ActionKind
	Outcome    Outcome
	Err        error
}

// Report summarizes a reconciliation pass.
type Report struct {
	Subjects int
	Findings []Finding
	Duration time.Duration
}

// Count returns the number of findings with the given outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, f := range r.Findings {
		if f.Outcome == outcome {
			n++
		}
	}

	return n
}

// CaseLister lists active cases.
type CaseLister interface {
	ListActive(ctx context.Context, filter types.CaseFilter) ([]*types.Case, error)
}

// Reapplier puts the effect of an active case back under the subject's lock.
type Reapplier interface {
	Reapply(ctx context.Context, caseNumber int64) error
}

// Recorder receives every finding, e.g. for metrics.
type Recorder interface {
	RecordFinding(kind enum.ActionKind, outcome string)
}

// StatusReporter publishes progress of the periodic loop.
type StatusReporter interface {
	UpdateStatus(task string, progress int)
	SetHealthy(healthy bool)
}

// Checker runs reconciliation passes.
type Checker struct {
	store       CaseLister
	registry    *kind.Registry
	reapplier   Reapplier
	recorder    Recorder
	reporter    StatusReporter
	concurrency int
	logger      *zap.Logger
}

// New creates a checker. Probes for different subjects run concurrently,
// at most concurrency at a time.
func New(
	store CaseLister, registry *kind.Registry, reapplier Reapplier, concurrency int, logger *zap.Logger,
) *Checker {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Checker{
		store:       store,
		registry:    registry,
		reapplier:   reapplier,
		concurrency: concurrency,
		logger:      logger.Named("reconciler"),
	}
}

// WithRecorder attaches a finding recorder.
func (c *Checker) WithRecorder(recorder Recorder) *Checker {
	c.recorder = recorder
	return c
}

// WithStatusReporter attaches a status reporter used by Run.
func (c *Checker) WithStatusReporter(reporter StatusReporter) *Checker {
	c.reporter = reporter
	return c
}

// Run checks every subject on each tick until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("Reconciler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
			c.setStatus("Checking active cases", 0, true)

			report, err := c.CheckAll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				c.logger.Error("Reconciliation pass failed", zap.Error(err))
				c.setStatus("Reconciliation failed", 100, false)

				continue
			}

			c.setStatus("Idle", 100, report.Count(OutcomeFailed) == 0)
		}
	}
}

// CheckAll checks every subject with at least one active effect-bearing case.
func (c *Checker) CheckAll(ctx context.Context) (*Report, error) {
	started := time.Now()

	active, err := c.store.ListActive(ctx, types.CaseFilter{Kinds: c.effectKinds()})
	if err != nil {
		return nil, fmt.Errorf("failed to list active cases: %w", err)
	}

	bySubject := make(map[uint64][]*types.Case)
	for _, cs := range active {
		bySubject[cs.SubjectID] = append(bySubject[cs.SubjectID], cs)
	}

	var (
		mu       sync.Mutex
		findings []Finding
	)

	p := pool.New().WithContext(ctx).WithMaxGoroutines(c.concurrency)
	for subjectID, cases := range bySubject {
		p.Go(func(ctx context.Context) error {
			result := c.checkSubject(ctx, subjectID, cases)

			mu.Lock()
			findings = append(findings, result...)
			mu.Unlock()

			return nil
		})
	}

	_ = p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := c.finish(len(bySubject), findings, started)

	c.logger.Info("Reconciliation pass finished",
		zap.Int("subjects", report.Subjects),
		zap.Int("reapplied", report.Count(OutcomeReapplied)),
		zap.Int("flagged", report.Count(OutcomeFlagged)),
		zap.Int("unmanaged", report.Count(OutcomeUnmanaged)),
		zap.Int("skipped", report.Count(OutcomeSkipped)),
		zap.Int("failed", report.Count(OutcomeFailed)),
		zap.Duration("duration", report.Duration))

	return report, nil
}

// CheckSubject checks one subject, e.g. after it rejoined the guild.
func (c *Checker) CheckSubject(ctx context.Context, subjectID uint64) (*Report, error) {
	started := time.Now()

	active, err := c.store.ListActive(ctx, types.CaseFilter{SubjectID: subjectID, Kinds: c.effectKinds()})
	if err != nil {
		return nil, fmt.Errorf("failed to list active cases of %d: %w", subjectID, err)
	}

	return c.finish(1, c.checkSubject(ctx, subjectID, active), started), nil
}

func (c *Checker) finish(subjects int, findings []Finding, started time.Time) *Report {
	slices.SortFunc(findings, func(a, b Finding) int {
		if n := cmp.Compare(a.SubjectID, b.SubjectID); n != 0 {
			return n
		}

		return cmp.Compare(a.CaseNumber, b.CaseNumber)
	})

	if c.recorder != nil {
		for _, f := range findings {
			c.recorder.RecordFinding(f.Kind, f.Outcome.String())
		}
	}

	return &Report{
		Subjects: subjects,
		Findings: findings,
		Duration: time.Since(started),
	}
}

// checkSubject probes the subject's stored cases, then looks for effects
// that are present without a case.
func (c *Checker) checkSubject(ctx context.Context, subjectID uint64, cases []*types.Case) []Finding {
	findings := make([]Finding, 0, len(cases))
	stored := make(map[enum.ActionKind]struct{}, len(cases))

	for _, cs := range cases {
		stored[cs.Kind] = struct{}{}
		findings = append(findings, c.checkCase(ctx, cs))
	}

	for _, k := range c.registry.Kinds() {
		desc := k.Descriptor()
		if !desc.EffectBearing() || desc.RequiresRole || desc.Withholding {
			continue
		}

		if _, ok := stored[desc.Kind]; ok {
			continue
		}

		probe := &types.Case{CaseNumber: types.UnallocatedCase, Kind: desc.Kind, SubjectID: subjectID}

		state, err := k.Probe(ctx, probe)
		if err != nil || state != kind.StatePresent {
			continue
		}

		c.logger.Warn("Found unmanaged effect with no active case",
			zap.Uint64("subjectID", subjectID),
			zap.String("kind", string(desc.Kind)))

		findings = append(findings, Finding{
			CaseNumber: types.UnallocatedCase,
			SubjectID:  subjectID,
			Kind:       desc.Kind,
			Outcome:    OutcomeUnmanaged,
			Err:        moderation.ConsistencyError("reconcile", subjectID, string(desc.Kind)+" is applied without a case"),
		})
	}

	return findings
}

func (c *Checker) checkCase(ctx context.Context, cs *types.Case) Finding {
	finding := Finding{CaseNumber: cs.CaseNumber, SubjectID: cs.SubjectID, Kind: cs.Kind}

	k, err := c.registry.Get(cs.Kind)
	if err != nil {
		finding.Outcome = OutcomeFailed
		finding.Err = err

		return finding
	}

	state, err := k.Probe(ctx, cs)
	if err != nil {
		c.logger.Warn("Failed to probe case",
			zap.Int64("caseNumber", cs.CaseNumber),
			zap.Error(err))

		finding.Outcome = OutcomeFailed
		finding.Err = err

		return finding
	}

	switch state {
	case kind.StatePresent:
		finding.Outcome = OutcomeMatch
	case kind.StateUnknown:
		finding.Outcome = OutcomeSkipped
	case kind.StateAbsent:
		desc := k.Descriptor()
		finding.Err = moderation.ConsistencyError("reconcile", cs.SubjectID,
			fmt.Sprintf("case #%d is active but its effect is missing", cs.CaseNumber))

		if !desc.EnforceOnDrift {
			c.logger.Warn("Active case lost its effect, leaving it flagged",
				zap.Int64("caseNumber", cs.CaseNumber),
				zap.String("kind", string(cs.Kind)),
				zap.Uint64("subjectID", cs.SubjectID))

			finding.Outcome = OutcomeFlagged

			return finding
		}

		if err := c.reapplier.Reapply(ctx, cs.CaseNumber); err != nil {
			c.logger.Error("Failed to re-apply drifted case",
				zap.Int64("caseNumber", cs.CaseNumber),
				zap.Error(err))

			finding.Outcome = OutcomeFailed
			finding.Err = errors.Join(finding.Err, err)

			return finding
		}

		c.logger.Info("Re-applied drifted case",
			zap.Int64("caseNumber", cs.CaseNumber),
			zap.String("kind", string(cs.Kind)),
			zap.Uint64("subjectID", cs.SubjectID))

		finding.Outcome = OutcomeReapplied
	}

	return finding
}

func (c *Checker) effectKinds() []enum.ActionKind {
	return c.registry.Filter(func(d kind.Descriptor) bool { return d.EffectBearing() })
}

func (c *Checker) setStatus(task string, progress int, healthy bool) {
	if c.reporter == nil {
		return
	}

	c.reporter.UpdateStatus(task, progress)
	c.reporter.SetHealthy(healthy)
}
