// Package pipeline runs the reconciliation passes over a ReconciliationContext
package pipeline

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/errors"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/linkage"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/matching"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/metrics"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
)

// Config holds the matcher thresholds used by the passes
type Config struct {
	Names  matching.NameMatcherConfig `json:"names"`
	Scorer matching.ScorerConfig      `json:"scorer"`
}

// DefaultConfig returns the thresholds of the three standard passes
func DefaultConfig() Config {
	return Config{
		Names:  matching.DefaultNameMatcherConfig(),
		Scorer: matching.DefaultScorerConfig(),
	}
}

// AfterPassFunc is called with each committed context, typically to persist it
type AfterPassFunc func(ctx context.Context, rc *ReconciliationContext) error

// Pipeline runs the passes in their fixed order
type Pipeline struct {
	passes map[Stage]Pass
	logger ectologger.Logger
}

// NewPipeline creates the standard three-pass pipeline
func NewPipeline(cfg Config, logger ectologger.Logger) *Pipeline {
	names := matching.NewNameMatcher(cfg.Names, logger)
	scorer := matching.NewScorer(cfg.Scorer)

	return NewPipelineWithPasses(logger,
		NewExactIdentifierPass(logger),
		NewNamePolicyPremiumPass(names, scorer, logger),
		NewNamePremiumTenurePass(names, scorer, logger),
	)
}

// NewPipelineWithPasses creates a pipeline from explicit passes, keyed by their stage
func NewPipelineWithPasses(logger ectologger.Logger, passes ...Pass) *Pipeline {
	byStage := make(map[Stage]Pass, len(passes))
	for _, p := range passes {
		byStage[p.Stage()] = p
	}
	return &Pipeline{passes: byStage, logger: logger}
}

// RunPass1 runs the exact identifier pass
func (p *Pipeline) RunPass1(ctx context.Context, rc *ReconciliationContext) (*ReconciliationContext, error) {
	return p.runStage(ctx, rc, StagePass1ExactID)
}

// RunPass2 runs the name, product and premium pass
func (p *Pipeline) RunPass2(ctx context.Context, rc *ReconciliationContext) (*ReconciliationContext, error) {
	return p.runStage(ctx, rc, StagePass2NamePolicyPremium)
}

// RunPass3 runs the name, premium and tenure pass
func (p *Pipeline) RunPass3(ctx context.Context, rc *ReconciliationContext) (*ReconciliationContext, error) {
	return p.runStage(ctx, rc, StagePass3NamePremiumTenure)
}

// Next runs whichever pass the context is waiting for
func (p *Pipeline) Next(ctx context.Context, rc *ReconciliationContext) (*ReconciliationContext, error) {
	return p.runStage(ctx, rc, rc.Stage)
}

// Run runs every remaining pass. After each committed pass the hooks are called in
// order; a hook error stops the run and is returned with the last committed context.
func (p *Pipeline) Run(ctx context.Context, rc *ReconciliationContext, hooks ...AfterPassFunc) (*ReconciliationContext, error) {
	for rc.Stage != StageDone {
		next, err := p.Next(ctx, rc)
		if err != nil {
			return rc, err
		}
		rc = next

		for _, hook := range hooks {
			if err := hook(ctx, rc); err != nil {
				return rc, err
			}
		}
	}
	return rc, nil
}

// runStage runs one pass. On failure the returned context is nil and rc stays valid.
func (p *Pipeline) runStage(ctx context.Context, rc *ReconciliationContext, stage Stage) (*ReconciliationContext, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline."+string(stage))
	defer span.End()
	span.SetAttributes(attribute.String("run_id", rc.RunID), attribute.String("stage", string(stage)))

	log := p.logger.WithContext(ctx).WithFields(map[string]any{"run_id": rc.RunID, "stage": stage})

	if rc.Stage != stage {
		err := apperrors.NewStageErrorf("context is at stage %s", rc.Stage).AddStage(string(stage))
		return nil, p.fail(log, span, stage, err)
	}
	pass, ok := p.passes[stage]
	if !ok {
		err := apperrors.NewStageErrorf("no pass is registered").AddStage(string(stage))
		return nil, p.fail(log, span, stage, err)
	}

	start := time.Now()
	result, err := pass.Match(ctx, PassInput{
		Schema:  rc.Schema,
		Broker:  rc.Broker,
		Insurer: rc.Insurer,
		Links:   rc.Links,
	})
	if err != nil {
		return nil, p.fail(log, span, stage, err)
	}

	next, err := commit(rc, stage, result, time.Since(start))
	if err != nil {
		return nil, p.fail(log, span, stage, err)
	}

	summary := next.History[len(next.History)-1]
	metrics.PassCandidatesTotal.WithLabelValues(string(stage)).Add(float64(summary.Candidates))
	for _, pair := range result.Pairs {
		metrics.PassMatchesTotal.WithLabelValues(string(stage), string(pair.Reason)).Inc()
	}
	metrics.PassDuration.WithLabelValues(string(stage)).Observe(summary.Duration.Seconds())
	metrics.UnmatchedRecords.WithLabelValues(string(models.SideBroker)).Set(float64(len(next.Broker.Unmatched)))
	metrics.UnmatchedRecords.WithLabelValues(string(models.SideInsurer)).Set(float64(len(next.Insurer.Unmatched)))

	fields := map[string]any{
		"candidates":        summary.Candidates,
		"matches":           summary.Matches,
		"broker_matched":    summary.BrokerMatched,
		"insurer_matched":   summary.InsurerMatched,
		"broker_unmatched":  len(next.Broker.Unmatched),
		"insurer_unmatched": len(next.Insurer.Unmatched),
		"duration_ms":       summary.Duration.Milliseconds(),
	}
	if summary.Matches == 0 {
		log.WithFields(fields).Info("Pass found no matches, unmatched sets unchanged")
	} else {
		log.WithFields(fields).Info("Pass committed")
	}

	return next, nil
}

func (p *Pipeline) fail(log ectologger.Logger, span trace.Span, stage Stage, err error) error {
	var re *apperrors.ReconcileError
	kind := "unknown"
	if stderrors.As(err, &re) {
		if re.Stage == "" {
			re.AddStage(string(stage))
		}
		kind = string(re.Kind)
	}
	metrics.PassFailuresTotal.WithLabelValues(string(stage), kind).Inc()
	tracing.RecordError(span, err)
	log.WithError(err).Error("Pass aborted, no matches committed")
	return err
}

// commit applies a pass result to a copy of rc. Every record that gained a link moves
// from unmatched to matched on its side. Either the whole result is applied or none.
func commit(rc *ReconciliationContext, stage Stage, result *PassResult, elapsed time.Duration) (*ReconciliationContext, error) {
	brokerByIndex, err := rc.Broker.Lookup()
	if err != nil {
		return nil, err
	}
	insurerByIndex, err := rc.Insurer.Lookup()
	if err != nil {
		return nil, err
	}

	links := rc.Links.Clone()
	brokerIDs := make(map[string]struct{})
	insurerIDs := make(map[string]struct{})
	added := 0

	for _, pair := range result.Pairs {
		if _, ok := brokerByIndex[pair.BrokerIndex]; !ok {
			return nil, apperrors.NewLookupErrorf("pair references a record that is not unmatched").AddSide(string(models.SideBroker)).AddIndex(pair.BrokerIndex)
		}
		if _, ok := insurerByIndex[pair.InsurerIndex]; !ok {
			return nil, apperrors.NewLookupErrorf("pair references a record that is not unmatched").AddSide(string(models.SideInsurer)).AddIndex(pair.InsurerIndex)
		}
		if links.Add(pair) {
			added++
		}
		brokerIDs[pair.BrokerIndex] = struct{}{}
		insurerIDs[pair.InsurerIndex] = struct{}{}
	}

	broker := rc.Broker.Move(brokerIDs)
	insurer := rc.Insurer.Move(insurerIDs)
	if err := broker.Verify(rc.Broker.Indexes()); err != nil {
		return nil, err
	}
	if err := insurer.Verify(rc.Insurer.Indexes()); err != nil {
		return nil, err
	}

	history := make([]PassSummary, len(rc.History), len(rc.History)+1)
	copy(history, rc.History)
	history = append(history, PassSummary{
		Stage:          stage,
		Candidates:     len(result.Candidates),
		Matches:        added,
		BrokerMatched:  len(brokerIDs),
		InsurerMatched: len(insurerIDs),
		Duration:       elapsed,
		CompletedAt:    time.Now().UTC(),
	})

	next := &ReconciliationContext{
		RunID:     rc.RunID,
		Stage:     stage.Next(),
		Schema:    rc.Schema,
		Broker:    broker,
		Insurer:   insurer,
		Links:     links,
		History:   history,
		CreatedAt: rc.CreatedAt,
	}
	if err := next.Verify(); err != nil {
		return nil, err
	}
	return next, nil
}

// NewMatches returns the pairs a committed pass added, given the links before it
func NewMatches(before *linkage.Links, after *ReconciliationContext) []models.MatchPair {
	known := make(map[models.MatchPair]struct{}, before.Len())
	for _, p := range before.Pairs() {
		known[p] = struct{}{}
	}
	var added []models.MatchPair
	for _, p := range after.Links.Pairs() {
		if _, ok := known[p]; !ok {
			added = append(added, p)
		}
	}
	return added
}
