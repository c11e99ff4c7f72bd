package pipeline

import (
	"context"

	"github.com/Gobusters/ectologger"

	apperrors "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/errors"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/ledger"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/linkage"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/matching"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
)

// PassInput is what a pass may read. Only unmatched records are candidates.
type PassInput struct {
	Schema  models.Schema
	Broker  *ledger.Partition
	Insurer *ledger.Partition
	Links   *linkage.Links
}

// PassResult holds the candidates a pass considered and the pairs it confirmed
type PassResult struct {
	Candidates []matching.Candidate
	Pairs      []models.MatchPair
}

// Pass is one matching stage. Match must not modify its input.
type Pass interface {
	Stage() Stage
	Match(ctx context.Context, in PassInput) (*PassResult, error)
}

// ExactIdentifierPass links records sharing a policy number, checking the broker policy
// number and then the broker endorsement number against the insurer policy number
type ExactIdentifierPass struct {
	logger ectologger.Logger
}

// NewExactIdentifierPass creates the first pass
func NewExactIdentifierPass(logger ectologger.Logger) *ExactIdentifierPass {
	return &ExactIdentifierPass{logger: logger}
}

func (p *ExactIdentifierPass) Stage() Stage {
	return StagePass1ExactID
}

func (p *ExactIdentifierPass) Match(ctx context.Context, in PassInput) (*PassResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.ExactIdentifierPass.Match")
	defer span.End()

	broker, insurer := in.Schema.Broker, in.Schema.Insurer
	checks := []struct {
		column string
		reason models.Reason
	}{
		{column: broker.PolicyNumber, reason: models.ReasonPolicyNumber},
		{column: broker.EndorsementNumber, reason: models.ReasonEndorsementNumber},
	}

	result := &PassResult{}
	for _, check := range checks {
		candidates := matching.ExactSet(in.Broker.Unmatched, in.Insurer.Unmatched, check.column, insurer.PolicyNumber)
		for _, c := range candidates {
			result.Pairs = append(result.Pairs, models.MatchPair{
				BrokerIndex:  c.BrokerIndex,
				InsurerIndex: c.InsurerIndex,
				Reason:       check.reason,
			})
		}
		result.Candidates = append(result.Candidates, candidates...)

		p.logger.WithContext(ctx).WithFields(map[string]any{
			"broker_column":  check.column,
			"insurer_column": insurer.PolicyNumber,
			"pairs":          len(candidates),
		}).Debugf("Exact %s check complete", check.reason)
	}

	return result, nil
}

// Filter is one predicate of a fuzzy pass, applied to a candidate's two records
type Filter struct {
	Name string
	Keep func(schema models.Schema, broker, insurer *models.Record) bool
}

// FuzzyPass generates candidates from customer name similarity and keeps those that
// pass every filter in order
type FuzzyPass struct {
	stage   Stage
	reason  models.Reason
	names   *matching.NameMatcher
	filters []Filter
	logger  ectologger.Logger
}

// NewNamePolicyPremiumPass creates the second pass: name, then product label, then premium
func NewNamePolicyPremiumPass(names *matching.NameMatcher, scorer *matching.Scorer, logger ectologger.Logger) *FuzzyPass {
	return &FuzzyPass{
		stage:   StagePass2NamePolicyPremium,
		reason:  models.ReasonCustomerPolicyPremium,
		names:   names,
		filters: []Filter{productFilter(scorer), premiumFilter(scorer)},
		logger:  logger,
	}
}

// NewNamePremiumTenurePass creates the third pass: name, then premium, then start and end dates
func NewNamePremiumTenurePass(names *matching.NameMatcher, scorer *matching.Scorer, logger ectologger.Logger) *FuzzyPass {
	return &FuzzyPass{
		stage:   StagePass3NamePremiumTenure,
		reason:  models.ReasonCustomerPremiumTenure,
		names:   names,
		filters: []Filter{premiumFilter(scorer), tenureFilter()},
		logger:  logger,
	}
}

func productFilter(scorer *matching.Scorer) Filter {
	return Filter{
		Name: "product",
		Keep: func(s models.Schema, b, i *models.Record) bool {
			return scorer.LabelsSimilar(b.Get(s.Broker.Product), i.Get(s.Insurer.Product))
		},
	}
}

func premiumFilter(scorer *matching.Scorer) Filter {
	return Filter{
		Name: "premium",
		Keep: func(s models.Schema, b, i *models.Record) bool {
			return scorer.PremiumsAgree(b.Get(s.Broker.Premium), i.Get(s.Insurer.Premium))
		},
	}
}

func tenureFilter() Filter {
	return Filter{
		Name: "tenure",
		Keep: func(s models.Schema, b, i *models.Record) bool {
			return matching.SameTenure(
				b.Get(s.Broker.StartDate), b.Get(s.Broker.EndDate),
				i.Get(s.Insurer.StartDate), i.Get(s.Insurer.EndDate),
			)
		},
	}
}

func (p *FuzzyPass) Stage() Stage {
	return p.stage
}

func (p *FuzzyPass) Match(ctx context.Context, in PassInput) (*PassResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.FuzzyPass.Match")
	defer span.End()

	candidates, err := p.names.Candidates(ctx, in.Broker.Unmatched, in.Insurer.Unmatched, in.Schema.Broker.CustomerName, in.Schema.Insurer.CustomerName)
	if err != nil {
		return nil, err
	}

	brokerByIndex, err := in.Broker.Lookup()
	if err != nil {
		return nil, err
	}
	insurerByIndex, err := in.Insurer.Lookup()
	if err != nil {
		return nil, err
	}

	type resolved struct {
		broker, insurer *models.Record
	}
	survivors := make([]resolved, 0, len(candidates))
	for _, c := range candidates {
		b, ok := brokerByIndex[c.BrokerIndex]
		if !ok {
			return nil, apperrors.NewLookupErrorf("candidate references a record that is not unmatched").AddSide(string(models.SideBroker)).AddIndex(c.BrokerIndex)
		}
		i, ok := insurerByIndex[c.InsurerIndex]
		if !ok {
			return nil, apperrors.NewLookupErrorf("candidate references a record that is not unmatched").AddSide(string(models.SideInsurer)).AddIndex(c.InsurerIndex)
		}
		survivors = append(survivors, resolved{broker: b, insurer: i})
	}

	log := p.logger.WithContext(ctx)
	log.WithFields(map[string]any{"stage": p.stage, "candidates": len(candidates)}).Debug("Name candidates resolved")

	for _, f := range p.filters {
		var kept []resolved
		for _, s := range survivors {
			if f.Keep(in.Schema, s.broker, s.insurer) {
				kept = append(kept, s)
			}
		}
		log.WithFields(map[string]any{"stage": p.stage, "filter": f.Name, "before": len(survivors), "after": len(kept)}).Debug("Filter applied")
		survivors = kept
	}

	result := &PassResult{Candidates: candidates}
	for _, s := range survivors {
		result.Pairs = append(result.Pairs, models.MatchPair{
			BrokerIndex:  s.broker.Index,
			InsurerIndex: s.insurer.Index,
			Reason:       p.reason,
		})
	}
	return result, nil
}
