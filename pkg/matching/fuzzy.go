package matching

import (
	"context"
	"runtime"
	"sort"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/normalizers"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
)

// DefaultNameThreshold is the minimum name Ratio for a candidate pair
const DefaultNameThreshold = 71

// ScoredName is a pair of normalized names and their Ratio
type ScoredName struct {
	Broker  string `json:"broker"`
	Insurer string `json:"insurer"`
	Score   int    `json:"score"`
}

// Candidate is a tentative broker/insurer record pair
type Candidate struct {
	BrokerIndex  string `json:"broker_index"`
	InsurerIndex string `json:"insurer_index"`
	Score        int    `json:"score"`
}

// NameMatcherConfig configures candidate generation
type NameMatcherConfig struct {
	Threshold int `json:"threshold" validate:"gte=0,lte=100"`
	Workers   int `json:"workers" validate:"gte=0"`
}

// DefaultNameMatcherConfig returns the threshold used by passes 2 and 3
func DefaultNameMatcherConfig() NameMatcherConfig {
	return NameMatcherConfig{
		Threshold: DefaultNameThreshold,
		Workers:   runtime.NumCPU(),
	}
}

// NameMatcher generates candidate pairs from customer name similarity
type NameMatcher struct {
	config    NameMatcherConfig
	normalize normalizers.Normalizer
	logger    ectologger.Logger
}

// NewNameMatcher creates a new NameMatcher
func NewNameMatcher(config NameMatcherConfig, logger ectologger.Logger) *NameMatcher {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &NameMatcher{
		config:    config,
		normalize: normalizers.NormalizeCustomerName,
		logger:    logger,
	}
}

// Threshold returns the minimum retained score
func (m *NameMatcher) Threshold() int {
	return m.config.Threshold
}

// MatchNames scores every pair of names and keeps those at or above the threshold.
// The result is ordered by descending score. Equal scores keep the order of namesA,
// then namesB. Rows are scored concurrently but the result does not depend on the
// number of workers.
func (m *NameMatcher) MatchNames(ctx context.Context, namesA, namesB []string) ([]ScoredName, error) {
	_, span := tracing.StartSpan(ctx, "matching.NameMatcher.MatchNames")
	defer span.End()

	rows := make([][]ScoredName, len(namesA))

	var g errgroup.Group
	g.SetLimit(m.config.Workers)
	for i, a := range namesA {
		g.Go(func() error {
			var row []ScoredName
			for _, b := range namesB {
				if score := Ratio(a, b); score >= m.config.Threshold {
					row = append(row, ScoredName{Broker: a, Insurer: b, Score: score})
				}
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var scored []ScoredName
	for _, row := range rows {
		scored = append(scored, row...)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return scored, nil
}

// ExpandPairs turns name pairs into record pairs. Name pairs are visited in the given
// order, each expanding to the cross product of its broker and insurer records in
// ledger order. A record pair produced by more than one name pair is kept once, at
// its first position.
func ExpandPairs(scored []ScoredName, brokerByName, insurerByName map[string][]*models.Record) []Candidate {
	seen := make(map[[2]string]struct{})
	var candidates []Candidate

	for _, pair := range scored {
		for _, b := range brokerByName[pair.Broker] {
			for _, ins := range insurerByName[pair.Insurer] {
				key := [2]string{b.Index, ins.Index}
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				candidates = append(candidates, Candidate{
					BrokerIndex:  b.Index,
					InsurerIndex: ins.Index,
					Score:        pair.Score,
				})
			}
		}
	}

	return candidates
}

// SortByBrokerOrdinal stable-sorts candidates by the numeric part of the broker index
func SortByBrokerOrdinal(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, _ := models.ParseOrdinal(candidates[i].BrokerIndex)
		b, _ := models.ParseOrdinal(candidates[j].BrokerIndex)
		return a < b
	})
}

// Candidates generates the record pairs whose normalized customer names score at or
// above the threshold, ordered by broker ordinal
func (m *NameMatcher) Candidates(ctx context.Context, broker, insurer []*models.Record, brokerColumn, insurerColumn string) ([]Candidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.NameMatcher.Candidates")
	defer span.End()

	brokerNames, brokerByName := m.groupByName(broker, brokerColumn)
	insurerNames, insurerByName := m.groupByName(insurer, insurerColumn)

	scored, err := m.MatchNames(ctx, brokerNames, insurerNames)
	if err != nil {
		return nil, err
	}

	candidates := ExpandPairs(scored, brokerByName, insurerByName)
	SortByBrokerOrdinal(candidates)

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"broker_names":  len(brokerNames),
		"insurer_names": len(insurerNames),
		"name_pairs":    len(scored),
		"candidates":    len(candidates),
	}).Debug("Generated name candidates")

	return candidates, nil
}

// groupByName returns the distinct non-empty normalized names in first-seen order and
// the records carrying each name
func (m *NameMatcher) groupByName(records []*models.Record, column string) ([]string, map[string][]*models.Record) {
	var names []string
	byName := make(map[string][]*models.Record)
	for _, r := range records {
		name := m.normalize(r.Get(column))
		if name == "" {
			continue
		}
		if _, ok := byName[name]; !ok {
			names = append(names, name)
		}
		byName[name] = append(byName[name], r)
	}
	return names, byName
}

// ExactSet pairs every broker record with every insurer record sharing the same
// trimmed value. Blank values never pair.
func ExactSet(broker, insurer []*models.Record, brokerColumn, insurerColumn string) []Candidate {
	byValue := make(map[string][]*models.Record)
	for _, r := range insurer {
		if v := r.Get(insurerColumn); v != "" {
			byValue[v] = append(byValue[v], r)
		}
	}

	var candidates []Candidate
	for _, b := range broker {
		v := b.Get(brokerColumn)
		if v == "" {
			continue
		}
		for _, ins := range byValue[v] {
			candidates = append(candidates, Candidate{BrokerIndex: b.Index, InsurerIndex: ins.Index, Score: 100})
		}
	}
	return candidates
}
