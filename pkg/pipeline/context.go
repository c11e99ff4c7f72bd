package pipeline

import (
	"time"

	"github.com/google/uuid"

	apperrors "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/errors"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/ledger"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/linkage"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
)

// Stage is the next pass a context is waiting for
type Stage string

const (
	StagePass1ExactID           Stage = "Pass1_ExactID"
	StagePass2NamePolicyPremium Stage = "Pass2_NamePolicyPremium"
	StagePass3NamePremiumTenure Stage = "Pass3_NamePremiumTenure"
	StageDone                   Stage = "Done"
)

var stageOrder = []Stage{StagePass1ExactID, StagePass2NamePolicyPremium, StagePass3NamePremiumTenure, StageDone}

// Next returns the stage that follows s. Done is terminal.
func (s Stage) Next() Stage {
	for i, stage := range stageOrder {
		if stage == s && i+1 < len(stageOrder) {
			return stageOrder[i+1]
		}
	}
	return StageDone
}

// IsValid checks if the stage is known
func (s Stage) IsValid() bool {
	for _, stage := range stageOrder {
		if stage == s {
			return true
		}
	}
	return false
}

// PassSummary records the outcome of one committed pass
type PassSummary struct {
	Stage          Stage         `json:"stage" db:"stage"`
	Candidates     int           `json:"candidates" db:"candidates"`
	Matches        int           `json:"matches" db:"matches"`
	BrokerMatched  int           `json:"broker_matched" db:"broker_matched"`
	InsurerMatched int           `json:"insurer_matched" db:"insurer_matched"`
	Duration       time.Duration `json:"duration" db:"duration"`
	CompletedAt    time.Time     `json:"completed_at" db:"completed_at"`
}

// ReconciliationContext is the state handed from one pass to the next. Passes never
// modify a context; each committed pass produces a new one.
type ReconciliationContext struct {
	RunID     string            `json:"run_id"`
	Stage     Stage             `json:"stage"`
	Schema    models.Schema     `json:"schema"`
	Broker    *ledger.Partition `json:"broker"`
	Insurer   *ledger.Partition `json:"insurer"`
	Links     *linkage.Links    `json:"-"`
	History   []PassSummary     `json:"history"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewContext starts a run from freshly ingested ledgers. Every record starts unmatched.
func NewContext(schema models.Schema, broker, insurer *models.Ledger) (*ReconciliationContext, error) {
	if err := schema.Validate(); err != nil {
		return nil, apperrors.NewIngestionErrorf("invalid column schema").WithCause(err)
	}
	if err := CheckLedger(broker, schema.Broker); err != nil {
		return nil, err
	}
	if err := CheckLedger(insurer, schema.Insurer); err != nil {
		return nil, err
	}

	return &ReconciliationContext{
		RunID:     uuid.New().String(),
		Stage:     StagePass1ExactID,
		Schema:    schema,
		Broker:    ledger.NewPartition(broker),
		Insurer:   ledger.NewPartition(insurer),
		Links:     linkage.New(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Restore rebuilds a persisted context and checks that it is consistent
func Restore(runID string, stage Stage, schema models.Schema, broker, insurer *ledger.Partition, links *linkage.Links, history []PassSummary) (*ReconciliationContext, error) {
	if !stage.IsValid() {
		return nil, apperrors.NewStageErrorf("unknown stage %q", stage)
	}
	if links == nil {
		links = linkage.New()
	}
	rc := &ReconciliationContext{
		RunID:     runID,
		Stage:     stage,
		Schema:    schema,
		Broker:    broker,
		Insurer:   insurer,
		Links:     links,
		History:   history,
		CreatedAt: time.Now().UTC(),
	}
	if err := rc.Verify(); err != nil {
		return nil, err
	}
	return rc, nil
}

// CheckLedger validates an ingested ledger against the columns the passes read
func CheckLedger(l *models.Ledger, columns models.Columns) error {
	if l == nil {
		return apperrors.NewIngestionErrorf("ledger is missing")
	}
	present := make(map[string]bool, len(l.Columns))
	for _, c := range l.Columns {
		present[c] = true
	}
	for _, c := range columns.Required() {
		if !present[c] {
			return apperrors.NewIngestionErrorf("missing required column").AddSide(string(l.Side)).AddColumn(c)
		}
	}

	seen := make(map[string]bool, len(l.Records))
	for _, r := range l.Records {
		if r.Index == "" {
			return apperrors.NewIngestionErrorf("record without identifier").AddSide(string(l.Side))
		}
		if seen[r.Index] {
			return apperrors.NewIngestionErrorf("duplicate identifier").AddSide(string(l.Side)).AddIndex(r.Index)
		}
		seen[r.Index] = true
	}
	return nil
}

// Partition returns the partition of a side
func (rc *ReconciliationContext) Partition(side models.Side) *ledger.Partition {
	if side == models.SideInsurer {
		return rc.Insurer
	}
	return rc.Broker
}

// MatchingFields returns the Matching_Index and Matching_Attribute cells of a record
func (rc *ReconciliationContext) MatchingFields(side models.Side, index string) (string, string) {
	return rc.Links.Encode(side, index)
}

// Verify checks the partition invariants and that exactly the matched records carry links
func (rc *ReconciliationContext) Verify() error {
	if rc.Broker == nil || rc.Insurer == nil {
		return apperrors.NewIntegrityErrorf("context is missing a ledger")
	}
	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		p := rc.Partition(side)
		if err := p.Verify(nil); err != nil {
			return err
		}
		for _, r := range p.Matched {
			if !rc.Links.Has(side, r.Index) {
				return apperrors.NewIntegrityErrorf("matched record has no link").AddSide(string(side)).AddIndex(r.Index)
			}
		}
		for _, r := range p.Unmatched {
			if rc.Links.Has(side, r.Index) {
				return apperrors.NewIntegrityErrorf("unmatched record has a link").AddSide(string(side)).AddIndex(r.Index)
			}
		}
	}

	brokerIDs := toSet(rc.Broker.Indexes())
	insurerIDs := toSet(rc.Insurer.Indexes())
	for _, pair := range rc.Links.Pairs() {
		if _, ok := brokerIDs[pair.BrokerIndex]; !ok {
			return apperrors.NewIntegrityErrorf("link references an unknown record").AddSide(string(models.SideBroker)).AddIndex(pair.BrokerIndex)
		}
		if _, ok := insurerIDs[pair.InsurerIndex]; !ok {
			return apperrors.NewIntegrityErrorf("link references an unknown record").AddSide(string(models.SideInsurer)).AddIndex(pair.InsurerIndex)
		}
	}
	return nil
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
