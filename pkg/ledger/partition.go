// Package ledger owns the matched/unmatched split of each ledger
package ledger

import (
	"sort"

	"github.com/Gobusters/ectolinq"

	apperrors "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/errors"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
)

// Partition splits one ledger into matched and unmatched records, both sorted by ordinal.
// A Partition is never modified after construction.
type Partition struct {
	Side      models.Side      `json:"side"`
	Columns   []string         `json:"columns"`
	Matched   []*models.Record `json:"matched"`
	Unmatched []*models.Record `json:"unmatched"`
}

// NewPartition starts a ledger with every record unmatched
func NewPartition(l *models.Ledger) *Partition {
	return &Partition{
		Side:      l.Side,
		Columns:   append([]string(nil), l.Columns...),
		Matched:   nil,
		Unmatched: SortByOrdinal(l.Records),
	}
}

// Restore rebuilds a partition from persisted sets, merging duplicates by index
func Restore(side models.Side, columns []string, matched, unmatched []*models.Record) *Partition {
	return &Partition{
		Side:      side,
		Columns:   append([]string(nil), columns...),
		Matched:   MergeRecords(nil, matched),
		Unmatched: MergeRecords(nil, unmatched),
	}
}

// Total returns the number of records in the ledger
func (p *Partition) Total() int {
	return len(p.Matched) + len(p.Unmatched)
}

// All returns every record sorted by ordinal
func (p *Partition) All() []*models.Record {
	return MergeRecords(p.Matched, p.Unmatched)
}

// Indexes returns every identifier sorted by ordinal
func (p *Partition) Indexes() []string {
	return ectolinq.Map(p.All(), func(r *models.Record) string { return r.Index })
}

// Move returns a new partition where the unmatched records named in ids are matched.
// Ids that are already matched or unknown are ignored.
func (p *Partition) Move(ids map[string]struct{}) *Partition {
	var moved, remaining []*models.Record
	for _, r := range p.Unmatched {
		if _, ok := ids[r.Index]; ok {
			moved = append(moved, r)
		} else {
			remaining = append(remaining, r)
		}
	}

	return &Partition{
		Side:      p.Side,
		Columns:   p.Columns,
		Matched:   MergeRecords(p.Matched, moved),
		Unmatched: remaining,
	}
}

// Lookup indexes the unmatched records. A duplicate identifier is a lookup error.
func (p *Partition) Lookup() (map[string]*models.Record, error) {
	byIndex := make(map[string]*models.Record, len(p.Unmatched))
	for _, r := range p.Unmatched {
		if _, ok := byIndex[r.Index]; ok {
			return nil, apperrors.NewLookupErrorf("identifier appears more than once").AddSide(string(p.Side)).AddIndex(r.Index)
		}
		byIndex[r.Index] = r
	}
	return byIndex, nil
}

// Verify checks that no identifier is repeated and that matched and unmatched are
// disjoint. When expected is non-nil the union must equal it exactly.
func (p *Partition) Verify(expected []string) error {
	seen := make(map[string]bool, p.Total())
	for _, set := range [][]*models.Record{p.Matched, p.Unmatched} {
		for _, r := range set {
			if seen[r.Index] {
				return apperrors.NewIntegrityErrorf("identifier is present more than once").AddSide(string(p.Side)).AddIndex(r.Index)
			}
			seen[r.Index] = true
		}
	}

	if expected == nil {
		return nil
	}
	if len(expected) != len(seen) {
		return apperrors.NewIntegrityErrorf("partition holds %d records, expected %d", len(seen), len(expected)).AddSide(string(p.Side))
	}
	for _, index := range expected {
		if !seen[index] {
			return apperrors.NewIntegrityErrorf("record is missing from the partition").AddSide(string(p.Side)).AddIndex(index)
		}
	}
	return nil
}

// MergeRecords combines two record sets. A record in next replaces a record of prior
// with the same index. The result is sorted by ordinal, so S10 follows S9.
func MergeRecords(prior, next []*models.Record) []*models.Record {
	position := make(map[string]int, len(prior)+len(next))
	var merged []*models.Record
	for _, set := range [][]*models.Record{prior, next} {
		for _, r := range set {
			if i, ok := position[r.Index]; ok {
				merged[i] = r
				continue
			}
			position[r.Index] = len(merged)
			merged = append(merged, r)
		}
	}
	return SortByOrdinal(merged)
}

// SortByOrdinal returns a copy of the records stable-sorted by numeric index suffix
func SortByOrdinal(records []*models.Record) []*models.Record {
	out := make([]*models.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Ordinal() < out[j].Ordinal()
	})
	return out
}
