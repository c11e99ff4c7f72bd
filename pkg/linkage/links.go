// Package linkage keeps the bidirectional match bookkeeping between the two ledgers
package linkage

import (
	"sort"
	"strings"

	"github.com/Gobusters/ectolinq"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
)

// Link is one edge seen from a record: the record on the other side and the reason
type Link struct {
	Target string        `json:"target"`
	Reason models.Reason `json:"reason"`
}

// Links maps every identifier to the set of (identifier, reason) edges it takes part in.
// Edges are kept in insertion order on both sides. A Links value is never shared between
// contexts; use Clone before adding to a copy.
type Links struct {
	pairs   []models.MatchPair
	seen    map[models.MatchPair]struct{}
	broker  map[string][]Link
	insurer map[string][]Link
}

// New creates an empty multimap
func New() *Links {
	return &Links{
		seen:    make(map[models.MatchPair]struct{}),
		broker:  make(map[string][]Link),
		insurer: make(map[string][]Link),
	}
}

// FromPairs builds a multimap from pairs in order
func FromPairs(pairs []models.MatchPair) *Links {
	l := New()
	for _, p := range pairs {
		l.Add(p)
	}
	return l
}

// Rebuild restores a multimap from pairs read back per broker record. Pairs are put
// back in pass order, then broker ordinal, which is the order the passes add them in.
// The relative order of a broker record's own edges is kept.
func Rebuild(pairs []models.MatchPair) *Links {
	rank := make(map[models.Reason]int, len(models.AllReasons))
	for i, r := range models.AllReasons {
		rank[r] = i
	}

	sorted := append([]models.MatchPair(nil), pairs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if rank[sorted[i].Reason] != rank[sorted[j].Reason] {
			return rank[sorted[i].Reason] < rank[sorted[j].Reason]
		}
		a, _ := models.ParseOrdinal(sorted[i].BrokerIndex)
		b, _ := models.ParseOrdinal(sorted[j].BrokerIndex)
		return a < b
	})
	return FromPairs(sorted)
}

// Add records an edge. Adding an existing (broker, insurer, reason) triple is a no-op
// and returns false.
func (l *Links) Add(pair models.MatchPair) bool {
	if _, ok := l.seen[pair]; ok {
		return false
	}
	l.seen[pair] = struct{}{}
	l.pairs = append(l.pairs, pair)
	l.broker[pair.BrokerIndex] = append(l.broker[pair.BrokerIndex], Link{Target: pair.InsurerIndex, Reason: pair.Reason})
	l.insurer[pair.InsurerIndex] = append(l.insurer[pair.InsurerIndex], Link{Target: pair.BrokerIndex, Reason: pair.Reason})
	return true
}

// Clone returns an independent copy
func (l *Links) Clone() *Links {
	return FromPairs(l.pairs)
}

// Pairs returns every edge in insertion order
func (l *Links) Pairs() []models.MatchPair {
	out := make([]models.MatchPair, len(l.pairs))
	copy(out, l.pairs)
	return out
}

// Len returns the number of edges
func (l *Links) Len() int {
	return len(l.pairs)
}

// Of returns the edges of a record on the given side
func (l *Links) Of(side models.Side, index string) []Link {
	if side == models.SideInsurer {
		return l.insurer[index]
	}
	return l.broker[index]
}

// Has reports whether the record has at least one edge
func (l *Links) Has(side models.Side, index string) bool {
	return len(l.Of(side, index)) > 0
}

// Linked returns the set of identifiers on a side that have at least one edge
func (l *Links) Linked(side models.Side) map[string]struct{} {
	source := l.broker
	if side == models.SideInsurer {
		source = l.insurer
	}
	out := make(map[string]struct{}, len(source))
	for index := range source {
		out[index] = struct{}{}
	}
	return out
}

// ByReason returns the edges carrying the reason, in insertion order
func (l *Links) ByReason(reason models.Reason) []models.MatchPair {
	return ectolinq.Filter(l.pairs, func(p models.MatchPair) bool {
		return p.Reason == reason
	})
}

// Encode renders the edges of a record as the Matching_Index and Matching_Attribute cells.
// Indexes follow edge order. The attribute is the single reason when every edge shares
// it, else one reason per index.
func (l *Links) Encode(side models.Side, index string) (string, string) {
	links := l.Of(side, index)
	if len(links) == 0 {
		return "", ""
	}

	targets := ectolinq.Map(links, func(link Link) string { return link.Target })
	reasons := ectolinq.Map(links, func(link Link) string { return string(link.Reason) })

	uniform := true
	for _, r := range reasons[1:] {
		if r != reasons[0] {
			uniform = false
			break
		}
	}
	if uniform {
		return strings.Join(targets, ", "), reasons[0]
	}
	return strings.Join(targets, ", "), strings.Join(reasons, ", ")
}

// Decode parses Matching_Index and Matching_Attribute cells back into edges seen from the
// record. It returns false when the cells do not follow the Encode layout.
func Decode(matchingIndex, matchingAttribute string) ([]Link, bool) {
	targets := splitList(matchingIndex)
	reasons := splitList(matchingAttribute)
	if len(targets) == 0 && len(reasons) == 0 {
		return nil, true
	}
	if len(targets) == 0 || len(reasons) == 0 {
		return nil, false
	}
	if len(reasons) != 1 && len(reasons) != len(targets) {
		return nil, false
	}

	links := make([]Link, 0, len(targets))
	for i, target := range targets {
		reason := models.Reason(reasons[0])
		if len(reasons) > 1 {
			reason = models.Reason(reasons[i])
		}
		if !reason.IsValid() {
			return nil, false
		}
		links = append(links, Link{Target: target, Reason: reason})
	}
	return links, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
