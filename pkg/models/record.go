package models

import (
	"strconv"
	"strings"
	"unicode"
)

// Column names added to every ledger by the reconciler.
const (
	IndexColumn             = "Index"
	MatchingIndexColumn     = "Matching_Index"
	MatchingAttributeColumn = "Matching_Attribute"
)

// Side identifies which ledger a record belongs to
type Side string

const (
	SideBroker  Side = "broker"
	SideInsurer Side = "insurer"
)

// Prefix returns the identifier prefix used when assigning indexes
func (s Side) Prefix() string {
	switch s {
	case SideBroker:
		return "S"
	case SideInsurer:
		return "L"
	default:
		return ""
	}
}

// Other returns the opposite ledger side
func (s Side) Other() Side {
	if s == SideBroker {
		return SideInsurer
	}
	return SideBroker
}

// IsValid checks if the side is valid
func (s Side) IsValid() bool {
	return s == SideBroker || s == SideInsurer
}

// Record is one row of a ledger. Fields holds the source cells keyed by column name.
type Record struct {
	Index  string            `json:"index" db:"record_index"`
	Fields map[string]string `json:"fields"`
}

// NewRecord creates a record with a copy of the given fields
func NewRecord(index string, fields map[string]string) *Record {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == IndexColumn || k == MatchingIndexColumn || k == MatchingAttributeColumn {
			continue
		}
		copied[k] = v
	}
	return &Record{Index: index, Fields: copied}
}

// Get returns the trimmed cell value for a column, or "" when the column is absent
func (r *Record) Get(column string) string {
	if r == nil || column == "" {
		return ""
	}
	return strings.TrimSpace(r.Fields[column])
}

// Ordinal returns the numeric suffix of the record index
func (r *Record) Ordinal() int {
	ordinal, _ := ParseOrdinal(r.Index)
	return ordinal
}

// FormatIndex builds an identifier such as S12 or L3
func FormatIndex(prefix string, ordinal int) string {
	return prefix + strconv.Itoa(ordinal)
}

// ParseOrdinal extracts the numeric suffix from an identifier.
// S10 yields 10. Identifiers without a numeric suffix yield (0, false).
func ParseOrdinal(index string) (int, bool) {
	i := len(index)
	for i > 0 && unicode.IsDigit(rune(index[i-1])) {
		i--
	}
	if i == len(index) {
		return 0, false
	}
	n, err := strconv.Atoi(index[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Ledger is one side's ordered record set
type Ledger struct {
	Side    Side      `json:"side"`
	Columns []string  `json:"columns"`
	Records []*Record `json:"records"`
}

// NewLedger assigns identifiers to raw rows in source order, starting at 1
func NewLedger(side Side, columns []string, rows []map[string]string) *Ledger {
	cols := make([]string, 0, len(columns))
	for _, c := range columns {
		if c == IndexColumn || c == MatchingIndexColumn || c == MatchingAttributeColumn {
			continue
		}
		cols = append(cols, c)
	}

	records := make([]*Record, 0, len(rows))
	for i, row := range rows {
		records = append(records, NewRecord(FormatIndex(side.Prefix(), i+1), row))
	}

	return &Ledger{Side: side, Columns: cols, Records: records}
}

// Indexes returns the record identifiers in ledger order
func (l *Ledger) Indexes() []string {
	ids := make([]string, 0, len(l.Records))
	for _, r := range l.Records {
		ids = append(ids, r.Index)
	}
	return ids
}
