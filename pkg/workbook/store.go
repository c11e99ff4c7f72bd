package workbook

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	apperrors "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/errors"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/ledger"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/linkage"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/pipeline"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
)

const (
	CombinedFile  = "Combined_Data.xlsx"
	MatchedFile   = "Matched_Data.xlsx"
	UnmatchedFile = "Unmatched_Data.xlsx"

	BrokerSheet  = "Saiba_Dump"
	InsurerSheet = "Lombard_Statement"
	RunSheet     = "_run"
	HistorySheet = "_history"

	defaultSheet = "Sheet1"
)

var historyHeader = []string{"stage", "candidates", "matches", "broker_matched", "insurer_matched", "duration_ms", "completed_at"}

// SheetFor returns the sheet name a side is written to
func SheetFor(side models.Side) string {
	if side == models.SideInsurer {
		return InsurerSheet
	}
	return BrokerSheet
}

// Store persists a reconciliation context as the matched and unmatched workbooks of one
// output directory. A directory holds a single run.
type Store struct {
	dir    string
	logger ectologger.Logger
}

// NewStore creates a store writing to dir
func NewStore(dir string, logger ectologger.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// Dir returns the output directory
func (s *Store) Dir() string {
	return s.dir
}

// Exists reports whether a persisted run is present
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.dir, MatchedFile))
	return err == nil
}

// WriteCombined writes both ingested ledgers, with their identifiers, to one workbook
func (s *Store) WriteCombined(ctx context.Context, broker, insurer *models.Ledger) error {
	ctx, span := tracing.StartSpan(ctx, "workbook.Store.WriteCombined")
	defer span.End()

	f := excelize.NewFile()
	defer f.Close()

	for _, l := range []*models.Ledger{broker, insurer} {
		rows := [][]string{append([]string{models.IndexColumn}, l.Columns...)}
		for _, r := range l.Records {
			row := []string{r.Index}
			for _, c := range l.Columns {
				row = append(row, r.Fields[c])
			}
			rows = append(rows, row)
		}
		if err := writeSheet(f, SheetFor(l.Side), rows); err != nil {
			return err
		}
	}

	if err := s.save(f, CombinedFile); err != nil {
		return err
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{"path": filepath.Join(s.dir, CombinedFile)}).Info("Combined workbook written")
	return nil
}

// Save writes the matched and unmatched sets of both ledgers. Matched records carry
// their Matching_Index and Matching_Attribute cells, unmatched records only their source
// columns. Both workbooks get the run sheet so Load can tell when one of them is stale;
// the pass history goes to the matched workbook.
func (s *Store) Save(ctx context.Context, rc *pipeline.ReconciliationContext) error {
	ctx, span := tracing.StartSpan(ctx, "workbook.Store.Save")
	defer span.End()

	matched := excelize.NewFile()
	defer matched.Close()
	unmatched := excelize.NewFile()
	defer unmatched.Close()

	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		p := rc.Partition(side)
		if err := writeSheet(matched, SheetFor(side), matchedRows(rc, side, p.Columns, p.Matched)); err != nil {
			return err
		}
		if err := writeSheet(unmatched, SheetFor(side), unmatchedRows(p.Columns, p.Unmatched)); err != nil {
			return err
		}
	}

	meta, err := runRows(rc)
	if err != nil {
		return err
	}
	for _, f := range []*excelize.File{matched, unmatched} {
		if err := writeSheet(f, RunSheet, meta); err != nil {
			return err
		}
	}
	if err := writeSheet(matched, HistorySheet, historyRows(rc.History)); err != nil {
		return err
	}

	// unmatched first: the matched workbook marks the run as persisted
	if err := s.save(unmatched, UnmatchedFile); err != nil {
		return err
	}
	if err := s.save(matched, MatchedFile); err != nil {
		return err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": rc.RunID,
		"stage":  rc.Stage,
		"dir":    s.dir,
	}).Info("Reconciliation state written")
	return nil
}

// Load reads the persisted run. When runID is not empty it must match the stored run.
// The two workbooks must describe the same run and stage, and together hold every
// record that was ingested.
func (s *Store) Load(ctx context.Context, runID string) (*pipeline.ReconciliationContext, error) {
	ctx, span := tracing.StartSpan(ctx, "workbook.Store.Load")
	defer span.End()

	matched, err := excelize.OpenFile(filepath.Join(s.dir, MatchedFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no reconciliation run is stored in %s", s.dir)
		}
		return nil, errors.Wrapf(err, "failed to open %s", MatchedFile)
	}
	defer matched.Close()
	unmatched, err := excelize.OpenFile(filepath.Join(s.dir, UnmatchedFile))
	if err != nil {
		return nil, apperrors.NewIntegrityErrorf("failed to open %s", UnmatchedFile).WithCause(err)
	}
	defer unmatched.Close()

	meta, err := readMeta(matched, true)
	if err != nil {
		return nil, err
	}
	if runID != "" && meta.runID != runID {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "reconciliation run %s not found in %s", runID, s.dir)
	}
	other, err := readMeta(unmatched, false)
	if err != nil {
		return nil, err
	}
	if err := meta.sameRun(other); err != nil {
		return nil, err
	}

	partitions := make(map[models.Side]*ledger.Partition, 2)
	var brokerPairs []models.MatchPair
	insurerEdges := make(map[string][]linkage.Link)

	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		sheet := SheetFor(side)
		m, err := readRecords(matched, sheet, side, true)
		if err != nil {
			return nil, err
		}
		u, err := readRecords(unmatched, sheet, side, false)
		if err != nil {
			return nil, err
		}

		for _, row := range m.records {
			for _, link := range row.links {
				if side == models.SideBroker {
					brokerPairs = append(brokerPairs, models.MatchPair{BrokerIndex: row.record.Index, InsurerIndex: link.Target, Reason: link.Reason})
				} else {
					insurerEdges[row.record.Index] = append(insurerEdges[row.record.Index], link)
				}
			}
		}

		columns := m.columns
		if len(columns) == 0 {
			columns = u.columns
		}
		p := ledger.Restore(side, columns, m.plain(), u.plain())
		if err := p.Verify(meta.expected(side)); err != nil {
			return nil, err
		}
		partitions[side] = p
	}

	links := linkage.Rebuild(brokerPairs)
	if err := checkMirror(links, insurerEdges); err != nil {
		return nil, err
	}

	rc, err := pipeline.Restore(meta.runID, meta.stage, meta.schema, partitions[models.SideBroker], partitions[models.SideInsurer], links, meta.history)
	if err != nil {
		return nil, err
	}
	rc.CreatedAt = meta.createdAt

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": rc.RunID,
		"stage":  rc.Stage,
		"links":  links.Len(),
	}).Info("Reconciliation state loaded")
	return rc, nil
}

func (s *Store) save(f *excelize.File, name string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", s.dir)
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", name)
	}
	defer os.Remove(tmp.Name())

	if err := f.Write(tmp); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write %s", name)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return errors.Wrapf(err, "failed to replace %s", name)
	}
	return nil
}

func matchedRows(rc *pipeline.ReconciliationContext, side models.Side, columns []string, records []*models.Record) [][]string {
	header := append([]string{models.IndexColumn, models.MatchingIndexColumn, models.MatchingAttributeColumn}, columns...)
	rows := [][]string{header}
	for _, r := range records {
		idx, attr := rc.MatchingFields(side, r.Index)
		row := []string{r.Index, idx, attr}
		for _, c := range columns {
			row = append(row, r.Fields[c])
		}
		rows = append(rows, row)
	}
	return rows
}

func unmatchedRows(columns []string, records []*models.Record) [][]string {
	rows := [][]string{append([]string{models.IndexColumn}, columns...)}
	for _, r := range records {
		row := []string{r.Index}
		for _, c := range columns {
			row = append(row, r.Fields[c])
		}
		rows = append(rows, row)
	}
	return rows
}

func runRows(rc *pipeline.ReconciliationContext) ([][]string, error) {
	schema, err := yaml.Marshal(rc.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode column schema")
	}
	return [][]string{
		{"key", "value"},
		{"run_id", rc.RunID},
		{"stage", string(rc.Stage)},
		{"created_at", rc.CreatedAt.UTC().Format(time.RFC3339Nano)},
		{"broker_records", strconv.Itoa(rc.Broker.Total())},
		{"insurer_records", strconv.Itoa(rc.Insurer.Total())},
		{"schema", string(schema)},
	}, nil
}

func historyRows(history []pipeline.PassSummary) [][]string {
	rows := [][]string{historyHeader}
	for _, h := range history {
		rows = append(rows, []string{
			string(h.Stage),
			strconv.Itoa(h.Candidates),
			strconv.Itoa(h.Matches),
			strconv.Itoa(h.BrokerMatched),
			strconv.Itoa(h.InsurerMatched),
			strconv.FormatInt(h.Duration.Milliseconds(), 10),
			h.CompletedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return rows
}

// writeSheet writes rows starting at A1, reusing the default sheet of a new file
func writeSheet(f *excelize.File, sheet string, rows [][]string) error {
	if idx, _ := f.GetSheetIndex(defaultSheet); idx >= 0 {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return errors.Wrapf(err, "failed to name sheet %s", sheet)
		}
	} else if _, err := f.NewSheet(sheet); err != nil {
		return errors.Wrapf(err, "failed to add sheet %s", sheet)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return errors.Wrap(err, "invalid cell")
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return errors.Wrapf(err, "failed to write row %d of %s", i+1, sheet)
		}
	}
	return nil
}

type storedRecord struct {
	record *models.Record
	links  []linkage.Link
}

type storedSheet struct {
	columns []string
	records []storedRecord
}

func (s storedSheet) plain() []*models.Record {
	out := make([]*models.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.record)
	}
	return out
}

// readRecords reads a persisted sheet. Only matched sheets carry matching cells.
func readRecords(f *excelize.File, sheet string, side models.Side, linked bool) (*storedSheet, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to read sheet %q", sheet).AddSide(string(side)).WithCause(err)
	}
	table, err := NewTable(rows)
	if err != nil {
		var re *apperrors.ReconcileError
		if errors.As(err, &re) {
			re.AddSide(string(side))
		}
		return nil, err
	}

	out := &storedSheet{}
	hasIndex := false
	for _, c := range table.Columns {
		switch c {
		case models.IndexColumn:
			hasIndex = true
		case models.MatchingIndexColumn, models.MatchingAttributeColumn:
		default:
			out.columns = append(out.columns, c)
		}
	}
	if !hasIndex {
		return nil, apperrors.NewIngestionErrorf("missing required column").AddSide(string(side)).AddColumn(models.IndexColumn)
	}

	seen := make(map[string]bool, len(table.Rows))
	for _, row := range table.Rows {
		index := row[models.IndexColumn]
		if index == "" {
			return nil, apperrors.NewIngestionErrorf("record without identifier").AddSide(string(side))
		}
		if seen[index] {
			return nil, apperrors.NewIngestionErrorf("duplicate identifier").AddSide(string(side)).AddIndex(index)
		}
		seen[index] = true

		stored := storedRecord{record: models.NewRecord(index, row)}
		if linked {
			links, ok := linkage.Decode(row[models.MatchingIndexColumn], row[models.MatchingAttributeColumn])
			if !ok {
				return nil, apperrors.NewIngestionErrorf("malformed matching cells").AddSide(string(side)).AddIndex(index).AddColumn(models.MatchingAttributeColumn)
			}
			stored.links = links
		}
		out.records = append(out.records, stored)
	}
	return out, nil
}

type runMeta struct {
	runID     string
	stage     pipeline.Stage
	schema    models.Schema
	createdAt time.Time
	records   map[models.Side]int
	history   []pipeline.PassSummary
}

// expected lists the identifiers ingestion assigned to a side
func (m *runMeta) expected(side models.Side) []string {
	out := make([]string, 0, m.records[side])
	for i := 1; i <= m.records[side]; i++ {
		out = append(out, models.FormatIndex(side.Prefix(), i))
	}
	return out
}

// sameRun rejects a pair of workbooks written by different saves
func (m *runMeta) sameRun(other *runMeta) error {
	if m.runID != other.runID {
		return apperrors.NewIntegrityErrorf("%s belongs to run %s, %s to run %s", MatchedFile, m.runID, UnmatchedFile, other.runID)
	}
	if m.stage != other.stage {
		return apperrors.NewIntegrityErrorf("%s is at stage %s, %s at stage %s", MatchedFile, m.stage, UnmatchedFile, other.stage)
	}
	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		if m.records[side] != other.records[side] {
			return apperrors.NewIntegrityErrorf("workbooks disagree on the number of ingested records").AddSide(string(side))
		}
	}
	return nil
}

func readMeta(f *excelize.File, withHistory bool) (*runMeta, error) {
	rows, err := f.GetRows(RunSheet)
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to read sheet %q", RunSheet).WithCause(err)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		if len(row) >= 2 {
			values[row[0]] = row[1]
		}
	}

	meta := &runMeta{runID: values["run_id"], stage: pipeline.Stage(values["stage"]), schema: models.DefaultSchema()}
	if meta.runID == "" {
		return nil, apperrors.NewIngestionErrorf("run id is missing").AddColumn(RunSheet)
	}
	if err := yaml.Unmarshal([]byte(values["schema"]), &meta.schema); err != nil {
		return nil, apperrors.NewIngestionErrorf("invalid column schema").WithCause(err)
	}
	if created, err := time.Parse(time.RFC3339Nano, values["created_at"]); err == nil {
		meta.createdAt = created
	}
	meta.records = make(map[models.Side]int, 2)
	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		key := string(side) + "_records"
		n, err := strconv.Atoi(values[key])
		if err != nil || n < 0 {
			return nil, apperrors.NewIngestionErrorf("invalid record count %q", values[key]).AddSide(string(side)).AddColumn(key)
		}
		meta.records[side] = n
	}
	if !withHistory {
		return meta, nil
	}

	historyRows, err := f.GetRows(HistorySheet)
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to read sheet %q", HistorySheet).WithCause(err)
	}
	table, err := NewTable(historyRows)
	if err != nil {
		return nil, err
	}
	for _, row := range table.Rows {
		ms, _ := strconv.ParseInt(row["duration_ms"], 10, 64)
		completed, _ := time.Parse(time.RFC3339Nano, row["completed_at"])
		meta.history = append(meta.history, pipeline.PassSummary{
			Stage:          pipeline.Stage(row["stage"]),
			Candidates:     atoi(row["candidates"]),
			Matches:        atoi(row["matches"]),
			BrokerMatched:  atoi(row["broker_matched"]),
			InsurerMatched: atoi(row["insurer_matched"]),
			Duration:       time.Duration(ms) * time.Millisecond,
			CompletedAt:    completed,
		})
	}
	return meta, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// checkMirror verifies that the insurer cells describe the same edges as the broker cells
func checkMirror(links *linkage.Links, insurerEdges map[string][]linkage.Link) error {
	count := 0
	for index, edges := range insurerEdges {
		for _, e := range edges {
			pair := models.MatchPair{BrokerIndex: e.Target, InsurerIndex: index, Reason: e.Reason}
			found := false
			for _, l := range links.Of(models.SideInsurer, index) {
				if l.Target == pair.BrokerIndex && l.Reason == pair.Reason {
					found = true
					break
				}
			}
			if !found {
				return apperrors.NewIntegrityErrorf("insurer link to %s is missing on the broker ledger", e.Target).AddSide(string(models.SideInsurer)).AddIndex(index)
			}
			count++
		}
	}
	if count != links.Len() {
		return apperrors.NewIntegrityErrorf("broker ledger holds %d links, insurer ledger %d", links.Len(), count)
	}
	return nil
}
