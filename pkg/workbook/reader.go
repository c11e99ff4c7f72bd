// Package workbook reads ledgers from spreadsheets and persists reconciliation state as workbooks
package workbook

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	apperrors "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/errors"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/normalizers"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
)

// Table is a sheet read into a header and trimmed rows keyed by header
type Table struct {
	Columns []string
	Rows    []map[string]string
}

// Reader loads ledgers from .xlsx or .csv files
type Reader struct {
	logger ectologger.Logger
}

// NewReader creates a new Reader
func NewReader(logger ectologger.Logger) *Reader {
	return &Reader{logger: logger}
}

// ReadLedger ingests a source file and assigns identifiers in row order. An empty sheet
// name selects the first sheet; it is ignored for CSV files.
func (r *Reader) ReadLedger(ctx context.Context, side models.Side, path, sheet string) (*models.Ledger, error) {
	ctx, span := tracing.StartSpan(ctx, "workbook.Reader.ReadLedger")
	defer span.End()

	table, err := r.ReadTable(ctx, path, sheet)
	if err != nil {
		var re *apperrors.ReconcileError
		if errors.As(err, &re) {
			re.AddSide(string(side))
		}
		return nil, err
	}

	ledger := models.NewLedger(side, table.Columns, table.Rows)

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"side":    side,
		"path":    path,
		"sheet":   sheet,
		"columns": len(ledger.Columns),
		"records": len(ledger.Records),
	}).Info("Ledger ingested")

	return ledger, nil
}

// ReadTable reads one sheet of a workbook, or a whole CSV file
func (r *Reader) ReadTable(ctx context.Context, path, sheet string) (*Table, error) {
	_, span := tracing.StartSpan(ctx, "workbook.Reader.ReadTable")
	defer span.End()

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	case ".xlsx", ".xlsm", ".xltx", ".xltm":
		rows, err = readSheet(path, sheet)
	default:
		return nil, apperrors.NewIngestionErrorf("unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return NewTable(rows)
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to open %s", path).WithCause(err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to read %s", path).WithCause(err)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readSheet(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to open %s", path).WithCause(err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, apperrors.NewIngestionErrorf("sheet %q not found in %s", sheet, path)
	}

	// raw values keep dates as serial numbers and amounts without display formatting
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, apperrors.NewIngestionErrorf("failed to read sheet %q of %s", sheet, path).WithCause(err)
	}
	return rows, nil
}

// NewTable builds a table from raw rows. The first row is the header; runs of whitespace
// in a header name collapse to one space. Cells are trimmed, short rows are padded and
// rows with no value at all are dropped.
func NewTable(rows [][]string) (*Table, error) {
	if len(rows) == 0 {
		return nil, apperrors.NewIngestionErrorf("sheet has no header row")
	}

	header := make([]string, len(rows[0]))
	seen := make(map[string]bool, len(rows[0]))
	var columns []string
	for i, cell := range rows[0] {
		name := normalizers.Apply(cell, "collapse_whitespace")
		header[i] = name
		if name == "" {
			continue
		}
		if seen[name] {
			return nil, apperrors.NewIngestionErrorf("duplicate column").AddColumn(name)
		}
		seen[name] = true
		columns = append(columns, name)
	}

	table := &Table{Columns: columns}
	for _, raw := range rows[1:] {
		row := make(map[string]string, len(columns))
		blank := true
		for i, name := range header {
			if name == "" {
				continue
			}
			value := ""
			if i < len(raw) {
				value = normalizers.Trim(raw[i])
			}
			if value != "" {
				blank = false
			}
			row[name] = value
		}
		if !blank {
			table.Rows = append(table.Rows, row)
		}
	}
	return table, nil
}
