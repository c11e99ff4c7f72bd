package ledgerstate

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/database"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/ledger"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/linkage"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/pipeline"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
)

const batchSize = 500

type runRow struct {
	RunID          string                       `db:"run_id"`
	Stage          string                       `db:"stage"`
	ColumnSchema   database.JSONB[models.Schema] `db:"column_schema"`
	BrokerColumns  database.JSONB[[]string]     `db:"broker_columns"`
	InsurerColumns database.JSONB[[]string]     `db:"insurer_columns"`
	CreatedAt      time.Time                    `db:"created_at"`
	UpdatedAt      time.Time                    `db:"updated_at"`
}

type recordRow struct {
	Side        string                              `db:"side"`
	RecordIndex string                              `db:"record_index"`
	Ordinal     int                                 `db:"ordinal"`
	Matched     bool                                `db:"matched"`
	Fields      database.JSONB[map[string]string] `db:"fields"`
}

type linkRow struct {
	Position     int    `db:"position"`
	BrokerIndex  string `db:"broker_index"`
	InsurerIndex string `db:"insurer_index"`
	Reason       string `db:"reason"`
}

type historyRow struct {
	Position       int       `db:"position"`
	Stage          string    `db:"stage"`
	Candidates     int       `db:"candidates"`
	Matches        int       `db:"matches"`
	BrokerMatched  int       `db:"broker_matched"`
	InsurerMatched int       `db:"insurer_matched"`
	DurationMs     int64     `db:"duration_ms"`
	CompletedAt    time.Time `db:"completed_at"`
}

// Repository persists reconciliation contexts in the relational state tables
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new ledger state repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Save replaces the stored state of the run with rc in one transaction
func (r *Repository) Save(ctx context.Context, rc *pipeline.ReconciliationContext) error {
	ctx, span := tracing.StartSpan(ctx, "ledgerstate.Repository.Save")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": rc.RunID, "stage": rc.Stage})
	flavor := r.db.Flavor()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	ib := database.NewInsertBuilder(flavor)
	ib.InsertInto("reconciliation_runs")
	ib.Cols("run_id", "stage", "column_schema", "broker_columns", "insurer_columns", "created_at", "updated_at")
	ib.Values(rc.RunID, string(rc.Stage),
		database.NewJSONB(rc.Schema),
		database.NewJSONB(rc.Broker.Columns),
		database.NewJSONB(rc.Insurer.Columns),
		rc.CreatedAt.UTC(), now)
	ib.OnConflictUpdate([]string{"run_id"}, "stage", "column_schema", "broker_columns", "insurer_columns", "updated_at")

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to upsert reconciliation run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save reconciliation run")
	}

	for _, table := range []string{"ledger_records", "record_links", "pass_history"} {
		db := database.NewDeleteBuilder(flavor)
		db.DeleteFrom(table)
		db.Where(db.Equal("run_id", rc.RunID))
		query, args := db.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			log.WithError(err).WithFields(map[string]any{"table": table}).Error("Failed to clear previous state")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save reconciliation run")
		}
	}

	if err := r.insertRecords(ctx, tx, rc); err != nil {
		log.WithError(err).Error("Failed to insert ledger records")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save ledger records")
	}
	if err := r.insertLinks(ctx, tx, rc); err != nil {
		log.WithError(err).Error("Failed to insert record links")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save record links")
	}
	if err := r.insertHistory(ctx, tx, rc); err != nil {
		log.WithError(err).Error("Failed to insert pass history")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save pass history")
	}

	if err := tx.Commit(ctx); err != nil {
		log.WithError(err).Error("Failed to commit transaction")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}

	log.WithFields(map[string]any{
		"broker_records":  rc.Broker.Total(),
		"insurer_records": rc.Insurer.Total(),
		"links":           rc.Links.Len(),
	}).Debug("Reconciliation state saved")
	return nil
}

func (r *Repository) insertRecords(ctx context.Context, tx database.Tx, rc *pipeline.ReconciliationContext) error {
	var rows []recordRow
	for _, side := range []models.Side{models.SideBroker, models.SideInsurer} {
		p := rc.Partition(side)
		for _, set := range []struct {
			records []*models.Record
			matched bool
		}{{p.Matched, true}, {p.Unmatched, false}} {
			for _, rec := range set.records {
				rows = append(rows, recordRow{
					Side:        string(side),
					RecordIndex: rec.Index,
					Ordinal:     rec.Ordinal(),
					Matched:     set.matched,
					Fields:      database.NewJSONB(rec.Fields),
				})
			}
		}
	}

	for _, chunk := range database.Chunks(len(rows), batchSize) {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto("ledger_records")
		ib.Cols("run_id", "side", "record_index", "ordinal", "matched", "fields")
		for _, row := range rows[chunk[0]:chunk[1]] {
			ib.Values(rc.RunID, row.Side, row.RecordIndex, row.Ordinal, row.Matched, row.Fields)
		}
		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) insertLinks(ctx context.Context, tx database.Tx, rc *pipeline.ReconciliationContext) error {
	pairs := rc.Links.Pairs()
	for _, chunk := range database.Chunks(len(pairs), batchSize) {
		ib := database.NewInsertBuilder(r.db.Flavor())
		ib.InsertInto("record_links")
		ib.Cols("run_id", "position", "broker_index", "insurer_index", "reason")
		for i := chunk[0]; i < chunk[1]; i++ {
			ib.Values(rc.RunID, i, pairs[i].BrokerIndex, pairs[i].InsurerIndex, string(pairs[i].Reason))
		}
		query, args := ib.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) insertHistory(ctx context.Context, tx database.Tx, rc *pipeline.ReconciliationContext) error {
	if len(rc.History) == 0 {
		return nil
	}
	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto("pass_history")
	ib.Cols("run_id", "position", "stage", "candidates", "matches", "broker_matched", "insurer_matched", "duration_ms", "completed_at")
	for i, h := range rc.History {
		ib.Values(rc.RunID, i, string(h.Stage), h.Candidates, h.Matches, h.BrokerMatched, h.InsurerMatched, h.Duration.Milliseconds(), h.CompletedAt.UTC())
	}
	query, args := ib.Build()
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// Load rebuilds a stored run. An empty runID loads the most recently saved run.
func (r *Repository) Load(ctx context.Context, runID string) (*pipeline.ReconciliationContext, error) {
	ctx, span := tracing.StartSpan(ctx, "ledgerstate.Repository.Load")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{"run_id": runID})
	flavor := r.db.Flavor()

	sb := database.NewSelectBuilder(flavor)
	sb.Select("run_id", "stage", "column_schema", "broker_columns", "insurer_columns", "created_at", "updated_at")
	sb.From("reconciliation_runs")
	if runID != "" {
		sb.Where(sb.Equal("run_id", runID))
	}
	sb.OrderBy("updated_at").Desc()
	sb.Limit(1)

	query, args := sb.Build()
	var run runRow
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if runID == "" {
				return nil, httperror.NewHTTPError(http.StatusNotFound, "no reconciliation run is stored")
			}
			return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "reconciliation run %s not found", runID)
		}
		log.WithError(err).Error("Failed to get reconciliation run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get reconciliation run")
	}

	records, err := r.selectRecords(ctx, run.RunID)
	if err != nil {
		log.WithError(err).Error("Failed to get ledger records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get ledger records")
	}
	pairs, err := r.selectLinks(ctx, run.RunID)
	if err != nil {
		log.WithError(err).Error("Failed to get record links")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record links")
	}
	history, err := r.selectHistory(ctx, run.RunID)
	if err != nil {
		log.WithError(err).Error("Failed to get pass history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get pass history")
	}

	matched := map[models.Side][]*models.Record{}
	unmatched := map[models.Side][]*models.Record{}
	for _, row := range records {
		side := models.Side(row.Side)
		rec := models.NewRecord(row.RecordIndex, row.Fields.GetValue())
		if row.Matched {
			matched[side] = append(matched[side], rec)
		} else {
			unmatched[side] = append(unmatched[side], rec)
		}
	}

	broker := ledger.Restore(models.SideBroker, run.BrokerColumns.GetValue(), matched[models.SideBroker], unmatched[models.SideBroker])
	insurer := ledger.Restore(models.SideInsurer, run.InsurerColumns.GetValue(), matched[models.SideInsurer], unmatched[models.SideInsurer])

	rc, err := pipeline.Restore(run.RunID, pipeline.Stage(run.Stage), run.ColumnSchema.GetValue(), broker, insurer, linkage.FromPairs(pairs), history)
	if err != nil {
		log.WithError(err).Error("Stored reconciliation run is inconsistent")
		return nil, err
	}
	rc.CreatedAt = run.CreatedAt.UTC()
	return rc, nil
}

func (r *Repository) selectRecords(ctx context.Context, runID string) ([]recordRow, error) {
	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("side", "record_index", "ordinal", "matched", "fields")
	sb.From("ledger_records")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("side", "ordinal", "record_index")

	query, args := sb.Build()
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) selectLinks(ctx context.Context, runID string) ([]models.MatchPair, error) {
	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("position", "broker_index", "insurer_index", "reason")
	sb.From("record_links")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("position")

	query, args := sb.Build()
	var rows []linkRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	pairs := make([]models.MatchPair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, models.MatchPair{
			BrokerIndex:  row.BrokerIndex,
			InsurerIndex: row.InsurerIndex,
			Reason:       models.Reason(row.Reason),
		})
	}
	return pairs, nil
}

func (r *Repository) selectHistory(ctx context.Context, runID string) ([]pipeline.PassSummary, error) {
	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("position", "stage", "candidates", "matches", "broker_matched", "insurer_matched", "duration_ms", "completed_at")
	sb.From("pass_history")
	sb.Where(sb.Equal("run_id", runID))
	sb.OrderBy("position")

	query, args := sb.Build()
	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	history := make([]pipeline.PassSummary, 0, len(rows))
	for _, row := range rows {
		history = append(history, pipeline.PassSummary{
			Stage:          pipeline.Stage(row.Stage),
			Candidates:     row.Candidates,
			Matches:        row.Matches,
			BrokerMatched:  row.BrokerMatched,
			InsurerMatched: row.InsurerMatched,
			Duration:       time.Duration(row.DurationMs) * time.Millisecond,
			CompletedAt:    row.CompletedAt.UTC(),
		})
	}
	return history, nil
}

// Delete removes a run and its records
func (r *Repository) Delete(ctx context.Context, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "ledgerstate.Repository.Delete")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to start transaction")
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"pass_history", "record_links", "ledger_records", "reconciliation_runs"} {
		db := database.NewDeleteBuilder(r.db.Flavor())
		db.DeleteFrom(table)
		db.Where(db.Equal("run_id", runID))
		query, args := db.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": runID, "table": table}).Error("Failed to delete reconciliation run")
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete reconciliation run")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit")
	}
	return nil
}
