package main

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/pkg/errors"

	migrations "github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/db"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/config"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/internal/repositories/ledgerstate"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/database"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/logging"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/metrics"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/models"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/pipeline"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/startup"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/tracing/exporters"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/workbook"
)

// StateStore persists a reconciliation context between invocations
type StateStore interface {
	Save(ctx context.Context, rc *pipeline.ReconciliationContext) error
	Load(ctx context.Context, runID string) (*pipeline.ReconciliationContext, error)
}

// options are the flags shared by every command
type options struct {
	envFile      string
	output       string
	store        string
	brokerSheet  string
	insurerSheet string
	mappingFile  string
	runID        string
	startupTries int
}

type app struct {
	cfg      *config.Config
	logger   ectologger.Logger
	flush    func()
	startup  *startup.Startup
	db       database.DB
	store    StateStore
	files    *workbook.Store
	reader   *workbook.Reader
	pipeline *pipeline.Pipeline
	schema   models.Schema
}

func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.output != "" {
		cfg.OutputDir = opts.output
	}
	if opts.store != "" {
		cfg.Store = opts.store
	}
	if opts.brokerSheet != "" {
		cfg.BrokerSheet = opts.brokerSheet
	}
	if opts.insurerSheet != "" {
		cfg.InsurerSheet = opts.insurerSheet
	}
	if opts.mappingFile != "" {
		cfg.ColumnMappingFile = opts.mappingFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires the configured store and starts its dependencies. Close must be called
// even when a command fails.
func newApp(ctx context.Context, opts *options) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(logging.Options{
		AppName: cfg.AppName,
		Level:   cfg.LogLevel,
		Pretty:  cfg.PrettyLogs,
	})
	if err != nil {
		return nil, err
	}

	schema, err := models.LoadSchema(cfg.ColumnMappingFile)
	if err != nil {
		flush()
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		flush:    flush,
		startup:  startup.NewStartup(logger, opts.startupTries),
		files:    workbook.NewStore(cfg.OutputDir, logger),
		reader:   workbook.NewReader(logger),
		pipeline: pipeline.NewPipeline(cfg.PipelineConfig(), logger),
		schema:   schema,
	}
	a.registerDependencies()

	if err := a.startup.Start(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if a.db != nil {
		a.store = ledgerstate.NewRepository(a.db, logger)
	} else {
		a.store = a.files
	}
	return a, nil
}

func (a *app) registerDependencies() {
	if a.cfg.TracingEnabled {
		var shutdown func(context.Context) error
		a.startup.AddDependency(startup.Func{
			Name: "tracing",
			OnStart: func(ctx context.Context) error {
				otlp := exporters.DefaultOTLPConfig()
				otlp.Protocol = a.cfg.TracingExporter
				otlp.Endpoint = a.cfg.TracingEndpoint
				exporter, err := exporters.NewOTLPExporter(ctx, otlp)
				if err != nil {
					return errors.Wrap(err, "failed to create trace exporter")
				}
				shutdown = tracing.Setup(a.cfg.AppName, exporter)
				return nil
			},
			OnStop: func(ctx context.Context) error {
				if shutdown == nil {
					return nil
				}
				return shutdown(ctx)
			},
		})
	}

	if a.cfg.Store == config.StoreWorkbook {
		return
	}

	a.startup.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			db, err := database.Open(ctx, a.databaseConfig(), a.logger)
			if err != nil {
				return err
			}
			a.db = db
			return nil
		},
		OnStop: func(context.Context) error {
			if a.db == nil {
				return nil
			}
			return a.db.Close()
		},
	})
	a.startup.AddDependency(startup.Func{
		Name:     "migrations",
		Requires: []string{"database"},
		OnStart: func(context.Context) error {
			ms := database.NewMigrationService(a.logger, &database.MigrationConfig{
				Migrations:   migrations.For(a.db.DriverName()),
				Force:        a.cfg.DatabaseMigrationForce,
				AutoRollback: true,
			})
			return ms.MigrateDB(a.db)
		},
	})
}

func (a *app) databaseConfig() database.Config {
	if a.cfg.Store == config.StoreSQLite {
		return database.Config{
			Driver: database.DriverSQLite,
			Path:   a.cfg.SQLitePath,
		}
	}
	return database.Config{
		Driver:          database.DriverPostgres,
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		UserName:        a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}
}

// Close stops dependencies, writes the metrics textfile and flushes the logger
func (a *app) Close(ctx context.Context) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := a.startup.Stop(stopCtx); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Failed to stop dependencies")
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		a.logger.WithContext(ctx).WithError(err).Warn("Failed to write metrics")
	}
	a.flush()
}

// ingest reads both ledgers, writes the combined workbook and persists a new run
func (a *app) ingest(ctx context.Context, brokerPath, insurerPath string) (*pipeline.ReconciliationContext, error) {
	ctx, span := tracing.StartSpan(ctx, "main.app.ingest")
	defer span.End()

	broker, err := a.reader.ReadLedger(ctx, models.SideBroker, brokerPath, a.cfg.BrokerSheet)
	if err != nil {
		return nil, err
	}
	insurer, err := a.reader.ReadLedger(ctx, models.SideInsurer, insurerPath, a.cfg.InsurerSheet)
	if err != nil {
		return nil, err
	}

	rc, err := pipeline.NewContext(a.schema, broker, insurer)
	if err != nil {
		return nil, err
	}
	if err := a.files.WriteCombined(ctx, broker, insurer); err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, rc); err != nil {
		return nil, err
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":          rc.RunID,
		"broker_records":  rc.Broker.Total(),
		"insurer_records": rc.Insurer.Total(),
		"store":           a.cfg.Store,
	}).Info("Ledgers ingested")
	return rc, nil
}

// next runs the pass the stored run is waiting on, persists the result and returns the
// pairs that pass added
func (a *app) next(ctx context.Context, runID string) (*pipeline.ReconciliationContext, []models.MatchPair, error) {
	rc, err := a.store.Load(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	next, err := a.pipeline.Next(ctx, rc)
	if err != nil {
		return nil, nil, err
	}
	if err := a.store.Save(ctx, next); err != nil {
		return nil, nil, err
	}
	return next, pipeline.NewMatches(rc.Links, next), nil
}

// runAll runs every remaining pass, persisting after each commit. It returns the last
// context the store accepted, which is rc itself when the first save fails.
func (a *app) runAll(ctx context.Context, rc *pipeline.ReconciliationContext) (*pipeline.ReconciliationContext, error) {
	persisted := rc
	_, err := a.pipeline.Run(ctx, rc, func(ctx context.Context, next *pipeline.ReconciliationContext) error {
		if err := a.store.Save(ctx, next); err != nil {
			return err
		}
		persisted = next
		return nil
	})
	return persisted, err
}
