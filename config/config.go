package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/matching"
	"github.com/afn-amd/Clapgrow-Salasar-Lombard-Reconciliation/pkg/pipeline"
)

const (
	StoreWorkbook = "workbook"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type Config struct {
	AppName    string `env:"APP_NAME" envDefault:"reconcile"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	PrettyLogs bool   `env:"PRETTY_LOGS" envDefault:"false"`

	// State store
	Store     string `env:"STORE" envDefault:"workbook" validate:"oneof=workbook postgres sqlite"`
	OutputDir string `env:"OUTPUT_DIR" envDefault:"output" validate:"required"`

	// PostgreSQL
	DatabaseHost            string        `env:"DB_HOST" envDefault:"localhost"`
	DatabasePort            string        `env:"DB_PORT" envDefault:"5432"`
	DatabaseUserName        string        `env:"DB_USER_NAME" envDefault:""`
	DatabasePassword        string        `env:"DB_PASSWORD" envDefault:""`
	DatabaseName            string        `env:"DB_NAME" envDefault:"reconcile"`
	DatabaseSSLMode         string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DatabaseMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DatabaseMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DatabaseConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"10s"`
	DatabaseMigrationForce  int           `env:"DB_MIGRATION_FORCE" envDefault:"0"`

	// SQLite
	SQLitePath string `env:"SQLITE_PATH" envDefault:"reconcile.db"`

	// Matching
	NameThreshold    int     `env:"NAME_THRESHOLD" envDefault:"71" validate:"gte=0,lte=100"`
	LabelThreshold   float64 `env:"LABEL_THRESHOLD" envDefault:"0.75" validate:"gt=0,lte=1"`
	PremiumTolerance float64 `env:"PREMIUM_TOLERANCE" envDefault:"0.02" validate:"gt=0,lt=1"`
	MatchWorkers     int     `env:"MATCH_WORKERS" envDefault:"0" validate:"gte=0"`

	// Ingestion
	BrokerSheet       string `env:"BROKER_SHEET" envDefault:""`
	InsurerSheet      string `env:"INSURER_SHEET" envDefault:"RAW STATEMENT"`
	ColumnMappingFile string `env:"COLUMN_MAPPING_FILE" envDefault:""`

	// Observability
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingExporter string `env:"TRACING_EXPORTER" envDefault:"grpc" validate:"oneof=grpc http"`
	TracingEndpoint string `env:"TRACING_ENDPOINT" envDefault:"localhost:4317"`
	MetricsFile     string `env:"METRICS_FILE" envDefault:""`
}

// Load reads an optional dotenv file, then the environment. Variables already set in
// the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load %s", envFile)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// PipelineConfig returns the matcher thresholds for the passes
func (c *Config) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.Names.Threshold = c.NameThreshold
	if c.MatchWorkers > 0 {
		cfg.Names.Workers = c.MatchWorkers
	}
	cfg.Scorer = matching.ScorerConfig{
		PremiumTolerance: c.PremiumTolerance,
		LabelThreshold:   c.LabelThreshold,
	}
	return cfg
}
