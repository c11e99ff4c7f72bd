// Package logging builds the zap-backed ectologger used by the CLI
package logging

import (
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log level and encoder
type Options struct {
	AppName string
	Level   string
	Pretty  bool
}

// New returns a logger and a flush function to call before exit. Pretty selects zap's
// development console encoder; otherwise output is JSON.
func New(opts Options) (ectologger.Logger, func(), error) {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid log level %q", opts.Level)
	}

	zapConfig := zap.NewProductionConfig()
	if opts.Pretty {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build logger")
	}
	if opts.AppName != "" {
		zapLogger = zapLogger.With(zap.String("app", opts.AppName))
	}

	flush := func() { _ = zapLogger.Sync() }
	return zapadapter.NewZapEctoLogger(zapLogger, nil), flush, nil
}

// Nop returns a logger that discards every message
func Nop() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}
