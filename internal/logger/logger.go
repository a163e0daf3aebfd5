package logger

import (
	"fmt"
	"testing"

	"github.com/veiloq/mysqlkit/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// InitLogger builds the kit logger. With a testing.TB it returns a zaptest
// logger writing through t.Log; otherwise a zap development logger on stderr.
// The boolean reports whether the logger is test-bound.
func InitLogger(t testing.TB, settings *config.Settings) (*zap.Logger, bool, error) {
	var zapOpts []zap.Option
	if settings != nil {
		zapOpts = settings.ZapOptions()
	}

	if t != nil {
		var zaptestOpts []zaptest.LoggerOption
		if settings != nil && settings.ZapTestLevel() != nil {
			zaptestOpts = append(zaptestOpts, zaptest.Level(*settings.ZapTestLevel()))
		}
		logger := zaptest.NewLogger(t, zaptestOpts...)
		if len(zapOpts) > 0 {
			logger = logger.WithOptions(zapOpts...)
		}
		logger.Debug("Initialized zaptest logger")
		return logger, true, nil
	}

	devConfig := zap.NewDevelopmentConfig()
	devConfig.OutputPaths = []string{"stderr"}
	logger, err := devConfig.Build(zapOpts...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create default zap logger: %w", err)
	}
	logger.Debug("Initialized default zap development logger (no testing.TB provided)")
	return logger, false, nil
}
