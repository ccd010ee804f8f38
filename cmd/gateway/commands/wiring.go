package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/gateway/internal/config"
	"github.com/dyluth/gateway/internal/correlation"
	"github.com/dyluth/gateway/internal/logging"
	"github.com/dyluth/gateway/internal/printer"
)

// loadConfig reads the configuration, printing a formatted error on failure.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("GATEWAY_CONFIG")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"Invalid configuration",
			err.Error(),
			[]printer.Field{{Label: "File", Value: displayPath(path)}},
			[]string{"Fix the file or the overriding environment variable, then run 'gateway config check'"},
		)
	}
	return cfg, nil
}

func displayPath(path string) string {
	if path == "" {
		return "(none, defaults and environment only)"
	}
	return path
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, printer.Error("Invalid logging configuration", err.Error(), nil)
	}
	return logger, nil
}

// connectStore connects to Redis and builds the correlation store over it.
func connectStore(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*correlation.Store, *correlation.RedisBackend, error) {
	backend, err := correlation.NewRedisBackendFromURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, printer.Error("Invalid Redis URL", err.Error(), nil)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := backend.Ping(pingCtx); err != nil {
		backend.Close()
		return nil, nil, printer.ErrorWithContext(
			"Redis not accessible",
			err.Error(),
			[]printer.Field{{Label: "URL", Value: cfg.Redis.URL}},
			[]string{"Check that Redis is running and REDIS_URL is correct"},
		)
	}

	store, err := correlation.NewStore(backend, correlation.OptionsFromConfig(*cfg), logger)
	if err != nil {
		backend.Close()
		return nil, nil, err
	}
	return store, backend, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
