package cli

import (
	"fmt"

	"github.com/meshrpc/meshrpc-go/internal/config"
	"github.com/meshrpc/meshrpc-go/internal/logger"
	"github.com/meshrpc/meshrpc-go/pkg/client"
)

// buildClient loads configuration, builds the logger and returns a ready
// client. The returned cleanup closes the log file.
func buildClient() (*client.Client, *config.Config, func(), error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zl := lg.Zerolog()
	c, err := client.New(client.Options{
		APISecret: cfg.APISecret,
		Endpoint:  cfg.Endpoint,
		MachineID: cfg.MachineID,
		Logger:    &zl,
	})
	if err != nil {
		_ = lg.Close()
		return nil, nil, nil, fmt.Errorf("failed to create client: %w", err)
	}

	cleanup := func() { _ = lg.Close() }
	return c, cfg, cleanup, nil
}
