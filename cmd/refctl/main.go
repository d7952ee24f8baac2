// Command refctl runs consistency maintenance against the engine's store.
package main

import (
	"fmt"
	"os"

	"referral_engine/internal/bootstrap"
	"referral_engine/internal/config"
	"referral_engine/pkg/logger"
)

func main() {
	if err := newRootCmd(os.Stdout, openRuntime).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func openRuntime(configPath, logLevel string) (*bootstrap.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	if err := logger.Initialize(logLevel); err != nil {
		return nil, err
	}
	return bootstrap.New(cfg)
}
