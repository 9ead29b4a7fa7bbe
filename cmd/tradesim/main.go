package main

import (
	"fmt"
	"os"

	"tradesim/internal/cli"
	"tradesim/internal/config"
	"tradesim/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)

	root := cli.NewRootCmd(cfg, logger)
	if err := root.Execute(); err != nil {
		logger.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
