// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/stashd/internal/config"
	"github.com/nishisan-dev/stashd/internal/logging"
	"github.com/nishisan-dev/stashd/internal/server"
)

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var cfgPath string
	fs.StringVar(&cfgPath, "c", "server.cfg", "path to config file")
	fs.StringVar(&cfgPath, "cfg", "server.cfg", "path to config file")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	cfg, err := config.LoadServerConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	sink, err := logging.NewSink(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting log sink: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()
	logger := logging.NewLogger(sink)

	logger.Info("starting stashd-server", "host", cfg.Host)

	// Context com cancelamento via signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
