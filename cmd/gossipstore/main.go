package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"gossipstore/internal/config"
	"gossipstore/internal/logging"
	"gossipstore/internal/node"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "gossipstore: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gossipstore: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	n, err := node.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create node", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		logger.Fatal("failed to start node", zap.Error(err))
	}

	stop := make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	logger.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	n.Stop()
}
