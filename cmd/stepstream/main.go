package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"stepstream"
	"stepstream/logger"
)

func main() {
	log := logger.Get()

	cfg, err := stepstream.LoadAppConfig(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	s, err := stepstream.New(cfg, stepstream.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
