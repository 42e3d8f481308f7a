package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"clinic/reception-service/internal/logger"
	"clinic/reception-service/internal/relay"
	"clinic/reception-service/internal/store/postgres"
)

func newRelayCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward outbox events to Redis or Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Relay a single batch and exit")
	return cmd
}

func runRelay(once bool) error {
	cfg, log, err := initEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	sink, err := relay.NewSink(cfg, logger.WithComponent("relay"))
	if err != nil {
		return err
	}
	defer sink.Close()

	st := postgres.NewStore(pool, postgres.Options{})
	r := relay.New(st, sink, relay.Config{Name: cfg.Relay.Name, BatchSize: cfg.Relay.BatchSize}, logger.WithComponent("relay"))

	if once {
		published, err := r.RunOnce(ctx)
		log.Info("relay batch done", "published", published)
		return err
	}

	log.Info("relay started", "sink", cfg.Relay.Sink, "name", cfg.Relay.Name, "interval", cfg.Relay.Interval)
	relay.Start(ctx, cfg.Relay.Interval, r)
	log.Info("relay stopped")
	return nil
}
