package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"clinic/reception-service/internal/auth"
	"clinic/reception-service/internal/authz"
	"clinic/reception-service/internal/httpapi"
	"clinic/reception-service/internal/logger"
	"clinic/reception-service/internal/relay"
	"clinic/reception-service/internal/store/postgres"
	"clinic/reception-service/internal/telemetry"
)

func newServeCommand() *cobra.Command {
	var withRelay bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(withRelay)
		},
	}
	cmd.Flags().BoolVar(&withRelay, "with-relay", false, "Also run the outbox relay in this process")
	return cmd
}

func runServe(withRelay bool) error {
	cfg, log, err := initEnv()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg.Telemetry, log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown", "error", err)
		}
	}()

	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	st := postgres.NewStore(pool, postgres.Options{
		Location:                  loc,
		BlockDoctorWhenClinicWide: cfg.Sessions.BlockDoctorWhenClinicWide,
	})
	enforcer, err := authz.NewEnforcer(authz.DefaultPolicies, logger.WithComponent("authz"))
	if err != nil {
		return err
	}
	tokens := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	handler := httpapi.NewHandler(st, tokens, enforcer, httpapi.Options{
		Location: loc,
		Logger:   logger.WithComponent("httpapi"),
	})
	limiter := httpapi.NewRateLimiter(cfg.RateLimit)

	var root http.Handler = limiter.Middleware(handler.Routes())
	root = httpapi.LoggingMiddleware(logger.WithComponent("access"), root)
	root = otelhttp.NewHandler(root, cfg.Telemetry.ServiceName)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if withRelay {
		sink, err := relay.NewSink(cfg, logger.WithComponent("relay"))
		if err != nil {
			return err
		}
		defer sink.Close()
		r := relay.New(st, sink, relay.Config{Name: cfg.Relay.Name, BatchSize: cfg.Relay.BatchSize}, logger.WithComponent("relay"))
		go relay.Start(ctx, cfg.Relay.Interval, r)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("reception-service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	return nil
}
