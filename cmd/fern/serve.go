package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/routes"
	"github.com/Ramsey-B/fern/pkg/routes/deadletters"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/ingest"
	"github.com/Ramsey-B/fern/pkg/routes/orders"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const shutdownTimeout = 15 * time.Second

var version = "dev"

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the field-set consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	logger := opts.logger

	if cfg.TracingEnabled {
		shutdownTracing := tracing.Init(cfg.AppName)
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	a := newApp(cfg, logger)
	checker := health.NewChecker(version)
	s := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	a.register(s, true)

	var server *http.Server
	s.AddDependency(&startup.Dependency{
		Name:     "http",
		Requires: []string{"processor"},
		OnStart: func(context.Context) error {
			checker.AddCheck("database", health.PingFunc(a.db.PingContext))
			checker.AddCheck("redis", health.PingFunc(a.redis.Ping))

			e := routes.New(routes.Options{
				AppName:        cfg.AppName,
				TracingEnabled: cfg.TracingEnabled,
				AllowOrigins:   cfg.AllowOrigins,
				AllowMethods:   cfg.AllowMethods,
			}, logger, routes.Handlers{
				Orders:      orders.NewHandler(a.orders, a.emitter, logger, time.Now),
				Ingest:      ingest.NewHandler(a.processor, logger),
				DeadLetters: deadletters.NewHandler(a.dlq),
				Health:      checker,
			})

			server = &http.Server{
				Addr:           fmt.Sprintf(":%d", cfg.Port),
				Handler:        e,
				ReadTimeout:    time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
				WriteTimeout:   time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
				IdleTimeout:    time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
				MaxHeaderBytes: cfg.MaxHeaderBytes,
			}
			go func() {
				logger.Infof("HTTP server listening on %s", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("HTTP server stopped")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error { return server.Shutdown(ctx) },
	})

	if cfg.KafkaConsumerEnabled {
		var consumer *kafka.Consumer
		s.AddDependency(&startup.Dependency{
			Name:     "kafka-consumer",
			Requires: []string{"processor"},
			OnStart: func(ctx context.Context) error {
				consumer = kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.KafkaBrokers,
					Topic:         cfg.KafkaInputTopic,
					ConsumerGroup: cfg.KafkaConsumerGroup,
				}, logger,
					kafka.NewFieldSetHandler(a.processor, a.dlq, logger),
					kafka.NewDeadLetterPoison(a.dlq, logger),
				)
				// the consumer outlives the startup context
				return consumer.Start(context.WithoutCancel(ctx))
			},
			OnStop: func(context.Context) error { return consumer.Stop() },
		})
	}

	if err := s.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.Stop(shutdownCtx)
		return err
	}
	checker.SetReady(true)
	logger.Info("fern started")

	<-ctx.Done()
	logger.Info("Shutting down")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Stop(shutdownCtx)
}
