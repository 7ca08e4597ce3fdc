package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/order"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/startup"
)

// app holds the service's shared dependencies. Fields are filled in as the
// startup dependencies come up.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger

	db        *sqlx.DB
	orders    *order.Repository
	redis     *redis.Client
	locker    *redis.TenantLocker
	dlq       *redis.DeadLetterQueue
	producer  *kafka.Producer
	emitter   *events.Emitter
	graph     *graph.Client
	processor *processor.Processor
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{cfg: cfg, logger: logger}
}

func connectionConfig(cfg *config.Config) database.ConnectionConfig {
	return database.ConnectionConfig{
		Host:            cfg.DatabaseHost,
		Port:            strconv.Itoa(cfg.DatabasePort),
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}
}

func migrationConfig(cfg *config.Config) *database.MigrationConfig {
	return &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	}
}

// register adds the dependencies every command needs: postgres, redis and
// the processor. withEvents adds the Kafka producer.
func (a *app) register(s *startup.Startup, withEvents bool) {
	s.AddDependency(&startup.Dependency{
		Name: "postgres",
		OnStart: func(ctx context.Context) error {
			db, err := database.Connect(ctx, connectionConfig(a.cfg), a.logger)
			if err != nil {
				return err
			}
			a.db = db
			a.orders = order.NewRepository(database.NewDatabaseInstance(db, a.logger), a.logger)
			return nil
		},
		OnStop: func(context.Context) error { return a.db.Close() },
	})

	s.AddDependency(&startup.Dependency{
		Name:     "migrations",
		Requires: []string{"postgres"},
		OnStart: func(context.Context) error {
			return database.NewMigrationService(a.logger, migrationConfig(a.cfg)).MigratePostgres(a.db, a.cfg.DatabaseName)
		},
	})

	s.AddDependency(&startup.Dependency{
		Name: "redis",
		OnStart: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, redis.Config{
				Host:     a.cfg.RedisHost,
				Port:     a.cfg.RedisPort,
				Password: a.cfg.RedisPassword,
				DB:       a.cfg.RedisDB,
			}, a.logger)
			if err != nil {
				return err
			}
			a.redis = client
			a.locker = redis.NewTenantLocker(redis.NewLocker(client, redis.DefaultLockPrefix), a.cfg.TenantLockTTL, a.cfg.TenantLockWait)
			a.dlq = redis.NewDeadLetterQueue(client, redis.DefaultDLQStream, a.logger)
			return nil
		},
		OnStop: func(context.Context) error { return a.redis.Close() },
	})

	requires := []string{"migrations", "redis"}

	if withEvents {
		s.AddDependency(&startup.Dependency{
			Name: "kafka-producer",
			OnStart: func(context.Context) error {
				a.producer = kafka.NewProducer(kafka.ProducerConfig{
					Brokers:      a.cfg.KafkaBrokers,
					Topic:        a.cfg.KafkaOutputTopic,
					BatchSize:    a.cfg.KafkaBatchSize,
					BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
					RequiredAcks: a.cfg.KafkaRequiredAcks,
					Compression:  a.cfg.KafkaCompression,
				}, a.logger)
				a.emitter = events.NewEmitter(a.producer, a.logger)
				return nil
			},
			OnStop: func(context.Context) error { return a.producer.Close() },
		})
		requires = append(requires, "kafka-producer")
	}

	if a.cfg.GraphEnabled {
		s.AddDependency(&startup.Dependency{
			Name: "graph",
			OnStart: func(ctx context.Context) error {
				client, err := graph.NewClient(graph.Config{
					Host:     a.cfg.GraphDBHost,
					Port:     a.cfg.GraphDBPort,
					Username: a.cfg.GraphDBUser,
					Password: a.cfg.GraphDBPassword,
					Database: a.cfg.GraphDBName,
				}, a.logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("graph database unreachable: %w", err)
				}
				a.graph = client
				return nil
			},
			OnStop: func(ctx context.Context) error { return a.graph.Close(ctx) },
		})
		requires = append(requires, "graph")
	}

	s.AddDependency(&startup.Dependency{
		Name:     "processor",
		Requires: requires,
		OnStart: func(context.Context) error {
			a.processor = a.newProcessor()
			return nil
		},
	})
}

func (a *app) newProcessor() *processor.Processor {
	opts := []processor.Option{processor.WithLocker(a.locker)}
	if a.emitter != nil {
		opts = append(opts, processor.WithEmitter(a.emitter))
	}
	if a.graph != nil {
		opts = append(opts, processor.WithProjector(graph.NewOrderProjector(a.graph, a.logger)))
	}

	return processor.NewProcessor(
		a.logger,
		a.orders,
		matching.NewResolver(a.cfg.Matching()),
		merging.NewEngine(a.cfg.DefaultReturnWindowDays),
		opts...,
	)
}
