package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/clover/config"
	controlrepo "github.com/Ramsey-B/clover/internal/repositories/control"
	mappedcontrolrepo "github.com/Ramsey-B/clover/internal/repositories/mappedcontrol"
	candidatesvc "github.com/Ramsey-B/clover/internal/services/candidates"
	mappedcontrolsvc "github.com/Ramsey-B/clover/internal/services/mappedcontrol"
	sessionsvc "github.com/Ramsey-B/clover/internal/services/mappingsession"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/redis"
	candidateroutes "github.com/Ramsey-B/clover/pkg/routes/candidates"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	mappedcontrolroutes "github.com/Ramsey-B/clover/pkg/routes/mappedcontrol"
	sessionroutes "github.com/Ramsey-B/clover/pkg/routes/mappingsession"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		logger.WithError(err).Error("failed to create DI container")
		os.Exit(1)
	}

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		logger.WithError(err).Error("failed to register logger")
		os.Exit(1)
	}

	var (
		db         *sqlx.DB
		dbInstance database.DB
		redisCli   *redis.Client
		graphCli   *graph.Client
		producer   *kafka.Producer
	)

	boot := startup.NewStartup[any](logger, cfg.StartupMaxAttempts)

	boot.AddDependency(&startup.Func{
		Name: "database",
		StartFn: func(ctx context.Context) error {
			dsn := fmt.Sprintf(
				"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
				cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode,
			)

			conn, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, dsn)
			if err != nil {
				return err
			}
			conn.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
			conn.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
			conn.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

			driver, err := migratepg.WithInstance(conn.DB, &migratepg.Config{})
			if err != nil {
				return err
			}

			migrations := database.NewMigrationService(logger, &database.MigrationConfig{
				MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
				Version:             uint(cfg.DatabaseMigrationVersion),
				Force:               cfg.DatabaseMigrationForce,
				AutoRollback:        cfg.DatabaseMigrationAutoRollback,
			})
			if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
				return err
			}

			db = conn
			dbInstance = database.NewDatabaseInstance(conn, logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if db != nil {
				return db.Close()
			}
			return nil
		},
	})

	if cfg.RedisEnabled {
		boot.AddDependency(&startup.Func{
			Name: "redis",
			StartFn: func(ctx context.Context) error {
				cli, err := redis.NewClient(redis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err != nil {
					return err
				}
				redisCli = cli
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if redisCli != nil {
					return redisCli.Close()
				}
				return nil
			},
		})
	}

	if cfg.GraphDBEnabled {
		boot.AddDependency(&startup.Func{
			Name: "graph",
			StartFn: func(ctx context.Context) error {
				cli, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
				}, logger)
				if err != nil {
					return err
				}
				if err := cli.VerifyConnectivity(ctx); err != nil {
					return err
				}
				graphCli = cli
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if graphCli != nil {
					return graphCli.Close(ctx)
				}
				return nil
			},
		})
	}

	boot.AddDependency(&startup.Func{
		Name: "kafka",
		StartFn: func(ctx context.Context) error {
			producer = kafka.NewProducer(kafka.ProducerConfig{
				Brokers:      cfg.KafkaBrokers,
				Topic:        cfg.KafkaOutputTopic,
				BatchSize:    cfg.KafkaBatchSize,
				BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
				RequiredAcks: cfg.KafkaRequiredAcks,
				Compression:  cfg.KafkaCompression,
			}, logger)
			return nil
		},
		StopFn: func(ctx context.Context) error {
			if producer != nil {
				return producer.Close()
			}
			return nil
		},
	})

	ctx := context.Background()
	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	mappedRepo := mappedcontrolrepo.NewRepository(dbInstance, logger)
	controlRepo := controlrepo.NewRepository(dbInstance, logger)

	emitter := events.NewEmitter(producer, logger)

	var projection *graph.MappingProjection
	if graphCli != nil {
		projection = graph.NewMappingProjection(graphCli, logger)
	}

	var cache *redis.CandidateCache
	if redisCli != nil {
		cache = redis.NewCandidateCache(redisCli, cfg.CandidateTTL)
	}

	mappedService := mappedcontrolsvc.NewService(logger, mappedRepo, emitter, projection)
	candidateService := candidatesvc.NewService(logger, controlRepo, cache, cfg.CandidatePageSize)
	sessionService := sessionsvc.NewService(logger, mappedService, controlRepo)

	mustRegister(logger, container, mappedRepo)
	mustRegister(logger, container, controlRepo)
	mustRegister(logger, container, mappedService)
	mustRegister(logger, container, candidateService)
	mustRegister(logger, container, sessionService)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	var redisPinger interface{ Ping(ctx context.Context) error }
	if redisCli != nil {
		redisPinger = redisCli
	}
	checker := health.NewChecker(db, redisPinger, version)
	checker.RegisterRoutes(e)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if cfg.AuthEnabled {
		api.Use(middleware.Authentication(logger, cfg.AuthIssuerURL, cfg.AuthClientID))
	}

	mappedcontrolroutes.Register(api.Group("/mapped-controls"))
	candidateroutes.Register(api.Group("/candidates"))
	sessionroutes.Register(api.Group("/mapping-sessions"))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		checker.SetReady(true)
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server stopped unexpectedly")
			os.Exit(1)
		}
	}()

	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	checker.SetReady(false)
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server cleanly")
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to stop dependencies cleanly")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down tracer provider")
	}
}

func mustRegister[T any](logger ectologger.Logger, container ectocontainer.DIContainer, instance T) {
	if err := ectoinject.RegisterInstance[T](container, instance); err != nil {
		logger.WithError(err).Errorf("failed to register %T", instance)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	level := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		level = parsed
	}

	var zapCfg zap.Config
	if cfg.PrettyLogs {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zapCfg.Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}

	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}
