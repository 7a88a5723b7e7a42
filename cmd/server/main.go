package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vnmchuo/medcost/config"
	"github.com/vnmchuo/medcost/internal/advice"
	"github.com/vnmchuo/medcost/internal/api"
	"github.com/vnmchuo/medcost/internal/auth"
	"github.com/vnmchuo/medcost/internal/database"
	"github.com/vnmchuo/medcost/internal/logging"
	"github.com/vnmchuo/medcost/internal/metrics"
	"github.com/vnmchuo/medcost/internal/model"
	"github.com/vnmchuo/medcost/internal/pipeline"
	"github.com/vnmchuo/medcost/internal/records"
	"github.com/vnmchuo/medcost/internal/report"
	"github.com/vnmchuo/medcost/internal/seeder"
	"github.com/vnmchuo/medcost/internal/sheetdb"
	"github.com/vnmchuo/medcost/internal/telemetry"
	"github.com/vnmchuo/medcost/internal/worker"
	"github.com/vnmchuo/medcost/pkg/ratelimit"
)

const serviceName = "medcost"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logger
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 3. Init telemetry
	ctx := context.Background()
	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Options{
		ServiceName:  serviceName,
		ExporterType: cfg.OTELExporterType,
		Endpoint:     cfg.OTELExporterEndpoint,
	})
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown tracer provider", zap.Error(err))
		}
	}()
	tracer := otel.GetTracerProvider().Tracer(serviceName)

	// 4. Init metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 5. Load model artifacts
	artifacts, err := model.Load(cfg.ModelPath, cfg.ScalerPath)
	if err != nil {
		logger.Fatal("failed to load model artifacts", zap.Error(err))
	}
	logger.Info("model artifacts loaded",
		zap.String("model", cfg.ModelPath),
		zap.String("scaler", cfg.ScalerPath),
	)

	// 6. Connect PostgreSQL (optional)
	var pool *pgxpool.Pool
	if cfg.PostgresDSN != "" {
		if cfg.RunMigrations {
			changed, err := database.Migrate(cfg.PostgresDSN)
			if err != nil {
				logger.Fatal("failed to run migrations", zap.Error(err))
			}
			logger.Info("migrations applied", zap.Bool("changed", changed))
		}

		pool, err = database.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pool.Close()
		logger.Info("PostgreSQL connected")
	}

	// 7. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to ping redis", zap.Error(err))
	}
	logger.Info("Redis connected")

	// 8. Init auth
	httpClient := &http.Client{Timeout: cfg.SheetDBTimeout}
	var users auth.UserStore
	switch cfg.UserStore {
	case config.UserStorePostgres:
		users = auth.NewPostgresUserStore(pool)
	default:
		users = auth.NewSheetDBUserStore(sheetdb.New("sheetdb-users", cfg.SheetDBUsersURL, sheetdb.WithHTTPClient(httpClient)))
	}
	authenticator := auth.NewAuthenticator(users, bcrypt.DefaultCost)
	sessions := auth.NewRedisSessionStore(rdb, cfg.SessionTTL)
	authMiddleware := auth.NewMiddleware(sessions, logger)

	// 9. Init record sinks and dispatcher
	var sinks records.MultiSink
	var history records.Store
	if pool != nil {
		pg := records.NewPostgresStore(pool)
		history = pg
		sinks = append(sinks, records.Instrumented(pg, m))
	}
	if cfg.SheetDBPredictionsURL != "" {
		client := sheetdb.New("sheetdb-predictions", cfg.SheetDBPredictionsURL, sheetdb.WithHTTPClient(httpClient))
		sinks = append(sinks, records.Instrumented(records.NewSheetDBSink(client), m))
	}
	if cfg.NATSURL != "" {
		nc, err := records.ConnectNATS(cfg.NATSURL)
		if err != nil {
			logger.Error("failed to connect to NATS, prediction events disabled", zap.Error(err))
		} else {
			defer nc.Close()
			sinks = append(sinks, records.Instrumented(records.NewNATSSink(nc, cfg.NATSSubject), m))
			logger.Info("NATS connected", zap.String("subject", cfg.NATSSubject))
		}
	}
	if len(sinks) == 0 {
		logger.Warn("no record sinks configured, predictions will not be stored")
	}
	dispatcher := worker.NewDispatcher(sinks, cfg.RecordQueueSize, worker.DefaultWriteTimeout, logger, m)
	dispatcher.Start()

	// 10. Init pipeline
	predictor := pipeline.NewService(artifacts, dispatcher, pipeline.Config{
		INRRate:      cfg.USDToINRRate,
		RegionPolicy: cfg.UnknownRegionPolicy,
	}, tracer, logger, m)

	// 11. Init report renderer
	advisor, err := advice.NewDefault()
	if err != nil {
		logger.Fatal("failed to compile advice rules", zap.Error(err))
	}
	renderer := report.NewRenderer(advisor)

	// 12. Init handler
	handler := api.NewHandler(predictor, authenticator, sessions, renderer, api.Options{
		History:        history,
		SigninLimiter:  ratelimit.NewLimiter(rdb, "signin", cfg.SigninRateLimit),
		PredictLimiter: ratelimit.NewLimiter(rdb, "predict", cfg.PredictRateLimit),
		SessionTTL:     cfg.SessionTTL,
		CookieSecure:   cfg.CookieSecure,
	}, logger)

	// 13. Seed demo user if RUN_SEED=true
	if cfg.RunSeed {
		seeder.SeedDemoUser(ctx, authenticator, logger)
	}

	// 14. Init Chi router
	r := api.NewRouter(handler, authMiddleware, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)

	// 15. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("medcost starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("record dispatcher did not drain", zap.Error(err))
	}
	logger.Info("Server stopped")
}
