package main

import (
	"context"
	"encoding/base64"
	"os/signal"
	"syscall"
	"time"

	"github.com/mansoorceksport/fitsync/internal/config"
	"github.com/mansoorceksport/fitsync/internal/domain"
	"github.com/mansoorceksport/fitsync/internal/middleware"
	"github.com/mansoorceksport/fitsync/internal/repository"
	"github.com/mansoorceksport/fitsync/internal/server"
	"github.com/mansoorceksport/fitsync/internal/service"
	"github.com/mansoorceksport/fitsync/internal/session"
	"github.com/mansoorceksport/fitsync/internal/telemetry"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}

	level, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if cfg.OTEL.Environment != "development" {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.WithField("backend", cfg.Sync.Backend).Info("starting fitsync")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Grafana Cloud requires Basic auth with instanceId:apiToken base64 encoded
	authString := cfg.OTEL.InstanceID + ":" + cfg.OTEL.Token
	authEncoded := base64.StdEncoding.EncodeToString([]byte(authString))

	otelProvider, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: cfg.OTEL.ServiceVersion,
		Environment:    cfg.OTEL.Environment,
		OTLPEndpoint:   cfg.OTEL.Endpoint,
		URLPathPrefix:  "/otlp",
		OTLPHeaders: map[string]string{
			"Authorization": "Basic " + authEncoded,
		},
		Enabled: cfg.OTEL.Enabled,
	})
	if err != nil {
		log.WithError(err).Warn("failed to initialize OpenTelemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	firebaseApp, err := middleware.InitFirebase(ctx,
		cfg.Firebase.ProjectID,
		cfg.Firebase.PrivateKey,
		cfg.Firebase.ClientEmail,
	)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize Firebase")
	}
	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to get Firebase Auth client")
	}
	log.Info("firebase initialized")

	var adapter domain.RemoteSyncAdapter
	switch cfg.Sync.Backend {
	case config.BackendFirestore:
		fs, err := firebaseApp.Firestore(ctx)
		if err != nil {
			log.WithError(err).Fatal("failed to open Firestore")
		}
		defer fs.Close()
		adapter = repository.NewFirestoreWorkoutAdapter(fs)

	case config.BackendMongo:
		mongoDB, disconnect := connectMongo(ctx, cfg)
		defer disconnect()
		mongoAdapter := repository.NewMongoWorkoutAdapter(mongoDB)
		if err := mongoAdapter.EnsureIndexes(ctx); err != nil {
			log.WithError(err).Warn("failed to ensure workout indexes")
		}
		adapter = mongoAdapter

	case config.BackendMemory:
		log.Warn("memory backend selected, workouts are lost on restart")
		adapter = repository.NewMemoryWorkoutAdapter()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect to Redis")
		}
		log.Info("redis connected, idempotent replay enabled")
	}

	// Assigned only when configured; a typed nil would not read as disabled
	var exports service.ExportStore
	if cfg.S3.Endpoint != "" {
		s3Repo, err := repository.NewS3ExportRepository(ctx, cfg.S3)
		if err != nil {
			log.WithError(err).Warn("failed to initialize S3 exports, exports disabled")
		} else {
			exports = s3Repo
		}
	}

	sessions := session.NewManager(adapter, cfg.Session.IdleTTL)
	go sessions.Run(ctx, cfg.Session.SweepInterval)

	app := server.NewApp(server.AppDependencies{
		Config:      cfg,
		Sessions:    sessions,
		RedisClient: redisClient,
		AuthClient:  authClient,
		Exports:     exports,
	})

	go func() {
		<-ctx.Done()
		log.Info("shutting down gracefully")
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			log.WithError(err).Error("server shutdown failed")
		}
	}()

	log.WithField("port", cfg.Server.Port).Info("server starting")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.WithError(err).Error("server stopped")
	}

	// Waits for in-flight remote writes before the backends are closed
	if err := sessions.Close(); err != nil {
		log.WithError(err).Error("failed to close sessions")
	}
}

func connectMongo(ctx context.Context, cfg *config.Config) (*mongo.Database, func()) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	mongoOpts := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.OTEL.Enabled {
		mongoOpts.SetMonitor(otelmongo.NewMonitor())
	}

	client, err := mongo.Connect(connectCtx, mongoOpts)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		log.WithError(err).Fatal("failed to ping MongoDB")
	}
	log.WithField("database", cfg.MongoDB.Database).Info("mongodb connected")

	return client.Database(cfg.MongoDB.Database), func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Error("failed to disconnect from MongoDB")
		}
	}
}
