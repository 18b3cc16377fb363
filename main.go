package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/body-measure/internal/auth"
	"github.com/example/body-measure/internal/config"
	"github.com/example/body-measure/internal/estimator"
	"github.com/example/body-measure/internal/grpcclient"
	"github.com/example/body-measure/internal/handlers"
	"github.com/example/body-measure/internal/logging"
	"github.com/example/body-measure/internal/overlay"
	"github.com/example/body-measure/internal/publisher"
	"github.com/example/body-measure/internal/repository"
	"github.com/example/body-measure/internal/session"
	"github.com/example/body-measure/internal/usecase"
)

const sessionSweepInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	catalog, err := cfg.Measurement.Catalog()
	if err != nil {
		logger.Fatal("failed to load measurement catalog", zap.Error(err), zap.String("path", cfg.Measurement.CatalogPath))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.DatabaseDSN, logger)
	repo := repository.NewMeasurementRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg.RedisAddr, logger)
	defer redisClient.Close()

	var poseEstimator estimator.Client
	if cfg.PoseEstimatorAddr != "" {
		client, conn, err := grpcclient.DialPoseEstimator(ctx, cfg.PoseEstimatorAddr, logger)
		if err != nil {
			logger.Fatal("failed to connect to pose estimator", zap.Error(err))
		}
		defer conn.Close()
		poseEstimator = client
	} else {
		logger.Warn("POSE_ESTIMATOR_ADDR not set, only keypoint frames will be accepted")
	}

	var pub publisher.Publisher = publisher.Nop{}
	if cfg.MQTT.Enabled() {
		mqttPub, err := publisher.Connect(cfg.MQTT, logger)
		if err != nil {
			logger.Fatal("failed to connect to mqtt broker", zap.Error(err))
		}
		pub = mqttPub
	}
	defer pub.Close()

	var renderer overlay.Renderer
	if overlay.Available {
		renderer = overlay.NewRenderer()
	}

	sessions := session.NewManager(session.Settings{
		Catalog:     catalog,
		Calibration: cfg.Measurement.CalibrationOptions(),
		Engine:      cfg.Measurement.EngineOptions(),
		TTL:         cfg.SessionTTL,
	}, logger)
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go sessions.Run(sweepCtx, sessionSweepInterval)

	uc := usecase.NewMeasurementUseCase(usecase.Dependencies{
		Repository: repo,
		Cache:      usecase.NewRedisCache(redisClient),
		Estimator:  poseEstimator,
		Sessions:   sessions,
		Renderer:   renderer,
		Publisher:  pub,
	}, logger)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	authMiddleware := auth.JWTMiddleware(cfg.JWT.Secret, cfg.JWT.Audience)
	handlers.RegisterRoutes(r, uc, authMiddleware, logger)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("body measurement API listening",
		zap.String("addr", cfg.HTTPAddr),
		zap.Int("catalog_size", len(catalog)),
		zap.Bool("overlay", renderer != nil),
		zap.Bool("mqtt", cfg.MQTT.Enabled()),
	)
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	return cfg
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
