// Package main runs the live session HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/livesession/config"
	"github.com/aura-webinar/livesession/internal/analytics"
	"github.com/aura-webinar/livesession/internal/auth"
	"github.com/aura-webinar/livesession/internal/middleware"
	"github.com/aura-webinar/livesession/internal/models"
	"github.com/aura-webinar/livesession/internal/progress"
	"github.com/aura-webinar/livesession/internal/realtime"
	"github.com/aura-webinar/livesession/internal/session"
	"github.com/aura-webinar/livesession/internal/sessionlog"
	"github.com/aura-webinar/livesession/internal/store"
	"github.com/aura-webinar/livesession/internal/streams"
	"github.com/aura-webinar/livesession/internal/worker"
	"github.com/aura-webinar/livesession/internal/zego"
	"github.com/aura-webinar/livesession/pkg/database"
	"github.com/aura-webinar/livesession/pkg/queue"
	"github.com/aura-webinar/livesession/pkg/redis"
	"github.com/aura-webinar/livesession/pkg/response"
	"github.com/aura-webinar/livesession/pkg/storage"
)

// sfuMedia lets the session manager reach the SFU, which is built after it.
type sfuMedia struct {
	sfu *realtime.SFU
}

func (m *sfuMedia) ReleasePublisher(sessionID, participantID string) error {
	if m.sfu == nil {
		return nil
	}
	return m.sfu.ReleasePublisher(sessionID, participantID)
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	var pool *pgxpool.Pool
	if cfg.Store.Driver == config.StoreDriverPostgres {
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Client, err = storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
			s3Client = nil
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Document store with cross-instance change fan-out
	watcher := store.NewWatcher(logger)
	bridge := store.NewRedisBridge(rdb.Client, watcher, logger)
	go func() {
		if err := bridge.Run(bgCtx); err != nil && bgCtx.Err() == nil {
			logger.Error("document change bridge stopped", zap.Error(err))
		}
	}()
	var docs store.Store
	if pool != nil {
		docs = store.NewPostgres(pool, watcher)
	} else {
		docs = store.NewMemory(watcher)
		logger.Warn("using in-memory document store; state is lost on restart")
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	jobQueue := queue.NewQueue(rdb.Client, cfg.Worker.MaxRetries, cfg.Worker.PollTimeout, logger)

	// Stream stats and attendance (Postgres only)
	var hooks session.Hooks
	var statsRecorder *streams.Recorder
	var sessionLogHandler *sessionlog.Handler
	var analyticsHandler *analytics.Handler
	if pool != nil {
		streamRepo := streams.NewRepository(pool)
		statsRecorder = streams.NewRecorder(streamRepo, logger)
		hooks = statsRecorder.Hooks()
		sessionLogRepo := sessionlog.NewRepository(pool)
		attendance := sessionlog.NewLogger(sessionLogRepo, statsRecorder.WatchTime, logger)
		hooks.OnJoin = attendance.Joined
		hooks.OnLeave = attendance.Left
		sessionLogHandler = sessionlog.NewHandler(sessionLogRepo, logger)
		analyticsHandler = analytics.NewHandler(streamRepo, sessionLogRepo, logger)
	}

	// Session coordination
	media := &sfuMedia{}
	onEnd := hooks.OnEnd
	hooks.OnEnd = func(s models.Session) {
		if onEnd != nil {
			onEnd(s)
		}
		if media.sfu != nil {
			go media.sfu.CloseSession(s.ID)
		}
	}
	manager := session.NewManager(session.Deps{
		Store:     docs,
		Origin:    watcher.Origin(),
		Media:     media,
		Messenger: hub,
		Archiver:  jobQueue,
		Hooks:     hooks,
	}, session.Config{
		MaxOnStage:      cfg.Session.MaxOnStage,
		DisconnectGrace: cfg.Session.DisconnectGrace,
		PresenceTimeout: cfg.Session.PresenceTimeout,
		CommitRetries:   cfg.Session.CommitRetries,
		CommitBackoff:   cfg.Session.CommitBackoff,
		EndedLinger:     cfg.Session.EndedLinger,
	}, logger)
	sfu := realtime.NewSFU(logger, realtime.ParseICEServers(cfg.WebRTC.ICEUrls), manager, realtime.StagePolicy(manager))
	media.sfu = sfu

	sessionHandler := session.NewHandler(manager, logger)
	if s3Client != nil {
		sessionHandler.WithArchive(s3Client)
	}
	zegoHandler := zego.NewHandler(manager, cfg.Zego, logger)

	// Recording playback progress
	progressRepo := progress.NewRepository(docs)
	tracker := progress.NewTracker(progressRepo, cfg.Session.CheckpointEvery, cfg.Session.MinuteEvery, logger)
	tracker.OnVideoEnded(func(livestreamID, participantID string) {
		logger.Debug("recording playback ended", zap.String("livestream_id", livestreamID), zap.String("participant_id", participantID))
	})
	go tracker.Run(bgCtx, cfg.Session.ViewerIdleTTL)
	progressHandler := progress.NewHandler(tracker, progressRepo, logger)

	jwtValidate := func(token string) (realtime.Identity, error) {
		claims, err := jwtService.Validate(token)
		if err != nil {
			return realtime.Identity{}, err
		}
		return realtime.Identity{ParticipantID: claims.UserID, Name: claims.Name, Role: models.Role(claims.Role), GroupID: claims.GroupID}, nil
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		sessionHandler.Register(api)
		progressHandler.Register(api)
		api.GET("/sessions/:id/rtc-token", zegoHandler.GetToken)
		if sessionLogHandler != nil {
			api.GET("/sessions/:id/attendees", middleware.RequireModerator(), sessionLogHandler.GetAttendees)
			api.GET("/sessions/:id/analytics", middleware.RequireModerator(), analyticsHandler.GetBySession)
		}
	}

	// WebSocket (token in query; no Authorization header required)
	realtime.SetCheckOrigin(middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins).CheckOrigin)
	router.GET("/ws", realtime.ServeWs(hub, manager, sfu, jwtValidate, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Background worker (session archive upload to S3)
	if s3Client != nil {
		archiveProcessor := worker.NewArchiveProcessor(manager, s3Client, jobQueue, logger)
		go archiveProcessor.Run(bgCtx)
		logger.Info("archive worker started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	manager.Shutdown()
	if statsRecorder != nil {
		statsRecorder.Wait()
	}
	bgCancel()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
