package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oldcordapp/realtime/internal/core/ports"
	"github.com/oldcordapp/realtime/internal/core/services"
	"github.com/oldcordapp/realtime/internal/infrastructure/middleware"
	"github.com/oldcordapp/realtime/internal/infrastructure/monitoring"
	repositories "github.com/oldcordapp/realtime/internal/infrastructure/repositories"
	webrtcinfra "github.com/oldcordapp/realtime/internal/infrastructure/webrtc"
	"github.com/oldcordapp/realtime/internal/voice/sfu"
	"github.com/oldcordapp/realtime/internal/voice/signaling"
	"github.com/oldcordapp/realtime/pkg/config"
	"github.com/oldcordapp/realtime/pkg/logger"
	"github.com/oldcordapp/realtime/pkg/tracing"
)

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/realtime/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	sessionRepo := repoFactory.CreateSessionRepository()
	voiceTokens := services.NewVoiceTokens(cfg.Auth.JWTSecret, cfg.Auth.VoiceTokenTTL)

	// Initialize monitoring
	var metrics ports.MetricsSink
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	// WebRTC configuration (including STUN/TURN from config)
	var iceServers []webrtc.ICEServer
	if len(cfg.WebRTC.ICEServers) > 0 {
		for _, s := range cfg.WebRTC.ICEServers {
			iceServers = append(iceServers, webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			})
		}
	} else {
		// Fallback STUN server if not configured
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	engineConfig := webrtcinfra.EngineConfig{ICEServers: iceServers}
	engineConfig.PortRange.Min = cfg.WebRTC.PortMin
	engineConfig.PortRange.Max = cfg.WebRTC.PortMax
	mediaEngine := webrtcinfra.NewEngine(engineConfig, log)

	rooms := sfu.NewRooms(mediaEngine, cfg.Voice.VideoResumeDelay, metrics, log)

	handler := signaling.NewHandler(signaling.Options{
		RelayAddress:      cfg.Voice.RelayAddress,
		RelayPort:         cfg.Voice.RelayPort,
		HeartbeatInterval: cfg.Voice.HeartbeatInterval,
		EncryptionModes:   cfg.Voice.EncryptionModes,
	}, rooms, sessionRepo, voiceTokens, metrics, log)

	wsServer := signaling.NewServer(handler, signaling.RateLimit{
		Enabled:         cfg.RateLimiting.Enabled,
		FramesPerSecond: cfg.RateLimiting.FramesPerSecond,
		Burst:           cfg.RateLimiting.Burst,
		MaxMessageSize:  cfg.RateLimiting.MaxMessageSizeBytes,
	}, log)
	wsServer.SetPingInterval(cfg.Gateway.PingInterval)
	wsServer.SetPongTimeout(cfg.Gateway.PongTimeout)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", func(c *gin.Context) {
		wsServer.HandleWebSocket(c.Writer, c.Request)
	})

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
			"rooms":     rooms.Count(),
		})
	})

	// Readiness endpoint
	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(503, gin.H{
				"status":       "not_ready",
				"timestamp":    time.Now(),
				"dependencies": "unhealthy",
				"error":        err.Error(),
			})
			return
		}

		c.JSON(200, gin.H{
			"status":       "ready",
			"timestamp":    time.Now(),
			"dependencies": "ok",
		})
	})

	// Prometheus metrics endpoint
	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:        cfg.Gateway.Address,
		Handler:     router,
		ReadTimeout: cfg.Gateway.ReadTimeout,
		// WriteTimeout stays unset: it would sever long-lived websockets.
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting voice gateway on %s", cfg.Gateway.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signals or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down voice gateway...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Gateway.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}

	log.Info("Voice gateway stopped")
}
