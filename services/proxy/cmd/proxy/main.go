package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"studyreader/internal/ratelimit"
	"studyreader/internal/servicetoken"
	"studyreader/internal/util"
	"studyreader/services/proxy/internal/app"
	"studyreader/services/proxy/internal/config"
	"studyreader/services/proxy/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		Provider: cfg.ProviderConfig(),
		Timeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxy cidrs: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "studyreader:proxy:chat", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		limiter.WithLogger(logger)
		defer limiter.Close()
	}

	var verifier *servicetoken.Verifier
	if cfg.InternalJWTPublicKeyPath != "" {
		verifier, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.InternalJWTPublicKeyPath,
			KeyID:          cfg.InternalJWTKeyID,
			Audience:       servicetoken.AudienceProxy,
			AllowedIssuers: cfg.InternalJWTIssuers,
		})
		if err != nil {
			log.Fatalf("failed to init service token verifier: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		RetryAfter:     time.Minute,
		TrustedProxies: trusted,
		Verifier:       verifier,
		CORSOrigins:    cfg.CORSOrigins,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("ai proxy listening", "addr", addr, "configured", appCore.Status().Configured)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
