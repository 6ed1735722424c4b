package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"studyreader/internal/util"
	"studyreader/services/reader/internal/app"
	"studyreader/services/reader/internal/config"
	"studyreader/services/reader/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(context.Background(), app.Config{
		StoreDriver:               cfg.StoreDriver,
		StorePath:                 cfg.StorePath,
		DatabaseURL:               cfg.DatabaseURL,
		StoreFallback:             cfg.StoreFallback,
		StoreNamespace:            cfg.StoreNamespace,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		DeletePolicy:              cfg.DeletePolicy,
		MinioEndpoint:             cfg.MinioEndpoint,
		MinioAccessKey:            cfg.MinioAccessKey,
		MinioSecretKey:            cfg.MinioSecretKey,
		MinioBucket:               cfg.MinioBucket,
		MinioUseSSL:               cfg.MinioUseSSL,
		ProxyURL:                  cfg.ProxyURL,
		AITimeout:                 time.Duration(cfg.AITimeoutSeconds) * time.Second,
		InternalJWTPrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
		InternalJWTKeyID:          cfg.InternalJWTKeyID,
		Logger:                    logger,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}
	defer appCore.Close()

	httpServer, err := server.New(server.Config{
		App:            appCore,
		MaxUploadBytes: cfg.MaxUploadBytes,
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
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("reader server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
