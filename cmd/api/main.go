package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"go-receipt-capture/internal/config"
	"go-receipt-capture/internal/container"
	"go-receipt-capture/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load config")
	}

	// Setup structured logging
	logCloser := logger.Configure(logger.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	defer logCloser.Close()

	// Initialize dependency injection container
	c, err := container.NewContainer(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize container")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prepCtx, cancelPrep := context.WithTimeout(ctx, cfg.UploadTimeout)
	if err := c.PrepareStorage(prepCtx); err != nil {
		logger.WithError(err).Warn("Storage not ready, captures may not be persisted")
	}
	cancelPrep()

	// Start capture service
	svc := c.Service()
	if err := svc.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start capture service")
	}
	if cfg.AutoEnable {
		svc.Enable()
	}

	// Start background frame sources
	var sources sync.WaitGroup
	for _, src := range c.Sources() {
		sources.Add(1)
		go func() {
			defer sources.Done()
			if err := src.Run(ctx); err != nil {
				logger.WithError(err).Error("Frame source stopped")
			}
		}()
	}

	// Create HTTP server with configurable timeouts
	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      c.Handler(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.WithFields(logrus.Fields{
			"address":     cfg.ServerAddress(),
			"timeout":     cfg.RequestTimeout,
			"output_dir":  cfg.OutputDir,
			"auto_enable": cfg.AutoEnable,
			"upload":      cfg.UploadEnabled(),
			"sources":     len(c.Sources()),
		}).Info("Starting HTTP server")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Capture service did not stop cleanly")
	}
	sources.Wait()
	if err := c.Publisher().Wait(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Pending result notifications abandoned")
	}

	logger.Info("Server exited")
}
