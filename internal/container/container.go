package container

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go-receipt-capture/internal/barcode"
	"go-receipt-capture/internal/capture"
	"go-receipt-capture/internal/config"
	"go-receipt-capture/internal/dedup"
	"go-receipt-capture/internal/logger"
	"go-receipt-capture/internal/observer"
	"go-receipt-capture/internal/pipeline"
	"go-receipt-capture/internal/rectify"
	"go-receipt-capture/internal/source"
	"go-receipt-capture/internal/storage"
	"go-receipt-capture/internal/transport"
	"go-receipt-capture/pkg/validation"
)

// Runner is a background frame source
type Runner interface {
	Run(ctx context.Context) error
}

// Container holds all application dependencies
type Container struct {
	config    *config.Config
	publisher *observer.EventPublisher
	metrics   *observer.MetricsObserver
	pipeline  *pipeline.Pipeline
	service   *capture.Service
	uploader  storage.FileUploader
	sources   []Runner
	handler   http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	// Result fan-out
	publisher := observer.NewEventPublisher()
	metrics := observer.NewMetricsObserver(observer.DefaultLatencyWindow)
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)

	// Capture pipeline
	rectifier := rectify.New(rectify.DefaultOptions().
		WithReferenceResolution(cfg.CameraWidth, cfg.CameraHeight))
	p := pipeline.New(
		rectifier,
		barcode.NewDecoder(),
		dedup.New(cfg.DedupTTL),
		pipeline.DefaultOptions().
			WithOutputDir(cfg.OutputDir).
			WithEncoding(cfg.MaxImageDimension, cfg.JPEGQuality),
	)

	opts := capture.DefaultOptions().
		WithCooldown(cfg.CaptureCooldown).
		WithChangingTimeout(cfg.ChangingTimeout)
	svc := capture.NewService(p, opts,
		capture.WithResultHandler(observer.ResultSink(context.Background(), publisher)),
		capture.WithTransitionHandler(func(from, to capture.State) {
			publisher.NotifyObservers(context.Background(), observer.StateChangedEvent(from.String(), to.String()))
		}),
	)

	var uploader storage.FileUploader
	if cfg.UploadEnabled() {
		var err error
		uploader, err = storage.NewAzureStorage(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer)
		if err != nil {
			return nil, fmt.Errorf("failed to create blob storage: %w", err)
		}
		publisher.Subscribe(storage.NewBlobUploader(uploader, svc, cfg.UploadTimeout))
	}

	var sources []Runner
	if cfg.FrameWatchDir != "" {
		sources = append(sources, source.NewInboxWatcher(cfg.FrameWatchDir, svc))
	}
	if cfg.SnapshotURL != "" {
		if err := validation.NewURLValidator().ValidateSnapshotURL(cfg.SnapshotURL); err != nil {
			return nil, fmt.Errorf("invalid snapshot URL: %w", err)
		}
		var snapOpts []source.SnapshotOption
		if cfg.SnapshotInsecure {
			snapOpts = append(snapOpts, source.WithInsecureTLS())
		}
		sources = append(sources, source.NewSnapshotPoller(cfg.SnapshotURL, cfg.SnapshotInterval, svc, snapOpts...))
	}

	return &Container{
		config:    cfg,
		publisher: publisher,
		metrics:   metrics,
		pipeline:  p,
		service:   svc,
		uploader:  uploader,
		sources:   sources,
		handler:   transport.NewHandler(svc, metrics, cfg),
	}, nil
}

// PrepareStorage creates the output directory and, when uploads are
// enabled, the blob container.
func (c *Container) PrepareStorage(ctx context.Context) error {
	if err := os.MkdirAll(c.config.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if c.uploader == nil {
		return nil
	}
	return storage.EnsureContainer(ctx, c.uploader)
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the capture service
func (c *Container) Service() *capture.Service {
	return c.service
}

// Sources returns the configured background frame sources
func (c *Container) Sources() []Runner {
	return c.sources
}

// Publisher returns the result publisher
func (c *Container) Publisher() *observer.EventPublisher {
	return c.publisher
}

// Metrics returns the capture metrics observer
func (c *Container) Metrics() *observer.MetricsObserver {
	return c.metrics
}
