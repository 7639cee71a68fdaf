package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-receipt-capture/internal/capture"
	"go-receipt-capture/internal/config"
	apperrors "go-receipt-capture/internal/errors"
	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/logger"
	"go-receipt-capture/internal/observer"
	"go-receipt-capture/pkg/models"
)

// CaptureService is the part of the capture service exposed over HTTP
type CaptureService interface {
	Enable()
	Disable()
	SubmitFrame(f *frame.Frame) bool
	RemoveDuplicateBarcode(code string) bool
	Stats() capture.Stats
}

// MetricsSource provides capture outcome statistics
type MetricsSource interface {
	GetMetrics() observer.Metrics
}

func NewHandler(svc CaptureService, metrics MetricsSource, cfg *config.Config) http.Handler {
	r := gin.New()

	// Add middleware
	r.Use(
		gin.Recovery(),
		requestLogger(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		errorHandler(),
	)

	// Configure routes
	r.GET("/health", healthCheck)
	r.GET("/status", status(svc))
	r.GET("/metrics", metricsReport(svc, metrics))
	r.POST("/capture/enable", setEnabled(svc, true))
	r.POST("/capture/disable", setEnabled(svc, false))
	r.POST("/frames", submitFrame(svc, cfg))
	r.DELETE("/dedup/:code", removeDuplicate(svc))

	return r
}

func statusResponse(st capture.Stats) models.StatusResponse {
	return models.StatusResponse{
		State:         st.State.String(),
		Enabled:       st.Enabled,
		FramesSeen:    st.FramesSeen,
		FramesDropped: st.FramesDropped,
		Triggers:      st.Triggers,
		DedupEntries:  st.TrackedCodes,
		InFlight:      st.InFlight,
	}
}

func status(svc CaptureService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, statusResponse(svc.Stats()))
	}
}

func metricsReport(svc CaptureService, metrics MetricsSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		st := svc.Stats()
		c.JSON(http.StatusOK, gin.H{
			"captures": metrics.GetMetrics(),
			"service":  statusResponse(st),
			"executor": st.Executor,
		})
	}
}

func setEnabled(svc CaptureService, enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled {
			svc.Enable()
		} else {
			svc.Disable()
		}
		logger.WithFields(logrus.Fields{
			"enabled": enabled,
			"ip":      c.ClientIP(),
		}).Info("Capture toggled over HTTP")
		c.JSON(http.StatusOK, statusResponse(svc.Stats()))
	}
}

func submitFrame(svc CaptureService, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		body, closeBody, err := frameBody(c)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid frame upload", apperrors.NewValidationError("missing image", err))
			return
		}
		defer closeBody()

		img, err := imaging.Decode(body, imaging.AutoOrientation(true))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				respondError(c, http.StatusRequestEntityTooLarge, "frame too large", err)
				return
			}
			respondError(c, http.StatusBadRequest, "invalid frame image", apperrors.NewValidationError("image could not be decoded", err))
			return
		}
		if ctx.Err() != nil {
			respondError(c, determineStatusCode(ctx.Err()), "frame upload timed out", ctx.Err())
			return
		}

		f := frame.FromImage(img)
		if !svc.SubmitFrame(f) {
			err := apperrors.NewUnavailableError("capture is disabled", nil)
			respondError(c, apperrors.GetStatusCode(err), "frame not accepted", err)
			return
		}

		logger.WithFields(logrus.Fields{
			"seq":    f.Seq,
			"width":  f.Width,
			"height": f.Height,
		}).Debug("Frame accepted over HTTP")

		c.JSON(http.StatusAccepted, models.FrameAccepted{
			Seq:    f.Seq,
			Width:  f.Width,
			Height: f.Height,
		})
	}
}

// frameBody returns the multipart "file" part when present, otherwise the raw body
func frameBody(c *gin.Context) (io.Reader, func(), error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, nil, err
		}
		file, err := fh.Open()
		if err != nil {
			return nil, nil, err
		}
		return file, func() { file.Close() }, nil
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil, nil, fmt.Errorf("empty request body")
	}
	return c.Request.Body, func() {}, nil
}

func removeDuplicate(svc CaptureService) gin.HandlerFunc {
	return func(c *gin.Context) {
		code := strings.TrimSpace(c.Param("code"))
		if code == "" {
			respondError(c, http.StatusBadRequest, "invalid code", apperrors.NewValidationError("code is required", nil))
			return
		}
		if !svc.RemoveDuplicateBarcode(code) {
			err := apperrors.NewNotFoundError(fmt.Sprintf("code %s is not tracked", code), nil)
			respondError(c, apperrors.GetStatusCode(err), "unknown code", err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "available",
		"version": "1.0.0",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Middleware and helper functions
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status_code": c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          c.ClientIP(),
		})
		// frames arrive continuously, keep them out of the info log
		if c.Request.URL.Path == "/frames" && c.Writer.Status() < 400 {
			entry.Debug("Request handled")
			return
		}
		entry.Info("Request handled")
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			respondError(c, determineStatusCode(err.Err), "request processing failed", err)
		}
	}
}

func determineStatusCode(err error) int {
	// Check if it's a custom app error first
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	// Fallback to context-based errors
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, code int, message string, err error) {
	// Log the error with context
	logger.WithError(err).WithFields(logrus.Fields{
		"status_code": code,
		"message":     message,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
		"ip":          c.ClientIP(),
	}).Error("Request failed")

	c.AbortWithStatusJSON(code, models.ErrorResponse{
		Error:   http.StatusText(code),
		Message: fmt.Sprintf("%s: %v", message, err),
	})
}
