package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-receipt-capture/internal/errors"
	"go-receipt-capture/internal/logger"
	"go-receipt-capture/internal/observer"
)

// DuplicateRemover rolls back a dedup record
type DuplicateRemover interface {
	RemoveDuplicateBarcode(code string) bool
}

// BlobUploader is an observer that uploads every saved capture. A failed
// upload unblocks the code so the same sheet can be captured again.
type BlobUploader struct {
	uploader FileUploader
	remover  DuplicateRemover
	timeout  time.Duration
}

// NewBlobUploader creates the upload observer; timeout <= 0 means 30s
func NewBlobUploader(uploader FileUploader, remover DuplicateRemover, timeout time.Duration) *BlobUploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BlobUploader{
		uploader: uploader,
		remover:  remover,
		timeout:  timeout,
	}
}

// OnEvent uploads on capture_succeeded and ignores everything else
func (b *BlobUploader) OnEvent(ctx context.Context, event observer.CaptureEvent) {
	if event.EventType != observer.CaptureSucceeded || event.FilePath == "" {
		return
	}
	log := logger.WithFields(logrus.Fields{
		"component":  "uploader",
		"code":       event.Code,
		"attempt_id": event.AttemptID,
		"path":       event.FilePath,
	})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	start := time.Now()
	blobName, err := b.uploader.UploadFile(ctx, event.FilePath)
	if err != nil {
		removed := b.remover.RemoveDuplicateBarcode(event.Code)
		log.WithError(apperrors.NewPersistenceError("capture upload failed", err)).
			WithField("dedup_removed", removed).
			Error("Upload failed, sheet can be captured again")
		return
	}
	log.WithFields(logrus.Fields{
		"blob":     blobName,
		"duration": time.Since(start).String(),
	}).Info("Capture uploaded")
}

// GetObserverName returns the observer name
func (b *BlobUploader) GetObserverName() string {
	return "blob_uploader"
}
