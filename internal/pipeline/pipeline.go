// Package pipeline turns one accepted camera frame into a capture result:
// rectify, decode, deduplicate, persist.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"go-receipt-capture/internal/barcode"
	"go-receipt-capture/internal/dedup"
	apperrors "go-receipt-capture/internal/errors"
	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/logger"
	"go-receipt-capture/internal/rectify"
	"go-receipt-capture/pkg/models"
	"go-receipt-capture/pkg/validation"
)

// FileExtension of every saved capture
const FileExtension = ".jpg"

// Rectifier produces a flattened page from a frame
type Rectifier interface {
	RectifyFrame(f *frame.Frame) (*rectify.Result, error)
}

// Pipeline runs the capture stages synchronously for one frame at a time
type Pipeline struct {
	rectifier Rectifier
	decoder   barcode.Decoder
	dedup     *dedup.Deduplicator
	quality   *validation.QualityValidator
	opts      Options
}

// New creates a pipeline; zero option fields take defaults
func New(rectifier Rectifier, decoder barcode.Decoder, dd *dedup.Deduplicator, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.OutputDir == "" {
		opts.OutputDir = def.OutputDir
	}
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = def.MaxDimension
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return &Pipeline{
		rectifier: rectifier,
		decoder:   decoder,
		dedup:     dd,
		quality:   validation.NewQualityValidator(),
		opts:      opts,
	}
}

// ProcessFrame runs one capture attempt. The caller's frame is never
// retained or modified. Every failure, including a panic in a stage, is
// reported as a Failure result.
func (p *Pipeline) ProcessFrame(ctx context.Context, f *frame.Frame) (result models.CaptureResult) {
	log := logger.WithComponent("pipeline")
	if f != nil {
		log = log.WithField("seq", f.Seq)
	}

	defer func() {
		if r := recover(); r != nil {
			err := apperrors.NewUnexpectedError("capture stage panicked", fmt.Errorf("%v", r))
			log.WithError(err).Error("Capture attempt aborted")
			result = failure(err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return failure(apperrors.NewUnexpectedError("capture canceled", err))
	}
	if err := f.Validate(); err != nil {
		return failure(apperrors.NewUnexpectedError("invalid frame", err))
	}

	// 1. private copy
	working := f.Clone()

	// 2. rectify
	page, err := p.rectifier.RectifyFrame(working)
	if err != nil || page == nil {
		if err == nil {
			err = apperrors.NewDetectionUnavailableError("no page found", nil)
		}
		log.WithError(err).Warn("Page rectification unavailable")
		return failure(err)
	}
	defer page.Close()

	img, err := page.Image.ToImage()
	if err != nil {
		return failure(apperrors.NewDetectionUnavailableError("rectified page could not be read", err))
	}

	// 3. decode
	decoded := p.decoder.Decode(img)
	if decoded.Text == "" {
		err := apperrors.NewDecodeEmptyError("no valid barcode on page")
		log.WithField("used_default_quad", page.UsedDefault).Info("No barcode found")
		return failure(err)
	}
	code := decoded.Text
	log = log.WithFields(logrus.Fields{"code": code, "strategy": decoded.Strategy})

	// 4. dedup
	if p.dedup.IsDuplicate(code) {
		log.Info("Duplicate barcode, skipping save")
		return models.Duplicate(code)
	}

	// advisory only
	issues := validation.IssueTypes(p.quality.Validate(validation.MeasurePage(img, page.Sharpness, page.UsedDefault)))
	if len(issues) > 0 {
		log.WithField("quality_issues", issues).Warn("Captured page has quality issues")
	}

	// 5. persist; a failed save still reports the decoded code
	path := filepath.Join(p.opts.OutputDir, MakeSafeFileName(code)+FileExtension)
	if err := p.save(img, path); err != nil {
		log.WithError(apperrors.NewPersistenceError("capture not saved", err)).
			WithField("path", path).
			Warn("Saving capture failed")
	} else {
		log.WithField("path", path).Info("Capture saved")
	}
	res := models.Success(code, path)
	res.QualityIssues = issues
	return res
}

func (p *Pipeline) save(img image.Image, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	resized := imaging.Fit(img, p.opts.MaxDimension, p.opts.MaxDimension, imaging.Lanczos)
	if err := imaging.Save(resized, path, imaging.JPEGQuality(p.opts.JPEGQuality)); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// RemoveDuplicateBarcode unblocks code so the same sheet can be captured again
func (p *Pipeline) RemoveDuplicateBarcode(code string) bool {
	return p.dedup.Remove(code)
}

// TrackedCodes is the number of codes currently blocked
func (p *Pipeline) TrackedCodes() int {
	return p.dedup.Len()
}

func failure(err error) models.CaptureResult {
	res := models.Failure(err.Error())
	res.ErrorType = string(apperrors.GetType(err))
	return res
}
