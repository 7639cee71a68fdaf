// Package barcode reads the Code 128 sheet number printed on a receipt.
package barcode

import (
	"image"
	"unicode"
	"unicode/utf8"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/sirupsen/logrus"

	"go-receipt-capture/internal/logger"
)

// MinCodeLength is the shortest accepted sheet number
const MinCodeLength = 6

// Strategy names a decode attempt
type Strategy string

const (
	StrategyCropped   Strategy = "cropped"
	StrategyFullFrame Strategy = "full_frame"
	StrategyNone      Strategy = ""
)

// Result is a decoded sheet number and the strategy that found it
type Result struct {
	Text     string
	Strategy Strategy
}

// Decoder tries the top-right ninth of the page first, where the label is
// printed, and falls back to the whole page.
type Decoder interface {
	Decode(img image.Image) Result
}

type code128Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewDecoder creates a Code 128 decoder
func NewDecoder() Decoder {
	return &code128Decoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Decode returns the first valid code, or an empty Result when neither
// strategy finds one. A clean page without a code is not an error.
func (d *code128Decoder) Decode(img image.Image) Result {
	if img == nil || img.Bounds().Empty() {
		return Result{}
	}
	log := logger.WithComponent("barcode")

	cropped := imaging.Crop(img, TopRightRegion(img.Bounds()))
	if text := d.decodeValid(cropped); text != "" {
		log.WithFields(logrus.Fields{"code": text, "strategy": StrategyCropped}).Debug("Barcode decoded")
		return Result{Text: text, Strategy: StrategyCropped}
	}

	if text := d.decodeValid(img); text != "" {
		log.WithFields(logrus.Fields{"code": text, "strategy": StrategyFullFrame}).Debug("Barcode decoded")
		return Result{Text: text, Strategy: StrategyFullFrame}
	}

	log.Debug("No valid barcode found")
	return Result{}
}

func (d *code128Decoder) decodeValid(img image.Image) string {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return ""
	}
	result, err := oned.NewCode128Reader().Decode(bmp, d.hints)
	if err != nil || result == nil {
		return ""
	}
	text := result.GetText()
	if !IsValidCode(text) {
		logger.WithComponent("barcode").WithField("text", text).Debug("Discarding invalid barcode text")
		return ""
	}
	return text
}

// TopRightRegion is the label zone: x from 2/3 of the width to the right
// edge, y from the top to 1/3 of the height. A degenerate zone falls back to
// the whole rectangle.
func TopRightRegion(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	x := b.Min.X + w*2/3
	region := image.Rect(x, b.Min.Y, x+w/3, b.Min.Y+h/3)
	if region.Dx() <= 0 || region.Dy() <= 0 {
		return b
	}
	return region
}

// IsValidCode accepts letters and digits only, at least MinCodeLength long
func IsValidCode(s string) bool {
	if utf8.RuneCountInString(s) < MinCodeLength {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
