package validation

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"
)

// QualityThresholds defines when a rectified page is flagged
type QualityThresholds struct {
	// Laplacian variance below this reads as blurry
	MinSharpness float64

	// Mean gray level bounds, 0-255
	MinBrightness float64
	MaxBrightness float64

	// Share of pixels at full white
	MaxClippedRatio float64

	MinWidth  int
	MinHeight int
}

// DefaultQualityThresholds returns the default quality thresholds
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MinSharpness:    100.0,
		MinBrightness:   60.0,
		MaxBrightness:   252.0,
		MaxClippedRatio: 0.6,
		MinWidth:        300,
		MinHeight:       300,
	}
}

// QualityValidator flags rectified pages that are likely hard to read.
// Issues are advisory; they never block a capture.
type QualityValidator struct {
	thresholds QualityThresholds
}

// NewQualityValidator creates a new quality validator with default thresholds
func NewQualityValidator() *QualityValidator {
	return &QualityValidator{
		thresholds: DefaultQualityThresholds(),
	}
}

// NewQualityValidatorWithThresholds creates a quality validator with custom thresholds
func NewQualityValidatorWithThresholds(thresholds QualityThresholds) *QualityValidator {
	return &QualityValidator{
		thresholds: thresholds,
	}
}

// QualityIssue represents a quality validation issue
type QualityIssue struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	Severity    string  `json:"severity"` // "warning", "info"
	ActualValue float64 `json:"actual_value,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
}

// PageMetrics describes one rectified page
type PageMetrics struct {
	Width        int
	Height       int
	Sharpness    float64
	Brightness   float64
	ClippedRatio float64
	// The page outline was not found and the fallback quad was used
	UsedDefault bool
}

// MeasurePage computes brightness statistics of img. Sharpness comes from
// the rectifier.
func MeasurePage(img image.Image, sharpness float64, usedDefault bool) PageMetrics {
	b := img.Bounds()
	m := PageMetrics{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Sharpness:   sharpness,
		UsedDefault: usedDefault,
	}
	if b.Empty() {
		return m
	}

	gray := imaging.Grayscale(img)
	levels := make([]float64, 0, m.Width*m.Height)
	clipped := 0
	for i := 0; i < len(gray.Pix); i += 4 {
		v := gray.Pix[i]
		if v == 255 {
			clipped++
		}
		levels = append(levels, float64(v))
	}
	m.Brightness = stat.Mean(levels, nil)
	m.ClippedRatio = float64(clipped) / float64(len(levels))
	return m
}

// Validate returns the issues found on a page, empty for a good one
func (qv *QualityValidator) Validate(m PageMetrics) []QualityIssue {
	var issues []QualityIssue

	if m.Sharpness < qv.thresholds.MinSharpness {
		issues = append(issues, QualityIssue{
			Type:        "blurriness",
			Message:     "Page looks blurry. Check focus and hold the sheet still.",
			Severity:    "warning",
			ActualValue: m.Sharpness,
			Threshold:   qv.thresholds.MinSharpness,
		})
	}

	if m.Brightness < qv.thresholds.MinBrightness {
		issues = append(issues, QualityIssue{
			Type:        "too_dark",
			Message:     "Page is too dark. Improve the lighting.",
			Severity:    "warning",
			ActualValue: m.Brightness,
			Threshold:   qv.thresholds.MinBrightness,
		})
	} else if m.Brightness > qv.thresholds.MaxBrightness {
		issues = append(issues, QualityIssue{
			Type:        "too_bright",
			Message:     "Page is too bright. Reduce the lighting or exposure.",
			Severity:    "warning",
			ActualValue: m.Brightness,
			Threshold:   qv.thresholds.MaxBrightness,
		})
	}

	if m.ClippedRatio > qv.thresholds.MaxClippedRatio {
		issues = append(issues, QualityIssue{
			Type:        "overexposure",
			Message:     "Large parts of the page are washed out.",
			Severity:    "warning",
			ActualValue: m.ClippedRatio,
			Threshold:   qv.thresholds.MaxClippedRatio,
		})
	}

	if m.Width < qv.thresholds.MinWidth || m.Height < qv.thresholds.MinHeight {
		issues = append(issues, QualityIssue{
			Type:     "low_resolution",
			Message:  fmt.Sprintf("Page is only %dx%d pixels. Move the camera closer.", m.Width, m.Height),
			Severity: "warning",
		})
	}

	if m.UsedDefault {
		issues = append(issues, QualityIssue{
			Type:     "page_not_detected",
			Message:  "Page outline was not found, the default crop was used.",
			Severity: "info",
		})
	}

	return issues
}

// ConvertIssuesToMessages converts quality issues to string messages
func (qv *QualityValidator) ConvertIssuesToMessages(issues []QualityIssue) []string {
	messages := make([]string, len(issues))
	for i, issue := range issues {
		messages[i] = issue.Message
	}
	return messages
}

// IssueTypes returns the type of every issue
func IssueTypes(issues []QualityIssue) []string {
	types := make([]string, len(issues))
	for i, issue := range issues {
		types[i] = issue.Type
	}
	return types
}
