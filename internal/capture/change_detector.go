package capture

import (
	"go-receipt-capture/internal/frame"
)

// SampleGrid is a coarse luminance sampling of a frame
type SampleGrid struct {
	Width  int
	Height int
	Values []byte
}

// SampleFrame samples luminance every stride pixels in both axes.
// Grid dimensions are ceil(w/stride) x ceil(h/stride).
func SampleFrame(f *frame.Frame, stride int) SampleGrid {
	sw := (f.Width + stride - 1) / stride
	sh := (f.Height + stride - 1) / stride
	grid := SampleGrid{Width: sw, Height: sh, Values: make([]byte, sw*sh)}

	i := 0
	for y := 0; y < f.Height; y += stride {
		for x := 0; x < f.Width; x += stride {
			grid.Values[i] = f.Luminance(x, y)
			i++
		}
	}
	return grid
}

// SameSize reports whether two grids can be compared
func (g SampleGrid) SameSize(other SampleGrid) bool {
	return g.Width == other.Width && g.Height == other.Height
}

// ChangeDetector compares frames against the last confirmed-stable reference.
// It keeps no history beyond that single reference grid and is not safe for
// concurrent use.
type ChangeDetector struct {
	opts      DetectorOptions
	reference *SampleGrid
}

// NewChangeDetector creates a detector; zero option fields take defaults
func NewChangeDetector(opts DetectorOptions) *ChangeDetector {
	return &ChangeDetector{opts: opts.normalized()}
}

// Reset forgets the reference
func (d *ChangeDetector) Reset() {
	d.reference = nil
}

// HasReference reports whether a baseline is stored
func (d *ChangeDetector) HasReference() bool {
	return d.reference != nil
}

// ConfirmStable stores f as the new reference
func (d *ChangeDetector) ConfirmStable(f *frame.Frame) {
	grid := SampleFrame(f, d.opts.SampleStride)
	d.reference = &grid
}

// IsChanging reports whether f differs significantly from the reference.
// Without a comparable reference, f becomes the baseline and is reported as
// not changing.
func (d *ChangeDetector) IsChanging(f *frame.Frame) bool {
	current := SampleFrame(f, d.opts.SampleStride)
	if d.reference == nil || !d.reference.SameSize(current) {
		d.reference = &current
		return false
	}

	total := len(current.Values)
	if total == 0 {
		return false
	}
	earlyLimit := int(float64(total) * d.opts.EarlyExitRatio)

	changed := 0
	ref := d.reference.Values
	for i, v := range current.Values {
		diff := int(v) - int(ref[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > d.opts.NoiseThreshold {
			changed++
			if changed > earlyLimit {
				return true
			}
		}
	}

	return float64(changed)/float64(total) > d.opts.ChangeRatio
}
