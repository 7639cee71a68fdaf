package barcode

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// renderCode128 draws a Code 128 symbol as a black-on-white image
func renderCode128(t *testing.T, text string, width, height int) image.Image {
	t.Helper()
	matrix, err := oned.NewCode128Writer().Encode(text, gozxing.BarcodeFormat_CODE_128, width, height, nil)
	if err != nil {
		t.Fatalf("Failed to encode %q: %v", text, err)
	}
	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// pageWithCode pastes a label onto a white page at pos
func pageWithCode(t *testing.T, text string, pos image.Point) image.Image {
	t.Helper()
	page := imaging.New(1500, 1000, color.White)
	return imaging.Paste(page, renderCode128(t, text, 440, 100), pos)
}

func TestDecode_CroppedStrategy(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(pageWithCode(t, "SF1234567", image.Pt(1030, 40)))

	if res.Text != "SF1234567" {
		t.Fatalf("Expected SF1234567, got %q", res.Text)
	}
	if res.Strategy != StrategyCropped {
		t.Errorf("Expected cropped strategy, got %q", res.Strategy)
	}
}

func TestDecode_FullFrameFallback(t *testing.T) {
	d := NewDecoder()
	res := d.Decode(pageWithCode(t, "YT9876543210", image.Pt(60, 800)))

	if res.Text != "YT9876543210" {
		t.Fatalf("Expected YT9876543210, got %q", res.Text)
	}
	if res.Strategy != StrategyFullFrame {
		t.Errorf("Expected full frame strategy, got %q", res.Strategy)
	}
}

func TestDecode_InvalidTextRejected(t *testing.T) {
	d := NewDecoder()
	tests := []string{"AB123", "AB-12345", "SF 12345"}
	for _, text := range tests {
		t.Run(text, func(t *testing.T) {
			res := d.Decode(pageWithCode(t, text, image.Pt(1030, 40)))
			if res.Text != "" || res.Strategy != StrategyNone {
				t.Errorf("Expected %q to be rejected, got %+v", text, res)
			}
		})
	}
}

func TestDecode_NoCode(t *testing.T) {
	d := NewDecoder()
	if res := d.Decode(imaging.New(640, 480, color.White)); res.Text != "" {
		t.Errorf("Expected empty result for a blank page, got %q", res.Text)
	}
	if res := d.Decode(nil); res.Text != "" {
		t.Errorf("Expected empty result for nil image, got %q", res.Text)
	}
	if res := d.Decode(image.NewGray(image.Rect(0, 0, 0, 0))); res.Text != "" {
		t.Errorf("Expected empty result for empty image, got %q", res.Text)
	}
}

func TestTopRightRegion(t *testing.T) {
	tests := []struct {
		name     string
		bounds   image.Rectangle
		expected image.Rectangle
	}{
		{"regular", image.Rect(0, 0, 900, 600), image.Rect(600, 0, 900, 200)},
		{"odd size", image.Rect(0, 0, 100, 50), image.Rect(66, 0, 99, 16)},
		{"offset", image.Rect(10, 20, 310, 320), image.Rect(210, 20, 310, 120)},
		{"degenerate", image.Rect(0, 0, 2, 2), image.Rect(0, 0, 2, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TopRightRegion(tt.bounds); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestIsValidCode(t *testing.T) {
	tests := map[string]bool{
		"":            false,
		"ABC12":       false,
		"ABC123":      true,
		"1234567890":  true,
		"SF12 34567":  false,
		"SF-1234567":  false,
		"sf1234567":   true,
		"SF1234567\n": false,
		"ÄÖÜ":         false,
		"Ab12é":       false,
		"ÄÖÜ123":      true,
	}
	for code, expected := range tests {
		if got := IsValidCode(code); got != expected {
			t.Errorf("IsValidCode(%q): expected %v, got %v", code, expected, got)
		}
	}
}
