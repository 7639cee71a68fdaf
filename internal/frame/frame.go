// Package frame holds the raster type handed from frame sources to the
// capture service. A Frame is treated as immutable once submitted: consumers
// that need it beyond one processing step take a Clone.
package frame

import (
	"fmt"
	"image"
	"image/draw"
	"time"
)

// PixelFormat is the packed byte layout of a Frame.
type PixelFormat int

const (
	// FormatBGR24 stores three bytes per pixel in blue, green, red order.
	FormatBGR24 PixelFormat = iota
	// FormatBGRA32 stores four bytes per pixel in blue, green, red, alpha order.
	FormatBGRA32
)

// BytesPerPixel returns the pixel size of the format.
func (p PixelFormat) BytesPerPixel() int {
	if p == FormatBGRA32 {
		return 4
	}
	return 3
}

func (p PixelFormat) String() string {
	switch p {
	case FormatBGR24:
		return "bgr24"
	case FormatBGRA32:
		return "bgra32"
	default:
		return fmt.Sprintf("format(%d)", int(p))
	}
}

// Frame is one decoded camera image.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Stride    int // bytes per row, at least Width*BytesPerPixel
	Format    PixelFormat
	Timestamp time.Time
	Seq       uint64
}

// New allocates a zeroed, tightly packed frame.
func New(width, height int, format PixelFormat) *Frame {
	stride := width * format.BytesPerPixel()
	return &Frame{
		Pix:       make([]byte, stride*height),
		Width:     width,
		Height:    height,
		Stride:    stride,
		Format:    format,
		Timestamp: time.Now(),
	}
}

// Validate checks that the buffer can hold the declared geometry.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Format != FormatBGR24 && f.Format != FormatBGRA32 {
		return fmt.Errorf("unsupported pixel format %s", f.Format)
	}
	row := f.Width * f.Format.BytesPerPixel()
	if f.Stride < row {
		return fmt.Errorf("stride %d shorter than row %d", f.Stride, row)
	}
	if need := f.Stride*(f.Height-1) + row; len(f.Pix) < need {
		return fmt.Errorf("pixel buffer too small: have %d bytes, need %d", len(f.Pix), need)
	}
	return nil
}

// Clone returns a deep copy with its own pixel buffer.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	cp := *f
	cp.Pix = make([]byte, len(f.Pix))
	copy(cp.Pix, f.Pix)
	return &cp
}

// Bounds returns the frame rectangle.
func (f *Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Offset returns the index of the first byte of pixel (x, y).
func (f *Frame) Offset(x, y int) int {
	return y*f.Stride + x*f.Format.BytesPerPixel()
}

// BGR returns the color channels of pixel (x, y).
func (f *Frame) BGR(x, y int) (b, g, r byte) {
	o := f.Offset(x, y)
	return f.Pix[o], f.Pix[o+1], f.Pix[o+2]
}

// Luminance returns the integer Rec. 601 luma of pixel (x, y).
func (f *Frame) Luminance(x, y int) byte {
	b, g, r := f.BGR(x, y)
	return byte((int(r)*299 + int(g)*587 + int(b)*114) / 1000)
}

// Packed returns the pixel rows without stride padding. The frame's own
// buffer is returned when it is already tight.
func (f *Frame) Packed() []byte {
	row := f.Width * f.Format.BytesPerPixel()
	if f.Stride == row && len(f.Pix) == row*f.Height {
		return f.Pix
	}
	out := make([]byte, row*f.Height)
	for y := 0; y < f.Height; y++ {
		copy(out[y*row:(y+1)*row], f.Pix[y*f.Stride:y*f.Stride+row])
	}
	return out
}

// FromImage converts any image into a BGRA32 frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}

	f := New(b.Dx(), b.Dy(), FormatBGRA32)
	for y := 0; y < f.Height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+f.Width*4]
		dst := f.Pix[y*f.Stride : y*f.Stride+f.Width*4]
		for i := 0; i < len(src); i += 4 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}
	return f
}

// ToRGBA converts the frame into a standard library image.
func (f *Frame) ToRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	bpp := f.Format.BytesPerPixel()
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride:]
		dst := img.Pix[y*img.Stride:]
		for x := 0; x < f.Width; x++ {
			s, d := x*bpp, x*4
			dst[d] = src[s+2]
			dst[d+1] = src[s+1]
			dst[d+2] = src[s]
			dst[d+3] = 0xff
		}
	}
	return img
}
