// Package rectify finds the sheet of paper in a camera frame and warps it to
// a flat, axis-aligned image.
package rectify

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"runtime"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	apperrors "go-receipt-capture/internal/errors"
	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/logger"
)

// Options tunes document detection
type Options struct {
	// Margin cropped from every edge is min(w, h) / MarginDivisor
	MarginDivisor int
	// Structuring element size of the morphological opening
	MorphKernel int
	// ApproxPolyDP epsilon as a fraction of the contour perimeter
	ApproxEpsilon float64

	// Fallback quad size as a fraction of the reference resolution
	DefaultWidthRatio  float64
	DefaultHeightRatio float64
	// Known camera resolution; zero means the frame's own size
	ReferenceWidth  int
	ReferenceHeight int

	// When set, intermediate images are written here
	DebugDir string
}

// DefaultOptions returns the detection defaults
func DefaultOptions() Options {
	return Options{
		MarginDivisor:      30,
		MorphKernel:        5,
		ApproxEpsilon:      0.02,
		DefaultWidthRatio:  0.85,
		DefaultHeightRatio: 0.88,
	}
}

// WithReferenceResolution sets the camera resolution used for the fallback quad
func (o Options) WithReferenceResolution(width, height int) Options {
	o.ReferenceWidth = width
	o.ReferenceHeight = height
	return o
}

// WithDebugDir enables intermediate image dumps
func (o Options) WithDebugDir(dir string) Options {
	o.DebugDir = dir
	return o
}

// Result is a rectified page. Image is owned by the caller and must be closed.
type Result struct {
	Image       gocv.Mat
	Quad        Quad
	UsedDefault bool
	Ratio       float64
	Paper       Paper
	Sharpness   float64
}

// Close releases the rectified image
func (r *Result) Close() error {
	if r == nil {
		return nil
	}
	return r.Image.Close()
}

// Rectifier locates and flattens the page in a BGR image
type Rectifier struct {
	opts Options
}

// New creates a rectifier; zero option fields take defaults
func New(opts Options) *Rectifier {
	def := DefaultOptions()
	if opts.MarginDivisor <= 0 {
		opts.MarginDivisor = def.MarginDivisor
	}
	if opts.MorphKernel <= 0 {
		opts.MorphKernel = def.MorphKernel
	}
	if opts.ApproxEpsilon <= 0 {
		opts.ApproxEpsilon = def.ApproxEpsilon
	}
	if opts.DefaultWidthRatio <= 0 {
		opts.DefaultWidthRatio = def.DefaultWidthRatio
	}
	if opts.DefaultHeightRatio <= 0 {
		opts.DefaultHeightRatio = def.DefaultHeightRatio
	}
	return &Rectifier{opts: opts}
}

// MatFromFrame copies a frame into a new 3-channel BGR Mat owned by the caller.
func MatFromFrame(f *frame.Frame) (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	mt := gocv.MatTypeCV8UC3
	if f.Format == frame.FormatBGRA32 {
		mt = gocv.MatTypeCV8UC4
	}
	data := f.Packed()
	view, err := gocv.NewMatFromBytes(f.Height, f.Width, mt, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("wrap frame: %w", err)
	}
	defer view.Close()

	out := gocv.NewMat()
	if f.Format == frame.FormatBGRA32 {
		gocv.CvtColor(view, &out, gocv.ColorBGRAToBGR)
	} else {
		view.CopyTo(&out)
	}
	runtime.KeepAlive(data)

	if out.Empty() {
		out.Close()
		return gocv.NewMat(), fmt.Errorf("frame conversion produced an empty image")
	}
	return out, nil
}

// RectifyFrame converts f and rectifies it
func (r *Rectifier) RectifyFrame(f *frame.Frame) (*Result, error) {
	src, err := MatFromFrame(f)
	if err != nil {
		return nil, apperrors.NewDetectionUnavailableError("frame could not be converted", err)
	}
	defer src.Close()
	return r.Rectify(src)
}

// Rectify locates the page in a BGR image and warps it flat. When no
// quadrilateral is found the default quad is used. Internal failures are
// returned as detection-unavailable errors, never panics.
func (r *Rectifier) Rectify(src gocv.Mat) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			if res != nil {
				res.Close()
			}
			res = nil
			err = apperrors.NewDetectionUnavailableError("rectification panicked", fmt.Errorf("%v", p))
		}
	}()

	log := logger.WithComponent("rectify")
	if src.Empty() || src.Channels() != 3 {
		return nil, apperrors.NewDetectionUnavailableError(
			fmt.Sprintf("expected a non-empty BGR image, got %dx%d with %d channels", src.Cols(), src.Rows(), src.Channels()), nil)
	}

	// 1. crop the vignetted border
	margin := min(src.Cols(), src.Rows()) / r.opts.MarginDivisor
	roi := image.Rect(margin, margin, src.Cols()-margin, src.Rows()-margin)
	if roi.Dx() < 3 || roi.Dy() < 3 {
		return nil, apperrors.NewDetectionUnavailableError("image too small to rectify", nil)
	}
	region := src.Region(roi)
	defer region.Close()
	cropped := region.Clone()
	defer cropped.Close()
	r.dump("01_preprocess", cropped)

	// 2. paper mask
	mask, level := r.documentMask(cropped)
	defer mask.Close()
	r.dump("02_threshold_mask", mask)

	// 3-5. corners
	quad, found := r.extractCorners(mask)
	usedDefault := !found
	if usedDefault {
		refW, refH := r.referenceSize(src)
		quad = DefaultQuad(refW, refH, cropped.Cols(), cropped.Rows(), r.opts.DefaultWidthRatio, r.opts.DefaultHeightRatio)
		log.WithFields(logrus.Fields{
			"reference_width":  refW,
			"reference_height": refH,
		}).Warn("Page detection failed, using default quad")
	}

	// 6-7. warp using measured side lengths
	warped, err := r.warp(cropped, quad)
	if err != nil {
		return nil, err
	}
	r.dump("05_warped", warped)

	res = &Result{
		Image:       warped,
		Quad:        quad,
		UsedDefault: usedDefault,
		Ratio:       float64(warped.Cols()) / float64(warped.Rows()),
	}
	res.Paper = ClassifyPaper(res.Ratio)
	res.Sharpness = sharpness(warped)

	log.WithFields(logrus.Fields{
		"source_width":  src.Cols(),
		"source_height": src.Rows(),
		"width":         warped.Cols(),
		"height":        warped.Rows(),
		"ratio":         fmt.Sprintf("%.3f", res.Ratio),
		"paper":         res.Paper,
		"otsu_level":    level,
		"used_default":  usedDefault,
		"sharpness":     fmt.Sprintf("%.1f", res.Sharpness),
	}).Info("Page rectified")
	return res, nil
}

// documentMask binarizes with Otsu so the paper is foreground, then opens
// the mask to remove speckle.
func (r *Rectifier) documentMask(src gocv.Mat) (gocv.Mat, float32) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	binary := gocv.NewMat()
	level := gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// The sheet sits inside the frame, so a mostly white border means the
	// background is the bright class.
	if borderWhiteRatio(binary) > 0.5 {
		gocv.BitwiseNot(binary, &binary)
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(r.opts.MorphKernel, r.opts.MorphKernel))
	defer kernel.Close()
	opened := gocv.NewMat()
	gocv.MorphologyEx(binary, &opened, gocv.MorphOpen, kernel)
	binary.Close()
	return opened, level
}

// borderWhiteRatio is the share of non-zero pixels on the outermost ring
func borderWhiteRatio(binary gocv.Mat) float64 {
	rows, cols := binary.Rows(), binary.Cols()
	if rows == 0 || cols == 0 {
		return 0
	}
	white, total := 0, 0
	count := func(row, col int) {
		total++
		if binary.GetUCharAt(row, col) > 0 {
			white++
		}
	}
	for c := 0; c < cols; c++ {
		count(0, c)
		count(rows-1, c)
	}
	for rr := 1; rr < rows-1; rr++ {
		count(rr, 0)
		count(rr, cols-1)
	}
	return float64(white) / float64(total)
}

// extractCorners returns the ordered quad of the largest external contour
func (r *Rectifier) extractCorners(mask gocv.Mat) (Quad, bool) {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	maxIdx, maxArea := -1, 0.0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			maxIdx = i
		}
	}
	if maxIdx < 0 {
		return Quad{}, false
	}

	largest := contours.At(maxIdx)
	peri := gocv.ArcLength(largest, true)
	approx := gocv.ApproxPolyDP(largest, r.opts.ApproxEpsilon*peri, true)
	defer approx.Close()

	switch {
	case approx.Size() == 4:
		var pts [4]Point
		for i, p := range approx.ToPoints() {
			pts[i] = Point{X: float64(p.X), Y: float64(p.Y)}
		}
		return SortCorners(pts), true
	case approx.Size() > 4:
		return quadFromHull(largest)
	default:
		return Quad{}, false
	}
}

func quadFromHull(contour gocv.PointVector) (Quad, bool) {
	hullMat := gocv.NewMat()
	defer hullMat.Close()
	gocv.ConvexHull(contour, &hullMat, true, true)

	hull := gocv.NewPointVectorFromMat(hullMat)
	defer hull.Close()
	if hull.Size() < 4 {
		return Quad{}, false
	}

	pts := make([]Point, 0, hull.Size())
	for _, p := range hull.ToPoints() {
		pts = append(pts, Point{X: float64(p.X), Y: float64(p.Y)})
	}
	corners, ok := OutermostCorners(pts)
	if !ok {
		return Quad{}, false
	}
	return SortCorners(corners), true
}

func (r *Rectifier) referenceSize(src gocv.Mat) (int, int) {
	if r.opts.ReferenceWidth > 0 && r.opts.ReferenceHeight > 0 {
		return r.opts.ReferenceWidth, r.opts.ReferenceHeight
	}
	return src.Cols(), src.Rows()
}

func (r *Rectifier) warp(src gocv.Mat, q Quad) (gocv.Mat, error) {
	width, height := q.MeasuredSize()
	if width < 1 || height < 1 {
		return gocv.NewMat(), apperrors.NewDetectionUnavailableError(
			fmt.Sprintf("degenerate page quad %dx%d", width, height), nil)
	}

	srcPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: float32(q[0].X), Y: float32(q[0].Y)},
		{X: float32(q[1].X), Y: float32(q[1].Y)},
		{X: float32(q[2].X), Y: float32(q[2].Y)},
		{X: float32(q[3].X), Y: float32(q[3].Y)},
	})
	defer srcPts.Close()
	dstPts := gocv.NewPoint2fVectorFromPoints([]gocv.Point2f{
		{X: 0, Y: 0},
		{X: float32(width - 1), Y: 0},
		{X: float32(width - 1), Y: float32(height - 1)},
		{X: 0, Y: float32(height - 1)},
	})
	defer dstPts.Close()

	m := gocv.GetPerspectiveTransform2f(srcPts, dstPts)
	defer m.Close()

	out := gocv.NewMat()
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	gocv.WarpPerspectiveWithParams(src, &out, m, image.Pt(width, height), gocv.InterpolationLinear, gocv.BorderConstant, white)
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), apperrors.NewDetectionUnavailableError("perspective warp produced an empty image", nil)
	}
	return out, nil
}

func sharpness(bgr gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
	return LaplacianVariance(gray)
}

func (r *Rectifier) dump(name string, m gocv.Mat) {
	if r.opts.DebugDir == "" || m.Empty() {
		return
	}
	if err := os.MkdirAll(r.opts.DebugDir, 0o755); err != nil {
		logger.WithComponent("rectify").WithError(err).Debug("Debug directory unavailable")
		return
	}
	path := filepath.Join(r.opts.DebugDir, name+".jpg")
	if !gocv.IMWrite(path, m) {
		logger.WithComponent("rectify").WithField("path", path).Debug("Debug image not written")
	}
}
