package rectify

import (
	"math"
	"sort"
)

// Point is a sub-pixel image coordinate
type Point struct {
	X, Y float64
}

// Quad is a page boundary ordered TL, TR, BR, BL
type Quad [4]Point

// Paper is the diagnostic page classification of a rectified image
type Paper string

const (
	PaperA4      Paper = "A4"
	PaperA5      Paper = "A5"
	PaperUnknown Paper = "Unknown"
)

// SortCorners orders four points as TL, TR, BR, BL: the two smallest x form
// the left pair, the other two the right pair, and each pair is ordered by y.
func SortCorners(pts [4]Point) Quad {
	sorted := pts
	sort.SliceStable(sorted[:], func(i, j int) bool {
		return sorted[i].X < sorted[j].X
	})

	left := [2]Point{sorted[0], sorted[1]}
	right := [2]Point{sorted[2], sorted[3]}
	if left[1].Y < left[0].Y {
		left[0], left[1] = left[1], left[0]
	}
	if right[1].Y < right[0].Y {
		right[0], right[1] = right[1], right[0]
	}
	return Quad{left[0], right[0], right[1], left[1]}
}

// OutermostCorners picks the four extreme points of a convex polygon with
// more than four vertices: smallest and largest x+y, largest and smallest x-y.
func OutermostCorners(pts []Point) ([4]Point, bool) {
	if len(pts) < 4 {
		return [4]Point{}, false
	}
	tl, br, tr, bl := pts[0], pts[0], pts[0], pts[0]
	for _, p := range pts[1:] {
		if p.X+p.Y < tl.X+tl.Y {
			tl = p
		}
		if p.X+p.Y > br.X+br.Y {
			br = p
		}
		if p.X-p.Y > tr.X-tr.Y {
			tr = p
		}
		if p.X-p.Y < bl.X-bl.Y {
			bl = p
		}
	}
	corners := [4]Point{tl, tr, br, bl}
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			if corners[i] == corners[j] {
				return [4]Point{}, false
			}
		}
	}
	return corners, true
}

// DefaultQuad centers a widthRatio x heightRatio box of the reference
// resolution inside a width x height image.
func DefaultQuad(refWidth, refHeight, width, height int, widthRatio, heightRatio float64) Quad {
	w := float64(refWidth) * widthRatio
	h := float64(refHeight) * heightRatio
	if w > float64(width) {
		w = float64(width)
	}
	if h > float64(height) {
		h = float64(height)
	}
	x := (float64(width) - w) / 2
	y := (float64(height) - h) / 2
	return Quad{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}}
}

// MeasuredSize is the destination size implied by the quad's side lengths:
// average of top and bottom for width, average of left and right for height.
func (q Quad) MeasuredSize() (width, height int) {
	top := distance(q[0], q[1])
	bottom := distance(q[2], q[3])
	left := distance(q[3], q[0])
	right := distance(q[1], q[2])
	return int((top + bottom) / 2), int((left + right) / 2)
}

// Area returns the polygon area of the quad
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(sum) / 2
}

// ClassifyPaper maps a width/height ratio to a page kind
func ClassifyPaper(ratio float64) Paper {
	switch {
	case ratio > 1.2:
		return PaperA4
	case ratio < 0.85:
		return PaperA5
	default:
		return PaperUnknown
	}
}

func distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
