package rectify

import (
	"image"
	"image/color"
	"math"
	"testing"

	"gocv.io/x/gocv"
)

func TestSortCorners_AllOrders(t *testing.T) {
	tl, tr, br, bl := Point{10, 20}, Point{300, 25}, Point{310, 400}, Point{5, 390}
	expected := Quad{tl, tr, br, bl}

	base := [4]Point{tl, tr, br, bl}
	perms := permutations(base)
	if len(perms) != 24 {
		t.Fatalf("Expected 24 permutations, got %d", len(perms))
	}
	for _, p := range perms {
		if got := SortCorners(p); got != expected {
			t.Errorf("Input %v: expected %v, got %v", p, expected, got)
		}
	}
}

func TestSortCorners_RotationsAndReflections(t *testing.T) {
	// Rectangle 200x100 centred on the origin, rotated slightly and mirrored
	rect := [4]Point{{-100, -50}, {100, -50}, {100, 50}, {-100, 50}}

	for _, angle := range []float64{-15, -5, 0, 5, 15} {
		for _, mirror := range []bool{false, true} {
			var pts [4]Point
			rad := angle * math.Pi / 180
			for i, p := range rect {
				x := p.X
				if mirror {
					x = -x
				}
				pts[i] = Point{
					X: 500 + x*math.Cos(rad) - p.Y*math.Sin(rad),
					Y: 400 + x*math.Sin(rad) + p.Y*math.Cos(rad),
				}
			}

			for shift := 0; shift < 4; shift++ {
				in := [4]Point{pts[shift%4], pts[(shift+1)%4], pts[(shift+2)%4], pts[(shift+3)%4]}
				q := SortCorners(in)

				if !(q[0].X < q[1].X && q[3].X < q[2].X) {
					t.Errorf("angle=%v mirror=%v: left corners not left of right corners: %v", angle, mirror, q)
				}
				if !(q[0].Y < q[3].Y && q[1].Y < q[2].Y) {
					t.Errorf("angle=%v mirror=%v: top corners not above bottom corners: %v", angle, mirror, q)
				}
			}
		}
	}
}

func permutations(pts [4]Point) [][4]Point {
	var out [][4]Point
	var rec func(k int, a [4]Point)
	rec = func(k int, a [4]Point) {
		if k == len(a) {
			out = append(out, a)
			return
		}
		for i := k; i < len(a); i++ {
			a[k], a[i] = a[i], a[k]
			rec(k+1, a)
			a[k], a[i] = a[i], a[k]
		}
	}
	rec(0, pts)
	return out
}

func TestOutermostCorners(t *testing.T) {
	// Octagon-ish hull of a page with clipped corners
	pts := []Point{
		{12, 10}, {100, 8}, {190, 11}, {200, 100},
		{198, 290}, {100, 300}, {9, 295}, {0, 150},
	}
	corners, ok := OutermostCorners(pts)
	if !ok {
		t.Fatal("Expected corners to be found")
	}
	q := SortCorners(corners)
	expected := Quad{{12, 10}, {190, 11}, {198, 290}, {9, 295}}
	if q != expected {
		t.Errorf("Expected %v, got %v", expected, q)
	}

	if _, ok := OutermostCorners(pts[:3]); ok {
		t.Error("Expected fewer than four points to fail")
	}
	if _, ok := OutermostCorners([]Point{{0, 0}, {0, 0}, {1, 1}, {1, 1}}); ok {
		t.Error("Expected coincident extremes to fail")
	}
}

func TestDefaultQuad(t *testing.T) {
	q := DefaultQuad(3264, 2448, 3264, 2448, 0.85, 0.88)
	w, h := 3264*0.85, 2448*0.88
	x, y := (3264-w)/2, (2448-h)/2

	expected := Quad{{x, y}, {x + w, y}, {x + w, y + h}, {x, y + h}}
	for i := range q {
		if math.Abs(q[i].X-expected[i].X) > 1e-9 || math.Abs(q[i].Y-expected[i].Y) > 1e-9 {
			t.Errorf("Corner %d: expected %v, got %v", i, expected[i], q[i])
		}
	}

	// Clamped to the image it is placed in
	small := DefaultQuad(3264, 2448, 640, 480, 0.85, 0.88)
	if small[0].X != 0 || small[0].Y != 0 || small[2].X != 640 || small[2].Y != 480 {
		t.Errorf("Expected quad clamped to 640x480, got %v", small)
	}
}

func TestMeasuredSize(t *testing.T) {
	q := Quad{{0, 0}, {400, 0}, {420, 300}, {-20, 300}}
	w, h := q.MeasuredSize()
	if w != 420 {
		t.Errorf("Expected width 420, got %d", w)
	}
	// left and right edges are sqrt(20^2 + 300^2)
	if h != 300 {
		t.Errorf("Expected height 300, got %d", h)
	}
	if area := (Quad{{0, 0}, {10, 0}, {10, 5}, {0, 5}}).Area(); area != 50 {
		t.Errorf("Expected area 50, got %v", area)
	}
}

func TestClassifyPaper(t *testing.T) {
	tests := []struct {
		ratio    float64
		expected Paper
	}{
		{1.414, PaperA4},
		{1.21, PaperA4},
		{1.2, PaperUnknown},
		{1.0, PaperUnknown},
		{0.85, PaperUnknown},
		{0.707, PaperA5},
	}
	for _, tt := range tests {
		if got := ClassifyPaper(tt.ratio); got != tt.expected {
			t.Errorf("Ratio %v: expected %s, got %s", tt.ratio, tt.expected, got)
		}
	}
}

func TestLaplacianVariance(t *testing.T) {
	flat := image.NewGray(image.Rect(0, 0, 20, 20))
	for i := range flat.Pix {
		flat.Pix[i] = 128
	}
	if v := laplacianOf(t, flat); v > 1e-9 {
		t.Errorf("Expected zero variance for a flat image, got %v", v)
	}

	checker := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			if (x+y)%2 == 0 {
				checker.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	if v := laplacianOf(t, checker); v <= 0 {
		t.Errorf("Expected positive variance for a sharp pattern, got %v", v)
	}

	if v := laplacianOf(t, image.NewGray(image.Rect(0, 0, 2, 2))); v != 0 {
		t.Errorf("Expected tiny image to score 0, got %v", v)
	}

	empty := gocv.NewMat()
	defer empty.Close()
	if v := LaplacianVariance(empty); v != 0 {
		t.Errorf("Expected empty mat to score 0, got %v", v)
	}
}

func laplacianOf(t *testing.T, img *image.Gray) float64 {
	t.Helper()
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		t.Fatalf("Expected gray mat, got %v", err)
	}
	defer m.Close()
	return LaplacianVariance(m)
}
