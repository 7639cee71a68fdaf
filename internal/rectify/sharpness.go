package rectify

import (
	"gocv.io/x/gocv"
)

// LaplacianVariance is a focus measure: the variance of the 4-neighbour
// Laplacian over a single-channel image. Low values mean a blurred page.
func LaplacianVariance(gray gocv.Mat) float64 {
	if gray.Empty() || gray.Cols() < 3 || gray.Rows() < 3 || gray.Channels() != 1 {
		return 0
	}

	// aperture 1 is the [0, 1, 0; 1, -4, 1; 0, 1, 0] kernel
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean := gocv.NewMat()
	defer mean.Close()
	dev := gocv.NewMat()
	defer dev.Close()
	gocv.MeanStdDev(lap, &mean, &dev)
	if dev.Empty() {
		return 0
	}

	sd := dev.GetDoubleAt(0, 0)
	return sd * sd
}
