package pipeline

// Options controls how accepted captures are written
type Options struct {
	OutputDir string
	// Longest side of the saved image in pixels
	MaxDimension int
	JPEGQuality  int
}

// DefaultOptions returns the persistence defaults
func DefaultOptions() Options {
	return Options{
		OutputDir:    "captures",
		MaxDimension: 1200,
		JPEGQuality:  80,
	}
}

// WithOutputDir sets the directory captures are written to
func (o Options) WithOutputDir(dir string) Options {
	o.OutputDir = dir
	return o
}

// WithEncoding sets the downscale bound and JPEG quality
func (o Options) WithEncoding(maxDimension, quality int) Options {
	o.MaxDimension = maxDimension
	o.JPEGQuality = quality
	return o
}
