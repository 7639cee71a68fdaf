package capture

import "time"

// DetectorOptions tunes the frame change detector
type DetectorOptions struct {
	// Pixel distance between luminance samples in both axes
	SampleStride int
	// Per-sample luminance difference (0-255) that counts as changed
	NoiseThreshold int
	// Final decision: changed ratio strictly above this means changing
	ChangeRatio float64
	// Short-circuit: stop comparing once changed samples exceed this ratio
	EarlyExitRatio float64
}

// Options configures the capture state machine and its runtime loop
type Options struct {
	// Stable frames needed in Unstable before moving to Ready
	EnterReadyThreshold int
	// Stable frames needed in Ready before a trigger attempt
	StableFrameThreshold int
	// Minimum spacing between two triggers
	Cooldown time.Duration
	// Continuous change longer than this re-baselines the reference
	ChangingTimeout time.Duration

	// Bounded wait of the consumption loop when no frame arrives
	PollInterval time.Duration
	// Bounded wait for the loop and executor on shutdown
	ShutdownWait time.Duration

	Detector DetectorOptions
}

// DefaultDetectorOptions returns the detector defaults
func DefaultDetectorOptions() DetectorOptions {
	return DetectorOptions{
		SampleStride:   20,
		NoiseThreshold: 20,
		ChangeRatio:    0.15,
		EarlyExitRatio: 0.25,
	}
}

// DefaultOptions returns default capture options
func DefaultOptions() Options {
	return Options{
		EnterReadyThreshold:  1,
		StableFrameThreshold: 2,
		Cooldown:             1200 * time.Millisecond,
		ChangingTimeout:      3000 * time.Millisecond,
		PollInterval:         16 * time.Millisecond,
		ShutdownWait:         time.Second,
		Detector:             DefaultDetectorOptions(),
	}
}

// WithCooldown sets the minimum spacing between triggers
func (opts Options) WithCooldown(d time.Duration) Options {
	opts.Cooldown = d
	return opts
}

// WithChangingTimeout sets how long continuous change may last before re-baselining
func (opts Options) WithChangingTimeout(d time.Duration) Options {
	opts.ChangingTimeout = d
	return opts
}

// WithThresholds sets the stable-frame counts for entering Ready and triggering
func (opts Options) WithThresholds(enterReady, stableFrames int) Options {
	opts.EnterReadyThreshold = enterReady
	opts.StableFrameThreshold = stableFrames
	return opts
}

// WithDetector replaces the detector tunables
func (opts Options) WithDetector(d DetectorOptions) Options {
	opts.Detector = d
	return opts
}

// normalized fills zero values with defaults
func (opts Options) normalized() Options {
	def := DefaultOptions()
	if opts.EnterReadyThreshold <= 0 {
		opts.EnterReadyThreshold = def.EnterReadyThreshold
	}
	if opts.StableFrameThreshold <= 0 {
		opts.StableFrameThreshold = def.StableFrameThreshold
	}
	if opts.Cooldown < 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.ChangingTimeout <= 0 {
		opts.ChangingTimeout = def.ChangingTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.ShutdownWait <= 0 {
		opts.ShutdownWait = def.ShutdownWait
	}
	opts.Detector = opts.Detector.normalized()
	return opts
}

func (d DetectorOptions) normalized() DetectorOptions {
	def := DefaultDetectorOptions()
	if d.SampleStride <= 0 {
		d.SampleStride = def.SampleStride
	}
	if d.NoiseThreshold <= 0 {
		d.NoiseThreshold = def.NoiseThreshold
	}
	if d.ChangeRatio <= 0 {
		d.ChangeRatio = def.ChangeRatio
	}
	if d.EarlyExitRatio <= 0 {
		d.EarlyExitRatio = def.EarlyExitRatio
	}
	return d
}
