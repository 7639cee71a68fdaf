package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "go-receipt-capture/internal/errors"
	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/logger"
	"go-receipt-capture/pkg/models"
)

// Processor runs one capture attempt on a frame it may keep
type Processor interface {
	ProcessFrame(ctx context.Context, f *frame.Frame) models.CaptureResult
	RemoveDuplicateBarcode(code string) bool
	TrackedCodes() int
}

// ResultHandler receives every capture result exactly once. It runs on the
// capture executor and must hand off slow work.
type ResultHandler func(models.CaptureResult)

// TransitionHandler observes state changes. It is called with the state lock
// held and must not call back into the Service.
type TransitionHandler func(from, to State)

// Stats is a snapshot of the service counters
type Stats struct {
	State         State
	Enabled       bool
	FramesSeen    uint64
	FramesDropped uint64
	Triggers      uint64
	InFlight      bool
	TrackedCodes  int
	Executor      ExecutorStats
}

// Service is the live capture state machine: it ingests frames into a single
// pending slot, evaluates them on its own loop and dispatches captures to a
// single-worker executor.
type Service struct {
	opts      Options
	processor Processor
	detector  *ChangeDetector
	executor  *Executor
	now       func() time.Time

	onResult     ResultHandler
	onTransition TransitionHandler

	// guards machine and detector
	mu      sync.Mutex
	machine Machine

	slotMu  sync.Mutex
	pending *frame.Frame
	wake    chan struct{}

	enabled       atomic.Bool
	seq           atomic.Uint64
	framesSeen    atomic.Uint64
	framesDropped atomic.Uint64
	triggers      atomic.Uint64

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// ServiceOption customizes a Service
type ServiceOption func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// WithResultHandler sets the result callback
func WithResultHandler(h ResultHandler) ServiceOption {
	return func(s *Service) {
		s.onResult = h
	}
}

// WithTransitionHandler sets the state change hook
func WithTransitionHandler(h TransitionHandler) ServiceOption {
	return func(s *Service) {
		s.onTransition = h
	}
}

// NewService creates a disabled, not yet started service
func NewService(processor Processor, opts Options, svcOpts ...ServiceOption) *Service {
	opts = opts.normalized()
	s := &Service{
		opts:      opts,
		processor: processor,
		detector:  NewChangeDetector(opts.Detector),
		executor:  NewExecutor(1, 1),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
	for _, o := range svcOpts {
		o(s)
	}
	return s
}

// Start launches the executor and the consumption loop
func (s *Service) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.started {
		return fmt.Errorf("capture service already started")
	}
	s.started = true

	s.executor.Start()
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)

	logger.WithComponent("capture").WithFields(logrus.Fields{
		"poll_interval": s.opts.PollInterval,
		"cooldown":      s.opts.Cooldown,
	}).Info("Capture loop started")
	return nil
}

// Shutdown stops the loop and waits, bounded, for it and any in-flight
// capture to finish.
func (s *Service) Shutdown(ctx context.Context) error {
	s.runMu.Lock()
	if !s.started {
		s.runMu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	cancel()

	waitCtx, stop := context.WithTimeout(ctx, s.opts.ShutdownWait)
	defer stop()

	var errs []error
	select {
	case <-done:
	case <-waitCtx.Done():
		errs = append(errs, fmt.Errorf("capture loop did not exit: %w", waitCtx.Err()))
	}
	if err := s.executor.Close(waitCtx); err != nil {
		errs = append(errs, fmt.Errorf("capture executor did not drain: %w", err))
	}

	logger.WithComponent("capture").Info("Capture loop stopped")
	return errors.Join(errs...)
}

// Enable starts watching the stream from Unstable with a fresh reference
func (s *Service) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apply(EnableEvent{})
	s.enabled.Store(true)
	s.clearPending()
	logger.WithComponent("capture").Info("Auto capture enabled")
}

// Disable stops triggering immediately. A capture already running completes
// and is delivered, but no longer moves the state.
func (s *Service) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled.Store(false)
	s.apply(DisableEvent{})
	s.clearPending()
	logger.WithComponent("capture").Info("Auto capture disabled")
}

// Enabled reports whether frames are being accepted
func (s *Service) Enabled() bool {
	return s.enabled.Load()
}

// State returns the current capture state
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.State
}

// SubmitFrame places f into the pending slot, replacing any frame not yet
// picked up. It never blocks. Ownership of f passes to the service; the
// caller must not modify it afterwards. Frames are ignored while disabled.
func (s *Service) SubmitFrame(f *frame.Frame) bool {
	if f == nil || !s.enabled.Load() {
		return false
	}
	f.Seq = s.seq.Add(1)
	s.framesSeen.Add(1)

	s.slotMu.Lock()
	if s.pending != nil {
		s.framesDropped.Add(1)
	}
	s.pending = f
	s.slotMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// RemoveDuplicateBarcode unblocks code in the dedup cache
func (s *Service) RemoveDuplicateBarcode(code string) bool {
	removed := s.processor.RemoveDuplicateBarcode(code)
	logger.WithComponent("capture").WithFields(logrus.Fields{
		"code":    code,
		"removed": removed,
	}).Info("Duplicate barcode entry removed")
	return removed
}

// Stats returns a snapshot of the counters
func (s *Service) Stats() Stats {
	return Stats{
		State:         s.State(),
		Enabled:       s.enabled.Load(),
		FramesSeen:    s.framesSeen.Load(),
		FramesDropped: s.framesDropped.Load(),
		Triggers:      s.triggers.Load(),
		InFlight:      s.executor.Busy(),
		TrackedCodes:  s.processor.TrackedCodes(),
		Executor:      s.executor.Stats(),
	}
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-ticker.C:
		}

		if f := s.takePending(); f != nil {
			s.safeHandleFrame(f)
		}
	}
}

func (s *Service) takePending() *frame.Frame {
	s.slotMu.Lock()
	defer s.slotMu.Unlock()
	f := s.pending
	s.pending = nil
	return f
}

func (s *Service) clearPending() {
	s.slotMu.Lock()
	s.pending = nil
	s.slotMu.Unlock()
}

func (s *Service) safeHandleFrame(f *frame.Frame) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("capture").WithFields(logrus.Fields{
				"panic": r,
				"seq":   f.Seq,
			}).Error("Frame evaluation panicked")
		}
	}()
	s.handleFrame(f)
}

// handleFrame evaluates one frame. The loop owns f for the duration of the
// call; a trigger takes its own copy.
func (s *Service) handleFrame(f *frame.Frame) {
	if err := f.Validate(); err != nil {
		logger.WithComponent("capture").WithError(err).Debug("Skipping invalid frame")
		return
	}

	s.mu.Lock()
	// Processing is inert; the reference must survive until the result lands
	if s.machine.State == StateDisabled || s.machine.State == StateProcessing {
		s.mu.Unlock()
		return
	}

	now := s.now()
	changing := s.detector.IsChanging(f)
	effect := s.apply(FrameEvent{Changing: changing, At: now})

	logger.WithComponent("capture").WithFields(logrus.Fields{
		"seq":      f.Seq,
		"changing": changing,
		"state":    s.machine.State.String(),
		"stable":   s.machine.StableCount,
	}).Debug("Frame evaluated")

	var snapshot *frame.Frame
	epoch := s.machine.Epoch
	switch effect {
	case EffectConfirmReference:
		s.detector.ConfirmStable(f)
	case EffectTrigger:
		snapshot = f.Clone()
		s.triggers.Add(1)
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.dispatch(snapshot, epoch, now)
	}
}

// apply runs one transition; callers hold mu
func (s *Service) apply(ev Event) Effect {
	prev := s.machine
	next, effect := Transition(prev, ev, s.opts)
	s.machine = next

	if effect == EffectResetDetector {
		s.detector.Reset()
	}
	if prev.State != next.State {
		logger.WithComponent("capture").WithFields(logrus.Fields{
			"from": prev.State.String(),
			"to":   next.State.String(),
		}).Info("Capture state changed")
		if s.onTransition != nil {
			s.onTransition(prev.State, next.State)
		}
	}
	return effect
}

func (s *Service) dispatch(snapshot *frame.Frame, epoch uint64, triggeredAt time.Time) {
	attemptID := uuid.NewString()
	log := logger.WithComponent("capture").WithFields(logrus.Fields{
		"attempt_id": attemptID,
		"seq":        snapshot.Seq,
	})
	log.Info("Capture triggered")

	accepted := s.executor.Submit(func() {
		start := time.Now()
		result := s.process(snapshot)
		result.AttemptID = attemptID
		result.TriggeredAt = triggeredAt
		result.ProcessingTime = time.Since(start)

		s.complete(result, epoch)
		s.deliver(result)
	})
	if !accepted {
		log.Warn("Capture executor rejected the job")
		result := models.Failure("capture executor unavailable")
		result.ErrorType = string(apperrors.ErrorTypeUnexpected)
		result.AttemptID = attemptID
		result.TriggeredAt = triggeredAt
		s.complete(result, epoch)
		s.deliver(result)
	}
}

func (s *Service) process(snapshot *frame.Frame) (result models.CaptureResult) {
	defer func() {
		if r := recover(); r != nil {
			err := apperrors.NewUnexpectedError("capture processor panicked", fmt.Errorf("%v", r))
			result = models.Failure(err.Error())
			result.ErrorType = string(err.Type)
		}
	}()
	return s.processor.ProcessFrame(context.Background(), snapshot)
}

func (s *Service) complete(result models.CaptureResult, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(CompletedEvent{Kind: result.Kind, Epoch: epoch})
}

func (s *Service) deliver(result models.CaptureResult) {
	if s.onResult == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.WithComponent("capture").WithFields(logrus.Fields{
				"panic":      r,
				"attempt_id": result.AttemptID,
			}).Error("Result handler panicked")
		}
	}()
	s.onResult(result)
}
