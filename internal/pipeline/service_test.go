package pipeline

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"go-receipt-capture/internal/barcode"
	"go-receipt-capture/internal/capture"
	"go-receipt-capture/internal/dedup"
	"go-receipt-capture/internal/frame"
	"go-receipt-capture/internal/rectify"
	"go-receipt-capture/pkg/models"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type transitionLog struct {
	mu    sync.Mutex
	steps []string
}

func (l *transitionLog) record(from, to capture.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, from.String()+"->"+to.String())
}

func (l *transitionLog) Steps() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.steps...)
}

func awaitState(t *testing.T, s *capture.Service, expected capture.State) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == expected {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected state %s, got %s", expected, s.State())
}

// settle gives the service loop time to evaluate a frame that causes no transition
func settle() {
	time.Sleep(100 * time.Millisecond)
}

func TestService_CapturesSheetOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "captures")
	p := New(rectify.New(rectify.DefaultOptions()), barcode.NewDecoder(),
		dedup.New(5*time.Minute), DefaultOptions().WithOutputDir(dir))

	clock := &manualClock{now: time.Date(2024, 9, 17, 9, 0, 0, 0, time.UTC)}
	transitions := &transitionLog{}
	results := make(chan models.CaptureResult, 4)

	s := capture.NewService(p, capture.DefaultOptions(),
		capture.WithClock(clock.Now),
		capture.WithTransitionHandler(transitions.record),
		capture.WithResultHandler(func(res models.CaptureResult) { results <- res }),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Expected service to start, got %v", err)
	}
	defer s.Shutdown(context.Background())

	desk := frame.FromImage(imaging.New(1600, 1200, color.NRGBA{R: 60, G: 55, B: 50, A: 255}))
	page := labelledDesk(t, "SF20240917")

	s.Enable()
	awaitState(t, s, capture.StateUnstable)

	// empty desk becomes the reference
	s.SubmitFrame(desk.Clone())
	awaitState(t, s, capture.StateReady)

	// sheet placed
	s.SubmitFrame(page.Clone())
	awaitState(t, s, capture.StateUnstable)
	s.SubmitFrame(page.Clone())
	settle()

	// still different from the desk after the changing timeout
	clock.Advance(3100 * time.Millisecond)
	s.SubmitFrame(page.Clone())
	awaitState(t, s, capture.StateReady)

	s.SubmitFrame(page.Clone())
	settle()
	s.SubmitFrame(page.Clone())

	select {
	case res := <-results:
		if !res.IsSuccess() || res.Code != "SF20240917" {
			t.Fatalf("Expected success for SF20240917, got %+v", res)
		}
		if res.AttemptID == "" {
			t.Error("Expected an attempt ID")
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Timed out waiting for capture, transitions: %v", transitions.Steps())
	}
	awaitState(t, s, capture.StateProcessed)

	// the sheet stays put: no second capture
	for i := 0; i < 3; i++ {
		clock.Advance(2 * time.Second)
		s.SubmitFrame(page.Clone())
		settle()
	}
	select {
	case res := <-results:
		t.Errorf("Expected exactly one result, got another: %+v", res)
	default:
	}

	expected := []string{
		"disabled->unstable",
		"unstable->ready",
		"ready->unstable",
		"unstable->ready",
		"ready->processing",
		"processing->processed",
	}
	steps := transitions.Steps()
	if len(steps) != len(expected) {
		t.Fatalf("Expected transitions %v, got %v", expected, steps)
	}
	for i := range expected {
		if steps[i] != expected[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, expected[i], steps[i])
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Expected output directory: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "SF20240917.jpg" {
		t.Errorf("Expected only SF20240917.jpg, got %v", entries)
	}
}
