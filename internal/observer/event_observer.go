package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"go-receipt-capture/internal/logger"
	"go-receipt-capture/pkg/models"
)

// CaptureEvent represents a capture outcome or a state change
type CaptureEvent struct {
	EventType      EventType     `json:"event_type"`
	Timestamp      time.Time     `json:"timestamp"`
	AttemptID      string        `json:"attempt_id,omitempty"`
	Code           string        `json:"code,omitempty"`
	FilePath       string        `json:"file_path,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	ErrorType      string        `json:"error_type,omitempty"`
	QualityIssues  []string      `json:"quality_issues,omitempty"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`
	FromState      string        `json:"from_state,omitempty"`
	ToState        string        `json:"to_state,omitempty"`
}

// EventType represents the type of capture event
type EventType string

const (
	// CaptureSucceeded when a new code was read and saved
	CaptureSucceeded EventType = "capture_succeeded"
	// CaptureDuplicate when the code was seen within the dedup window
	CaptureDuplicate EventType = "capture_duplicate"
	// CaptureFailed when no code could be produced
	CaptureFailed EventType = "capture_failed"
	// StateChanged when the capture state machine moves
	StateChanged EventType = "state_changed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event CaptureEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event CaptureEvent)
}

// EventFromResult maps a capture result onto its event
func EventFromResult(res models.CaptureResult) CaptureEvent {
	ev := CaptureEvent{
		Timestamp:      time.Now(),
		AttemptID:      res.AttemptID,
		Code:           res.Code,
		FilePath:       res.FilePath,
		Reason:         res.Reason,
		ErrorType:      res.ErrorType,
		QualityIssues:  res.QualityIssues,
		ProcessingTime: res.ProcessingTime,
	}
	switch res.Kind {
	case models.ResultSuccess:
		ev.EventType = CaptureSucceeded
	case models.ResultDuplicate:
		ev.EventType = CaptureDuplicate
	default:
		ev.EventType = CaptureFailed
	}
	return ev
}

// StateChangedEvent builds a state_changed event
func StateChangedEvent(from, to string) CaptureEvent {
	return CaptureEvent{
		EventType: StateChanged,
		Timestamp: time.Now(),
		FromState: from,
		ToState:   to,
	}
}

// ResultSink adapts a publisher to the capture result callback
func ResultSink(ctx context.Context, subject Subject) func(models.CaptureResult) {
	return func(res models.CaptureResult) {
		subject.NotifyObservers(ctx, EventFromResult(res))
	}
}

// LoggingObserver logs capture events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) *LoggingObserver {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles capture events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event CaptureEvent) {
	fields := logrus.Fields{
		"component":  "observer",
		"event_type": event.EventType,
	}
	if event.AttemptID != "" {
		fields["attempt_id"] = event.AttemptID
	}
	if event.Code != "" {
		fields["code"] = event.Code
	}
	if event.ProcessingTime > 0 {
		fields["processing_time"] = event.ProcessingTime.String()
	}

	switch event.EventType {
	case CaptureSucceeded:
		fields["file_path"] = event.FilePath
		if len(event.QualityIssues) > 0 {
			fields["quality_issues"] = event.QualityIssues
		}
		o.logger.WithFields(fields).Info("Sheet captured")
	case CaptureDuplicate:
		o.logger.WithFields(fields).Info("Sheet already captured")
	case CaptureFailed:
		fields["reason"] = event.Reason
		if event.ErrorType != "" {
			fields["error_type"] = event.ErrorType
		}
		o.logger.WithFields(fields).Warn("Capture failed")
	case StateChanged:
		fields["from"] = event.FromState
		fields["to"] = event.ToState
		o.logger.WithFields(fields).Debug("Capture state changed")
	default:
		o.logger.WithFields(fields).Info("Capture event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	wg        sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event without blocking the caller
func (p *EventPublisher) NotifyObservers(ctx context.Context, event CaptureEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		p.wg.Add(1)
		go func(obs Observer) {
			defer p.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.WithComponent("observer").
						WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Wait blocks until in-flight notifications finish or ctx is done
func (p *EventPublisher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
