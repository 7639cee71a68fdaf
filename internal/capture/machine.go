package capture

import (
	"fmt"
	"time"

	"go-receipt-capture/pkg/models"
)

// State is the capture state of one pipeline instance
type State int

const (
	StateDisabled State = iota
	StateUnstable
	StateReady
	StateProcessing
	StateProcessed
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateUnstable:
		return "unstable"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateProcessed:
		return "processed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Effect is the side effect the runtime performs after a transition
type Effect int

const (
	EffectNone Effect = iota
	// Reset the change detector and drop any pending frame
	EffectResetDetector
	// Store the current frame as the detector reference
	EffectConfirmReference
	// Clone the current frame and dispatch it to the capture pipeline
	EffectTrigger
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "none"
	case EffectResetDetector:
		return "reset_detector"
	case EffectConfirmReference:
		return "confirm_reference"
	case EffectTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Event is an input to Transition
type Event interface {
	isEvent()
}

// EnableEvent starts watching the stream
type EnableEvent struct{}

// DisableEvent stops watching the stream
type DisableEvent struct{}

// FrameEvent is one evaluated frame
type FrameEvent struct {
	Changing bool
	At       time.Time
}

// CompletedEvent reports a finished pipeline run started in Epoch
type CompletedEvent struct {
	Kind  models.ResultKind
	Epoch uint64
}

func (EnableEvent) isEvent()    {}
func (DisableEvent) isEvent()   {}
func (FrameEvent) isEvent()     {}
func (CompletedEvent) isEvent() {}

// Machine is the complete, copyable state of the capture state machine
type Machine struct {
	State State
	// Bumped on every enable and disable; completions from older epochs are stale
	Epoch         uint64
	StableCount   int
	ChangingSince time.Time
	LastTrigger   time.Time
	// Set once the first frame after enable has been taken as reference
	Bootstrapped bool
}

// Transition applies ev to m and returns the next machine and the effect to
// perform. It has no side effects of its own.
func Transition(m Machine, ev Event, opts Options) (Machine, Effect) {
	switch e := ev.(type) {
	case EnableEvent:
		return Machine{
			State:       StateUnstable,
			Epoch:       m.Epoch + 1,
			LastTrigger: m.LastTrigger,
		}, EffectResetDetector

	case DisableEvent:
		return Machine{
			State:       StateDisabled,
			Epoch:       m.Epoch + 1,
			LastTrigger: m.LastTrigger,
		}, EffectNone

	case CompletedEvent:
		if m.State != StateProcessing || e.Epoch != m.Epoch {
			return m, EffectNone
		}
		m.StableCount = 0
		if e.Kind == models.ResultSuccess || e.Kind == models.ResultDuplicate {
			m.State = StateProcessed
		} else {
			m.State = StateUnstable
		}
		return m, EffectNone

	case FrameEvent:
		switch m.State {
		case StateUnstable:
			return onUnstable(m, e, opts)
		case StateReady:
			return onReady(m, e, opts)
		case StateProcessed:
			if e.Changing {
				return toUnstable(m), EffectNone
			}
		}
		// Disabled and Processing ignore frames
		return m, EffectNone
	}
	return m, EffectNone
}

func onUnstable(m Machine, e FrameEvent, opts Options) (Machine, Effect) {
	if !m.Bootstrapped {
		m.Bootstrapped = true
		m.State = StateReady
		m.StableCount = 0
		m.ChangingSince = time.Time{}
		return m, EffectConfirmReference
	}

	if !e.Changing {
		m.ChangingSince = time.Time{}
		m.StableCount++
		if m.StableCount >= opts.EnterReadyThreshold {
			m.State = StateReady
			m.StableCount = 0
			return m, EffectConfirmReference
		}
		return m, EffectNone
	}

	if m.ChangingSince.IsZero() {
		m.ChangingSince = e.At
	}
	if e.At.Sub(m.ChangingSince) > opts.ChangingTimeout {
		m.ChangingSince = time.Time{}
		m.StableCount = 0
		m.State = StateReady
		return m, EffectConfirmReference
	}
	m.StableCount = 0
	return m, EffectNone
}

func onReady(m Machine, e FrameEvent, opts Options) (Machine, Effect) {
	if e.Changing {
		return toUnstable(m), EffectNone
	}

	m.StableCount++
	if m.StableCount < opts.StableFrameThreshold {
		return m, EffectNone
	}

	if !m.LastTrigger.IsZero() && e.At.Sub(m.LastTrigger) < opts.Cooldown {
		return toUnstable(m), EffectNone
	}
	m.State = StateProcessing
	m.LastTrigger = e.At
	m.StableCount = 0
	return m, EffectTrigger
}

func toUnstable(m Machine) Machine {
	m.State = StateUnstable
	m.StableCount = 0
	return m
}
