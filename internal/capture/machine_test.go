package capture

import (
	"testing"
	"time"

	"go-receipt-capture/pkg/models"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func stable(ms int) FrameEvent   { return FrameEvent{Changing: false, At: at(ms)} }
func changing(ms int) FrameEvent { return FrameEvent{Changing: true, At: at(ms)} }

// run feeds events and returns the final machine plus every effect
func run(m Machine, opts Options, events ...Event) (Machine, []Effect) {
	var effects []Effect
	for _, ev := range events {
		var eff Effect
		m, eff = Transition(m, ev, opts)
		effects = append(effects, eff)
	}
	return m, effects
}

func countEffect(effects []Effect, target Effect) int {
	n := 0
	for _, e := range effects {
		if e == target {
			n++
		}
	}
	return n
}

func TestTransition_EnableFromDisabled(t *testing.T) {
	m, eff := Transition(Machine{}, EnableEvent{}, DefaultOptions())
	if m.State != StateUnstable {
		t.Errorf("Expected unstable, got %s", m.State)
	}
	if eff != EffectResetDetector {
		t.Errorf("Expected detector reset, got %s", eff)
	}
	if m.Epoch != 1 {
		t.Errorf("Expected epoch 1, got %d", m.Epoch)
	}
}

func TestTransition_DisabledIgnoresFrames(t *testing.T) {
	m, eff := Transition(Machine{}, stable(0), DefaultOptions())
	if m.State != StateDisabled || eff != EffectNone {
		t.Errorf("Expected disabled/none, got %s/%s", m.State, eff)
	}
}

func TestTransition_BootstrapOneFrame(t *testing.T) {
	opts := DefaultOptions()
	m, _ := Transition(Machine{}, EnableEvent{}, opts)

	// Even a changing first frame bootstraps straight to Ready
	for _, ev := range []FrameEvent{stable(0), changing(0)} {
		next, eff := Transition(m, ev, opts)
		if next.State != StateReady {
			t.Errorf("Expected ready after one frame, got %s", next.State)
		}
		if eff != EffectConfirmReference {
			t.Errorf("Expected reference confirmation, got %s", eff)
		}
	}
}

func TestTransition_TriggerAfterStableFrames(t *testing.T) {
	opts := DefaultOptions()
	m, effects := run(Machine{}, opts,
		EnableEvent{},
		stable(0),  // bootstrap -> Ready
		stable(16), // stable 1
		stable(32), // stable 2 -> trigger
		stable(48), // inert
		stable(64), // inert
	)

	if m.State != StateProcessing {
		t.Fatalf("Expected processing, got %s", m.State)
	}
	if n := countEffect(effects, EffectTrigger); n != 1 {
		t.Errorf("Expected exactly one trigger, got %d", n)
	}
	if !m.LastTrigger.Equal(at(32)) {
		t.Errorf("Expected trigger time %v, got %v", at(32), m.LastTrigger)
	}
}

func TestTransition_CooldownSuppressesTrigger(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), stable(10), stable(20))
	if m.State != StateProcessing {
		t.Fatalf("Expected processing, got %s", m.State)
	}
	m, _ = Transition(m, CompletedEvent{Kind: models.ResultFailure, Epoch: m.Epoch}, opts)
	if m.State != StateUnstable {
		t.Fatalf("Expected unstable after failure, got %s", m.State)
	}

	// Unstable -> Ready -> two stable frames, all inside 1200ms of the trigger
	m, effects := run(m, opts, stable(100), stable(200), stable(300))
	if countEffect(effects, EffectTrigger) != 0 {
		t.Error("Expected trigger inside cooldown to be suppressed")
	}
	if m.State != StateUnstable {
		t.Errorf("Expected suppressed trigger to return to unstable, got %s", m.State)
	}

	// After the cooldown the same cycle triggers again
	m, effects = run(m, opts, stable(1300), stable(1400), stable(1500))
	if countEffect(effects, EffectTrigger) != 1 || m.State != StateProcessing {
		t.Errorf("Expected a trigger after cooldown, got state %s effects %v", m.State, effects)
	}
}

func TestTransition_ReadyDisturbed(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), stable(10))
	if m.StableCount != 1 {
		t.Fatalf("Expected stable count 1, got %d", m.StableCount)
	}

	m, _ = Transition(m, changing(20), opts)
	if m.State != StateUnstable || m.StableCount != 0 {
		t.Errorf("Expected unstable with cleared counter, got %s/%d", m.State, m.StableCount)
	}
}

func TestTransition_UnstableStableFrameEntersReady(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), changing(10))

	m, eff := Transition(m, stable(20), opts)
	if m.State != StateReady || eff != EffectConfirmReference {
		t.Errorf("Expected ready with confirmation, got %s/%s", m.State, eff)
	}
}

func TestTransition_ChangingTimeout(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), changing(100))
	if m.State != StateUnstable {
		t.Fatalf("Expected unstable, got %s", m.State)
	}

	m, effects := run(m, opts, changing(200), changing(1500), changing(3100))
	if m.State != StateUnstable || countEffect(effects, EffectConfirmReference) != 0 {
		t.Fatalf("Expected to stay unstable up to the timeout, got %s", m.State)
	}
	if !m.ChangingSince.Equal(at(200)) {
		t.Errorf("Expected changing timer to start at the first unstable change, got %v", m.ChangingSince)
	}

	m, eff := Transition(m, changing(3201), opts)
	if m.State != StateReady || eff != EffectConfirmReference {
		t.Errorf("Expected timeout to re-baseline into ready, got %s/%s", m.State, eff)
	}
	if !m.ChangingSince.IsZero() {
		t.Error("Expected changing timer to be cleared")
	}
}

func TestTransition_StableFrameClearsChangingTimer(t *testing.T) {
	opts := DefaultOptions().WithThresholds(3, 2)
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), changing(10), changing(20))
	m, _ = Transition(m, stable(30), opts)

	if !m.ChangingSince.IsZero() {
		t.Error("Expected a stable frame to clear the changing timer")
	}
	if m.State != StateUnstable || m.StableCount != 1 {
		t.Errorf("Expected unstable with count 1, got %s/%d", m.State, m.StableCount)
	}
}

func TestTransition_Completion(t *testing.T) {
	tests := []struct {
		kind     models.ResultKind
		expected State
	}{
		{models.ResultSuccess, StateProcessed},
		{models.ResultDuplicate, StateProcessed},
		{models.ResultFailure, StateUnstable},
	}

	opts := DefaultOptions()
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), stable(10), stable(20))
			m, _ = Transition(m, CompletedEvent{Kind: tt.kind, Epoch: m.Epoch}, opts)
			if m.State != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, m.State)
			}
		})
	}
}

func TestTransition_StaleCompletionIgnored(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), stable(10), stable(20))
	epoch := m.Epoch

	// Disabled while in flight
	disabled, _ := Transition(m, DisableEvent{}, opts)
	after, _ := Transition(disabled, CompletedEvent{Kind: models.ResultSuccess, Epoch: epoch}, opts)
	if after.State != StateDisabled {
		t.Errorf("Expected completion after disable to be ignored, got %s", after.State)
	}

	// Disabled, re-enabled and already processing a newer trigger
	m2, _ := run(disabled, opts, EnableEvent{}, stable(2000), stable(2100), stable(2200))
	if m2.State != StateProcessing {
		t.Fatalf("Expected a new trigger, got %s", m2.State)
	}
	after, _ = Transition(m2, CompletedEvent{Kind: models.ResultSuccess, Epoch: epoch}, opts)
	if after.State != StateProcessing {
		t.Errorf("Expected stale completion to leave the new attempt alone, got %s", after.State)
	}
}

func TestTransition_ProcessedWaitsForChange(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), stable(10), stable(20))
	m, _ = Transition(m, CompletedEvent{Kind: models.ResultSuccess, Epoch: m.Epoch}, opts)

	m, effects := run(m, opts, stable(5000), stable(5100), stable(5200))
	if m.State != StateProcessed || countEffect(effects, EffectNone) != 3 {
		t.Errorf("Expected processed to ignore stable frames, got %s", m.State)
	}

	m, _ = Transition(m, changing(5300), opts)
	if m.State != StateUnstable {
		t.Errorf("Expected change to leave processed, got %s", m.State)
	}
}

func TestTransition_DisableClearsCountersKeepsLastTrigger(t *testing.T) {
	opts := DefaultOptions()
	m, _ := run(Machine{}, opts, EnableEvent{}, stable(0), stable(10), stable(20))
	m, _ = Transition(m, DisableEvent{}, opts)

	if m.State != StateDisabled || m.StableCount != 0 || m.Bootstrapped {
		t.Errorf("Expected reset machine, got %+v", m)
	}
	if !m.LastTrigger.Equal(at(20)) {
		t.Error("Expected last trigger to survive disable for cooldown")
	}
}

func TestStateString(t *testing.T) {
	names := map[State]string{
		StateDisabled:   "disabled",
		StateUnstable:   "unstable",
		StateReady:      "ready",
		StateProcessing: "processing",
		StateProcessed:  "processed",
	}
	for s, name := range names {
		if s.String() != name {
			t.Errorf("Expected %q, got %q", name, s.String())
		}
	}
}
