package usecase

import (
	"math"

	"task-orchestrator/internal/domain/model"
)

const (
	stepWeight   = 0.7
	intentWeight = 0.3
	// a fallback output counts for less than a genuine one
	fallbackScore = 0.6
)

// Verifier scores a finished plan. Status itself is derived by
// model.DeriveStatus; the verifier only settles the run state and confidence.
type Verifier struct{}

func NewVerifier() *Verifier { return &Verifier{} }

func (v *Verifier) Verify(steps []model.PlanStep, d model.Diagnostics, intent *model.Intent) model.Verification {
	if len(steps) == 0 {
		return model.Verification{}
	}
	var score float64
	for _, s := range steps {
		switch {
		case s.Status == model.StepStatusSucceeded && s.Fallback:
			score += fallbackScore
		case s.Status == model.StepStatusSucceeded:
			score += 1
		}
	}
	score /= float64(len(steps))

	ic := 0.0
	if intent != nil {
		ic = intent.Confidence
	}
	c := stepWeight*score + intentWeight*ic
	if d.Degraded && c > 0.9 {
		c = 0.9
	}
	return model.Verification{Confidence: math.Max(0, math.Min(1, math.Round(c*1000)/1000))}
}

// SettledState picks the terminal run state for a plan that ran to the end.
// A failed required step is decided by the executor before this point.
func (v *Verifier) SettledState(steps []model.PlanStep, d model.Diagnostics) model.RunState {
	for _, s := range steps {
		if s.Required && s.Status == model.StepStatusFailed {
			return model.RunStateFailed
		}
	}
	if d.Degraded && len(d.Failures) == 0 {
		return model.RunStateDegraded
	}
	return model.RunStateSucceeded
}
