package model

import (
	"fmt"

	"task-orchestrator/internal/domain"
)

var allowedRunTransitions = map[RunState]map[RunState]struct{}{
	RunStatePlanned: {
		RunStateRunning:  {},
		RunStateRetrying: {},
		RunStateFailed:   {},
	},
	RunStateRunning: {
		RunStatePaused:    {},
		RunStateRetrying:  {},
		RunStateSucceeded: {},
		RunStateFailed:    {},
		RunStateDegraded:  {},
	},
	RunStatePaused: {
		RunStateRunning:  {},
		RunStateRetrying: {},
		// a required step that was in flight when the pause landed
		RunStateFailed: {},
	},
	RunStateRetrying: {
		RunStateRunning: {},
		RunStateFailed:  {},
	},
	// Settled runs with failed steps may be reopened by an explicit retry.
	RunStateSucceeded: {RunStateRetrying: {}},
	RunStateDegraded:  {RunStateRetrying: {}},
	RunStateFailed:    {RunStateRetrying: {}},
	RunStateNoMatch:   {},
}

func ValidateRunState(state RunState) error {
	if _, ok := allowedRunTransitions[state]; !ok {
		return fmt.Errorf("%w: unknown run state %q", domain.ErrInvalidTransition, state)
	}
	return nil
}

func ValidateRunTransition(from, to RunState) error {
	if err := ValidateRunState(from); err != nil {
		return err
	}
	if err := ValidateRunState(to); err != nil {
		return err
	}
	if _, ok := allowedRunTransitions[from][to]; !ok {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}

// IsSettled reports whether a run has finished executing its plan (or never
// will). Settled runs are never swept by the watchdog.
func (s RunState) IsSettled() bool {
	switch s {
	case RunStateSucceeded, RunStateFailed, RunStateDegraded, RunStateNoMatch:
		return true
	}
	return false
}

// IsStallable reports whether a run in this state is expected to make
// progress on its own.
func (s RunState) IsStallable() bool {
	switch s {
	case RunStatePlanned, RunStateRunning, RunStateRetrying:
		return true
	}
	return false
}
