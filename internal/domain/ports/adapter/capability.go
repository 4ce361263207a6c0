package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"task-orchestrator/internal/domain/model"
)

var (
	// ErrTransient marks failures worth another attempt (timeouts, transport
	// errors, overloaded or unreachable backends).
	ErrTransient = errors.New("transient capability error")
	// ErrPermanent marks failures that will not go away on retry.
	ErrPermanent = errors.New("permanent capability error")
)

// Transient wraps err so IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err so IsTransient reports false.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsTransient classifies an error returned by a provider. Unclassified
// timeouts and network errors count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// CapabilityRequest is the envelope every provider receives. Input is decoded
// into the capability's typed request with DecodeInput.
type CapabilityRequest struct {
	Capability model.Capability `json:"capability"`
	RunID      string           `json:"runId,omitempty"`
	StepIndex  int              `json:"stepIndex"`
	Input      map[string]any   `json:"input"`
}

// CapabilityResult is what a provider produced. Fallback is set when the
// output came from a fallback path instead of the primary backend.
type CapabilityResult struct {
	Output   json.RawMessage `json:"output"`
	Fallback bool            `json:"fallback,omitempty"`
	Backend  string          `json:"backend,omitempty"`
}

// CapabilityProvider is the port for one capability backend. Implementations
// must honour ctx cancellation and classify errors with Transient/Permanent.
type CapabilityProvider interface {
	Invoke(ctx context.Context, req CapabilityRequest) (CapabilityResult, error)
}

// CapabilityRegistry resolves the provider serving a capability.
type CapabilityRegistry interface {
	Lookup(c model.Capability) (CapabilityProvider, bool)
}

// Typed requests per capability.

type PlanRequest struct {
	Prompt string `json:"prompt"`
	Topic  string `json:"topic,omitempty"`
}

type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type ImageRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type VideoRequest struct {
	Prompt          string `json:"prompt"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	FPS             int    `json:"fps,omitempty"`
	Width           int    `json:"width,omitempty"`
	Height          int    `json:"height,omitempty"`
}

type CommandRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// DecodeInput converts a step's loosely typed input into the typed request T.
// Decoding failures are permanent: retrying the same input cannot help.
func DecodeInput[T any](input map[string]any) (T, error) {
	var out T
	b, err := json.Marshal(input)
	if err != nil {
		return out, Permanent(fmt.Errorf("encode input: %w", err))
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, Permanent(fmt.Errorf("decode input: %w", err))
	}
	return out, nil
}

// EncodeOutput marshals a provider's typed response into a result payload.
func EncodeOutput(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, Permanent(fmt.Errorf("encode output: %w", err))
	}
	return b, nil
}
