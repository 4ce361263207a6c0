package capability

import (
	"context"
	"errors"
	"strings"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.CapabilityProvider = CommandProvider{}

// CommandProvider acknowledges generic commands. It never executes anything
// on the host.
type CommandProvider struct{}

type CommandOutput struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Status  string   `json:"status"`
}

func (CommandProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	if req.Capability != model.CapabilityCommand {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("command: unsupported capability"))
	}
	if err := ctx.Err(); err != nil {
		return adapter.CapabilityResult{}, adapter.Transient(err)
	}
	in, err := adapter.DecodeInput[adapter.CommandRequest](req.Input)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	in.Command = strings.TrimSpace(in.Command)
	if in.Command == "" {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("command is required"))
	}
	out, err := adapter.EncodeOutput(CommandOutput{Command: in.Command, Args: in.Args, Status: "acknowledged"})
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	return adapter.CapabilityResult{Output: out, Backend: "builtin"}, nil
}
