package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.CapabilityProvider = LocalPlanProvider{}

// LocalPlanProvider drafts a plan skeleton from the topic alone. It needs no
// backend and is the last link of the plan chain.
type LocalPlanProvider struct{}

type PlanOutput struct {
	Topic      string   `json:"topic"`
	Mission    string   `json:"mission,omitempty"`
	Vision     string   `json:"vision,omitempty"`
	Milestones []string `json:"milestones,omitempty"`
	Text       string   `json:"text,omitempty"`
	Model      string   `json:"model,omitempty"`
}

func (LocalPlanProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	in, err := decodePlan(req)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	topic := in.Topic
	if topic == "" {
		topic = in.Prompt
	}
	out, err := adapter.EncodeOutput(PlanOutput{
		Topic:   topic,
		Mission: fmt.Sprintf("Build %s", topic),
		Vision:  fmt.Sprintf("Become the reference for %s", topic),
		Milestones: []string{
			"Validate the problem with ten target customers",
			"Ship a minimum viable product",
			"Reach the first paying customers",
			"Set up repeatable acquisition",
		},
	})
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	return adapter.CapabilityResult{Output: out, Backend: "template"}, nil
}

func decodePlan(req adapter.CapabilityRequest) (adapter.PlanRequest, error) {
	if req.Capability != model.CapabilityPlan {
		return adapter.PlanRequest{}, adapter.Permanent(fmt.Errorf("plan provider: unsupported capability %q", req.Capability))
	}
	in, err := adapter.DecodeInput[adapter.PlanRequest](req.Input)
	if err != nil {
		return in, err
	}
	in.Prompt = strings.TrimSpace(in.Prompt)
	in.Topic = strings.TrimSpace(in.Topic)
	if in.Prompt == "" && in.Topic == "" {
		return in, adapter.Permanent(errors.New("plan prompt is required"))
	}
	return in, nil
}

const planInstruction = "You are a startup planning assistant. Write a concise, structured plan " +
	"with a mission, a vision and four to six concrete milestones."

func planPrompt(in adapter.PlanRequest) string {
	if in.Topic != "" && in.Topic != in.Prompt {
		return fmt.Sprintf("%s\n\nTopic: %s", in.Prompt, in.Topic)
	}
	return in.Prompt
}
