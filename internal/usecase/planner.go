package usecase

import (
	"fmt"
	"strings"

	"task-orchestrator/internal/domain/model"
)

type PlanOptions struct {
	DryRun  bool
	Context map[string]string
}

// Planner expands an intent into plan steps. It never calls a capability.
type Planner struct{}

func NewPlanner() *Planner { return &Planner{} }

// Plan returns the ordered steps for intent. Unknown labels fall back to a
// single generic command step so a resolved intent always yields a plan.
func (p *Planner) Plan(intent model.Intent, task string, opts PlanOptions) []model.PlanStep {
	task = strings.TrimSpace(task)
	topic := ctxOr(opts.Context, "topic", extractTopic(task))

	var steps []model.PlanStep
	switch intent.Label {
	case IntentPlan:
		steps = []model.PlanStep{
			newStep(model.CapabilitySearch, false, map[string]any{"query": topic, "limit": 5}),
			newStep(model.CapabilityPlan, true, map[string]any{"prompt": task, "topic": topic}),
		}
	case IntentImage:
		style := ctxOr(opts.Context, "style", detectStyle(task))
		steps = []model.PlanStep{
			newStep(model.CapabilityImage, true, map[string]any{
				"prompt": EnhancePrompt(task, style),
				"style":  style,
				"width":  1024,
				"height": 1024,
			}),
		}
	case IntentVideo:
		steps = []model.PlanStep{
			newStep(model.CapabilityImage, false, map[string]any{
				"prompt": EnhancePrompt("storyboard frame for "+topic, "hero"),
				"style":  "hero",
				"width":  1280,
				"height": 720,
			}),
			newStep(model.CapabilityVideo, true, map[string]any{
				"prompt":          task,
				"durationSeconds": 8,
				"fps":             24,
				"width":           1280,
				"height":          720,
			}),
		}
	case IntentResearch:
		steps = []model.PlanStep{
			newStep(model.CapabilitySearch, true, map[string]any{"query": topic, "limit": 8}),
		}
	default:
		steps = []model.PlanStep{
			newStep(model.CapabilityCommand, true, map[string]any{"command": task}),
		}
	}
	for i := range steps {
		steps[i].Index = i
	}
	return steps
}

func newStep(c model.Capability, required bool, input map[string]any) model.PlanStep {
	return model.PlanStep{Capability: c, Required: required, Input: input, Status: model.StepStatusPending}
}

// EnhancePrompt decorates an image prompt for a known style.
func EnhancePrompt(prompt, style string) string {
	switch style {
	case "logo":
		return "professional minimalist logo, vector style, clean lines, branding, " + prompt
	case "hero":
		return "cinematic hero image, high detail, modern commercial style, " + prompt
	case "icon":
		return "flat icon design, simple composition, transparent background, " + prompt
	default:
		return prompt
	}
}

func detectStyle(task string) string {
	words := tokenize(task)
	for _, s := range []string{"logo", "icon", "hero"} {
		if _, ok := words[s]; ok {
			return s
		}
	}
	if _, ok := words["banner"]; ok {
		return "hero"
	}
	return ""
}

var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "please": true, "for": true, "about": true, "of": true, "on": true,
	"create": true, "generate": true, "make": true, "write": true, "draft": true, "build": true,
	"search": true, "find": true, "research": true, "me": true,
}

// extractTopic prefers the text after the last "for"/"about", then trims
// leading filler words.
func extractTopic(task string) string {
	lower := strings.ToLower(task)
	for _, sep := range []string{" about ", " for "} {
		if i := strings.LastIndex(lower, sep); i >= 0 && i+len(sep) < len(task) {
			task = task[i+len(sep):]
			break
		}
	}
	fields := strings.Fields(task)
	for len(fields) > 1 && fillerWords[strings.ToLower(fields[0])] {
		fields = fields[1:]
	}
	topic := strings.TrimRight(strings.Join(fields, " "), ".!?")
	if topic == "" {
		return task
	}
	return topic
}

func ctxOr(ctx map[string]string, key, def string) string {
	if v := strings.TrimSpace(ctx[key]); v != "" {
		return v
	}
	return def
}

func dryRunOutput(step model.PlanStep) map[string]any {
	return map[string]any{
		"dryRun":     true,
		"capability": step.Capability,
		"wouldCall":  fmt.Sprintf("%s(%d input fields)", step.Capability, len(step.Input)),
		"input":      step.Input,
	}
}
