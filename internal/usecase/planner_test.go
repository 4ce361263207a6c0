package usecase

import (
	"strings"
	"testing"

	"task-orchestrator/internal/domain/model"
)

func TestPlanner_PlansAreWellFormed(t *testing.T) {
	t.Parallel()

	p := NewPlanner()
	for _, label := range []string{IntentPlan, IntentVideo, IntentImage, IntentResearch, IntentCommand, "something.else"} {
		steps := p.Plan(model.Intent{Label: label, Confidence: 0.8}, "create something for a startup", PlanOptions{})
		if len(steps) == 0 {
			t.Fatalf("%s: empty plan", label)
		}
		required := 0
		for i, s := range steps {
			if s.Index != i {
				t.Fatalf("%s: step %d has index %d", label, i, s.Index)
			}
			if !s.Capability.Valid() {
				t.Fatalf("%s: step %d uses unknown capability %q", label, i, s.Capability)
			}
			if s.Status != model.StepStatusPending {
				t.Fatalf("%s: step %d starts as %s", label, i, s.Status)
			}
			if s.Required {
				required++
			}
		}
		if required == 0 {
			t.Fatalf("%s: plan has no required step", label)
		}
	}
}

func TestPlanner_CompanyPlan(t *testing.T) {
	t.Parallel()

	steps := NewPlanner().Plan(model.Intent{Label: IntentPlan}, "create company plan for an AI bookkeeping startup", PlanOptions{})
	if len(steps) != 2 {
		t.Fatalf("expected search+plan, got %d steps", len(steps))
	}
	if steps[0].Capability != model.CapabilitySearch || steps[0].Required {
		t.Fatalf("expected optional search first, got %+v", steps[0])
	}
	if steps[1].Capability != model.CapabilityPlan || !steps[1].Required {
		t.Fatalf("expected required plan step, got %+v", steps[1])
	}
	if got := steps[0].Input["query"]; got != "AI bookkeeping startup" {
		t.Fatalf("unexpected topic %q", got)
	}
}

func TestPlanner_ImageStyle(t *testing.T) {
	t.Parallel()

	p := NewPlanner()
	steps := p.Plan(model.Intent{Label: IntentImage}, "design a logo for my bakery", PlanOptions{})
	prompt, _ := steps[0].Input["prompt"].(string)
	if steps[0].Input["style"] != "logo" || !strings.HasPrefix(prompt, "professional minimalist logo") {
		t.Fatalf("expected logo enhancement, got %+v", steps[0].Input)
	}

	steps = p.Plan(model.Intent{Label: IntentImage}, "design a logo for my bakery", PlanOptions{Context: map[string]string{"style": "icon"}})
	if steps[0].Input["style"] != "icon" {
		t.Fatalf("context style should win, got %v", steps[0].Input["style"])
	}
}

func TestPlanner_DryRunKeepsShape(t *testing.T) {
	t.Parallel()

	p := NewPlanner()
	live := p.Plan(model.Intent{Label: IntentVideo}, "generate a product video", PlanOptions{})
	dry := p.Plan(model.Intent{Label: IntentVideo}, "generate a product video", PlanOptions{DryRun: true})
	if len(live) != len(dry) {
		t.Fatalf("dry run changed plan length: %d vs %d", len(live), len(dry))
	}
	for i := range live {
		if live[i].Capability != dry[i].Capability || live[i].Required != dry[i].Required {
			t.Fatalf("step %d differs between dry and live plans", i)
		}
	}
}

func TestExtractTopic(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"create company plan for an AI bookkeeping startup": "AI bookkeeping startup",
		"search about the history of Go.":                   "history of Go",
		"make a roadmap":                                    "roadmap",
	}
	for in, want := range cases {
		if got := extractTopic(in); got != want {
			t.Fatalf("extractTopic(%q) = %q, want %q", in, got, want)
		}
	}
}
