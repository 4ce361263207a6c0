package usecase

import (
	"strings"
	"unicode"

	"task-orchestrator/internal/domain/model"
)

const (
	IntentPlan     = "plan.generate"
	IntentVideo    = "video.generate"
	IntentImage    = "image.generate"
	IntentResearch = "research.search"
	IntentCommand  = "command.run"
)

type intentRule struct {
	label    string
	keywords []string
	// verbs only strengthen a match; they never classify on their own
	verbs []string
}

// Catalog order breaks ties between rules with the same number of hits.
var intentCatalog = []intentRule{
	{
		label:    IntentVideo,
		keywords: []string{"video", "videos", "clip", "teaser", "trailer", "animation", "footage", "reel", "commercial"},
		verbs:    []string{"generate", "create", "make", "render", "produce", "film"},
	},
	{
		label:    IntentImage,
		keywords: []string{"image", "images", "picture", "logo", "illustration", "photo", "banner", "icon", "poster", "artwork", "hero"},
		verbs:    []string{"generate", "create", "make", "draw", "design", "render", "paint"},
	},
	{
		label:    IntentPlan,
		keywords: []string{"plan", "business", "strategy", "roadmap", "startup", "company", "pitch", "proposal", "outline", "launch"},
		verbs:    []string{"create", "write", "draft", "make", "build", "prepare", "generate"},
	},
	{
		label:    IntentResearch,
		keywords: []string{"search", "research", "lookup", "sources", "articles", "compare", "competitors", "news", "wikipedia"},
		verbs:    []string{"find", "look", "investigate", "summarize", "list"},
	},
	{
		label:    IntentCommand,
		keywords: []string{"command", "execute", "run", "deploy", "restart", "ping", "status", "shell"},
		verbs:    []string{"please", "now", "trigger"},
	},
}

// IntentResolver classifies task text by whole-word keyword matching.
type IntentResolver struct {
	catalog []intentRule
}

func NewIntentResolver() *IntentResolver {
	return &IntentResolver{catalog: intentCatalog}
}

// Resolve returns the best matching intent. Empty text, or text with no
// catalog keyword, is a no-match (ok=false).
func (r *IntentResolver) Resolve(task string) (model.Intent, bool) {
	words := tokenize(task)
	if len(words) == 0 {
		return model.Intent{}, false
	}

	bestIdx, bestHits, bestVerb := -1, 0, false
	for i, rule := range r.catalog {
		hits := countWords(words, rule.keywords)
		if hits > bestHits {
			bestIdx, bestHits = i, hits
			bestVerb = countWords(words, rule.verbs) > 0
		}
	}
	if bestIdx < 0 {
		return model.Intent{}, false
	}
	return model.Intent{
		Label:      r.catalog[bestIdx].label,
		Confidence: intentConfidence(bestHits, bestVerb),
	}, true
}

// intentConfidence grows with the number of distinct keyword hits.
func intentConfidence(hits int, verb bool) float64 {
	c := 0.4 + 0.15*float64(hits)
	if verb {
		c += 0.1
	}
	if c > 0.99 {
		c = 0.99
	}
	return c
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func countWords(words map[string]struct{}, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if _, ok := words[kw]; ok {
			n++
		}
	}
	return n
}
