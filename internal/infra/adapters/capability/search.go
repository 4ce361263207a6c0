package capability

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"task-orchestrator/internal/domain/model"
	"task-orchestrator/internal/domain/ports/adapter"
)

var _ adapter.CapabilityProvider = (*WikipediaSearchProvider)(nil)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// WikipediaSearchProvider serves the search capability from the MediaWiki
// search API.
type WikipediaSearchProvider struct {
	endpoint string
	client   *http.Client
}

func NewWikipediaSearchProvider(endpoint string, timeout time.Duration) *WikipediaSearchProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WikipediaSearchProvider{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"`
}

type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

func (p *WikipediaSearchProvider) Invoke(ctx context.Context, req adapter.CapabilityRequest) (adapter.CapabilityResult, error) {
	if req.Capability != model.CapabilitySearch {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("wikipedia: only search is supported"))
	}
	in, err := adapter.DecodeInput[adapter.SearchRequest](req.Input)
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return adapter.CapabilityResult{}, adapter.Permanent(errors.New("query is required"))
	}
	if in.Limit <= 0 {
		in.Limit = 10
	}

	q := url.Values{}
	q.Set("action", "query")
	q.Set("list", "search")
	q.Set("srsearch", in.Query)
	q.Set("srlimit", strconv.Itoa(in.Limit))
	q.Set("srprop", "snippet")
	q.Set("format", "json")

	var reply struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	if err := doJSON(ctx, p.client, http.MethodGet, p.endpoint+"?"+q.Encode(), nil, &reply); err != nil {
		return adapter.CapabilityResult{}, err
	}

	results := make([]SearchResult, 0, len(reply.Query.Search))
	for _, item := range reply.Query.Search {
		results = append(results, SearchResult{
			Title:   item.Title,
			URL:     "https://en.wikipedia.org/wiki/" + strings.ReplaceAll(item.Title, " ", "_"),
			Snippet: strings.TrimSpace(tagRe.ReplaceAllString(item.Snippet, "")),
			Source:  "wikipedia",
		})
	}
	results = dedupeByURL(results)
	if len(results) > in.Limit {
		results = results[:in.Limit]
	}

	out, err := adapter.EncodeOutput(SearchOutput{Query: in.Query, Results: results, Count: len(results)})
	if err != nil {
		return adapter.CapabilityResult{}, err
	}
	return adapter.CapabilityResult{Output: out, Backend: "wikipedia"}, nil
}

// dedupeByURL keeps the first result per URL, ignoring case and a trailing slash.
func dedupeByURL(in []SearchResult) []SearchResult {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, r := range in {
		key := strings.TrimRight(strings.ToLower(r.URL), "/")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
