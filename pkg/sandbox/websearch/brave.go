package websearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solacelabs/agentmesh/pkg/httpclient"
	"github.com/solacelabs/agentmesh/pkg/sandbox"
)

const braveBaseURL = "https://api.search.brave.com/res/v1/web/search"

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// NewBraveSearch returns the GoToolFunc for `module: websearch.brave`
// (spec supplement, grounded on
// original_source/tools/web_search/brave_search.py).
func NewBraveSearch(apiKey string) sandbox.GoToolFunc {
	client := httpclient.New()
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, maxResults := searchArgs(args)
		if query == "" {
			return nil, fmt.Errorf("websearch/brave: query is required")
		}
		rawURL := fmt.Sprintf("%s?q=%s&count=%d", braveBaseURL, escapeQuery(query), min(maxResults, 20))
		body, err := doGet(ctx, client, rawURL, map[string]string{
			"X-Subscription-Token": apiKey,
			"Accept":               "application/json",
		})
		if err != nil {
			return nil, err
		}
		var parsed braveResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("websearch/brave: parse response: %w", err)
		}
		out := SearchResult{Query: query}
		for _, r := range parsed.Web.Results {
			out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
		}
		return out, nil
	}
}
