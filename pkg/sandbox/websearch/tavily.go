package websearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solacelabs/agentmesh/pkg/httpclient"
	"github.com/solacelabs/agentmesh/pkg/sandbox"
)

const tavilyBaseURL = "https://api.tavily.com/search"

type tavilyRequest struct {
	APIKey      string `json:"api_key"`
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewTavilySearch returns the GoToolFunc for `module: websearch.tavily`
// (spec supplement, grounded on
// original_source/tools/web_search/tavily_search.py).
func NewTavilySearch(apiKey string) sandbox.GoToolFunc {
	client := httpclient.New()
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, maxResults := searchArgs(args)
		if query == "" {
			return nil, fmt.Errorf("websearch/tavily: query is required")
		}
		reqBody := tavilyRequest{APIKey: apiKey, Query: query, MaxResults: maxResults, SearchDepth: "basic"}

		body, err := doPostJSON(ctx, client, tavilyBaseURL, nil, reqBody)
		if err != nil {
			return nil, err
		}
		var parsed tavilyResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("websearch/tavily: parse response: %w", err)
		}
		out := SearchResult{Query: query}
		for _, r := range parsed.Results {
			out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: truncate(r.Content, 280)})
		}
		return out, nil
	}
}
