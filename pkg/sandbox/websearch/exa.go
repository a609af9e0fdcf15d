package websearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/solacelabs/agentmesh/pkg/httpclient"
	"github.com/solacelabs/agentmesh/pkg/sandbox"
)

const exaBaseURL = "https://api.exa.ai/search"

type exaRequest struct {
	Query      string `json:"query"`
	NumResults int    `json:"numResults"`
	Contents   struct {
		Text bool `json:"text"`
	} `json:"contents"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
}

// NewExaSearch returns the GoToolFunc for `module: websearch.exa` (spec
// supplement, grounded on
// original_source/tools/web_search/exa_search.py).
func NewExaSearch(apiKey string) sandbox.GoToolFunc {
	client := httpclient.New()
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, maxResults := searchArgs(args)
		if query == "" {
			return nil, fmt.Errorf("websearch/exa: query is required")
		}
		reqBody := exaRequest{Query: query, NumResults: maxResults}
		reqBody.Contents.Text = true

		body, err := doPostJSON(ctx, client, exaBaseURL, map[string]string{
			"x-api-key": apiKey,
		}, reqBody)
		if err != nil {
			return nil, err
		}
		var parsed exaResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("websearch/exa: parse response: %w", err)
		}
		out := SearchResult{Query: query}
		for _, r := range parsed.Results {
			out.Results = append(out.Results, Result{Title: r.Title, URL: r.URL, Snippet: truncate(r.Text, 280)})
		}
		return out, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
