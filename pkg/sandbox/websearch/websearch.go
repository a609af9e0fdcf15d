// Package websearch provides three concrete GoToolFunc implementations
// (spec.md's distillation drops these; SPEC_FULL.md supplements them
// back in from original_source/agent/tools/web_search_tools.py and
// tools/web_search/{brave,exa,tavily}_search.py) for registration into
// a sandbox.Engine's `runtime: go` binding.
//
// Each wraps one search provider's REST API behind the same
// {query, maxResults} request shape and a common SearchResult response,
// using the teacher's pkg/httpclient for retry/backoff rather than a
// bare http.Client.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/solacelabs/agentmesh/pkg/httpclient"
)

// Result is one organic search hit, the common shape every provider in
// this package normalises its response into.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// SearchResult is the GoToolFunc return value shared by all three
// providers.
type SearchResult struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
}

func searchArgs(args map[string]any) (query string, maxResults int) {
	query, _ = args["query"].(string)
	maxResults = 5
	if n, ok := args["maxResults"].(float64); ok && n > 0 {
		maxResults = int(n)
	}
	return query, maxResults
}

func doGet(ctx context.Context, client *httpclient.Client, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("websearch: provider returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func doPostJSON(ctx context.Context, client *httpclient.Client, rawURL string, headers map[string]string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("websearch: marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("websearch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("websearch: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("websearch: provider returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func escapeQuery(q string) string { return url.QueryEscape(q) }
