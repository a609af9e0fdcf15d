// Package llmclient provides a taskcore.LLMClient implementation: the
// mesh's LLM client is explicitly a swappable binding (spec's "shipping
// a specific LLM provider" Non-goal), but cmd/meshd needs at least one
// real, non-test implementer to actually drive a task end to end.
//
// Grounded on the teacher's pkg/model/gemini's use of
// google.golang.org/genai: same client construction, same
// GenerateContentStream streaming call and FunctionCall/FunctionResponse
// part shapes, generalised from hector's model.Request/model.Response
// pair down to taskcore's narrower LLMMessage/LLMEvent/ToolSpec
// contract, and with the teacher's StreamingAggregator (thinking-block
// tracking, stable function-call-id hashing across chunks) dropped:
// the driver loop has no concept of a "thinking" part and treats every
// LLMEvent independently, so there is nothing for an aggregator to
// aggregate.
package llmclient

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/taskcore"
)

// Config configures a GeminiClient.
type Config struct {
	APIKey string

	// Model defaults to "gemini-2.0-flash".
	Model string

	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// GeminiClient implements taskcore.LLMClient over the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	cfg    Config
}

// NewGeminiClient dials the Gemini API. ctx is only used for the
// underlying HTTP client's setup, not held past this call.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llmclient: gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("llmclient: create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: cfg.Model, cfg: cfg}, nil
}

// StreamTurn implements taskcore.LLMClient.
func (g *GeminiClient) StreamTurn(ctx context.Context, messages []taskcore.LLMMessage, tools []taskcore.ToolSpec) (<-chan taskcore.LLMEvent, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if c := messageToContent(m); c != nil {
			contents = append(contents, c)
		}
	}

	genConfig := g.buildConfig(tools)

	out := make(chan taskcore.LLMEvent)
	go func() {
		defer close(out)

		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, genConfig) {
			if err != nil {
				out <- taskcore.LLMEvent{Type: "error", Err: fmt.Errorf("llmclient: gemini stream: %w", err)}
				return
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}

			for _, part := range resp.Candidates[0].Content.Parts {
				switch {
				case part.Text != "":
					out <- taskcore.LLMEvent{Type: "text", Text: part.Text}

				case part.FunctionCall != nil:
					id := part.FunctionCall.ID
					if id == "" {
						id = part.FunctionCall.Name
					}
					out <- taskcore.LLMEvent{
						Type: "tool_call",
						ToolCall: &taskcore.ToolCall{
							ID:   id,
							Name: part.FunctionCall.Name,
							Args: part.FunctionCall.Args,
						},
						LongRunningToolIDs: []string{id},
					}
				}
			}
		}

		out <- taskcore.LLMEvent{Type: "done"}
	}()

	return out, nil
}

// messageToContent converts one taskcore.LLMMessage into a genai.Content.
func messageToContent(m taskcore.LLMMessage) *genai.Content {
	role := m.Role
	if role != "user" && role != "model" {
		role = "user" // Gemini has no "tool"/"system" role; fold into user
	}

	var parts []*genai.Part
	for _, raw := range m.Parts {
		p, ok := raw.(protocol.Part)
		if !ok {
			continue
		}
		switch p.Kind {
		case protocol.PartKindText:
			parts = append(parts, &genai.Part{Text: p.Text})

		case protocol.PartKindFile:
			if p.File == nil {
				continue
			}
			if len(p.File.Bytes) > 0 {
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: p.File.MimeType, Data: p.File.Bytes},
				})
			} else if p.File.URI != "" {
				parts = append(parts, &genai.Part{
					FileData: &genai.FileData{MIMEType: p.File.MimeType, FileURI: p.File.URI},
				})
			}

		case protocol.PartKindData:
			data, ok := p.Data.(map[string]any)
			if !ok {
				continue
			}
			if toolCallID, ok := data["tool_call_id"].(string); ok {
				response, _ := data["payload"].(map[string]any)
				if response == nil {
					response = map[string]any{"result": data["payload"]}
				}
				parts = append(parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{ID: toolCallID, Response: response},
				})
			}
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: role, Parts: parts}
}

// buildConfig converts tool specs to genai's FunctionDeclaration shape
// and applies g.cfg's sampling parameters.
func (g *GeminiClient) buildConfig(tools []taskcore.ToolSpec) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}

	if g.cfg.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(g.cfg.Temperature))
	}
	if g.cfg.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(g.cfg.TopP))
	}
	if g.cfg.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(g.cfg.TopK))
	}
	if g.cfg.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(g.cfg.MaxTokens)
	}

	if len(tools) == 0 {
		return cfg
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  toGenaiSchema(t.Schema),
		})
	}
	cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	return cfg
}

// toGenaiSchema converts a JSON-schema-shaped map into a genai.Schema,
// covering the subset taskcore.ToolSpec.Schema actually uses (object
// properties with string/number/boolean/array leaves).
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(sub)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	return s
}

var _ taskcore.LLMClient = (*GeminiClient)(nil)
