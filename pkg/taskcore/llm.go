package taskcore

import (
	"context"
)

// LLMEvent is one streamed chunk of an LLM turn (spec §4.7.2 step 2).
// Generalises the teacher's llms.StreamChunk to carry the long-running
// tool id set and function-response correlation the mesh driver loop
// needs, while keeping the same discriminated-by-Type shape.
type LLMEvent struct {
	Type string // "text", "tool_call", "function_response", "done", "error"

	Text string

	ToolCall *ToolCall

	// FunctionResponse carries a tool's result back into the turn, used
	// when a previously long-running tool call resolves synchronously
	// before the stream ends (spec §4.7.2 step 2e).
	FunctionResponse *FunctionResponse

	// LongRunningToolIDs is the invocation's declared set of tool-call
	// ids that will not resolve within this stream (spec §4.7.2 step 2a).
	LongRunningToolIDs []string

	Tokens int
	Err    error
}

// ToolCall is one LLM-issued function invocation.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse is a tool result correlated back to its ToolCall.ID.
type FunctionResponse struct {
	ToolCallID string
	Payload    any
}

// LLMMessage is one turn of conversation handed to the LLM client.
type LLMMessage struct {
	Role  string // "user", "model", "tool"
	Parts []any
}

// LLMClient drives one streaming turn. Concrete clients (Gemini,
// Anthropic, OpenAI-compatible) implement this; the driver loop depends
// only on the interface (spec §4.7.2, "concrete LLM clients are out of
// scope for the core"). Grounded on the teacher's
// llms.LLMProvider.GenerateStreaming contract, generalised from a
// provider-owned channel type to LLMEvent.
type LLMClient interface {
	StreamTurn(ctx context.Context, messages []LLMMessage, tools []ToolSpec) (<-chan LLMEvent, error)
}

// ToolSpec describes one callable tool's schema for the LLM.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ContextOverflowMarkers are the substrings that identify an LLM error
// as a context-window overflow (spec §4.7.3).
var ContextOverflowMarkers = []string{
	"too many tokens",
	"maximum context length",
	"context length exceeded",
	"input is too long",
	"prompt is too long",
	"context_length_exceeded",
	"token limit",
}
