// Package sandbox implements the Sandbox Engine (spec §4.10): process-
// isolated tool execution with named-pipe status streaming, artifact
// preload/collection, resource limits, and a concurrency semaphore.
//
// Grounded on the teacher's github.com/hashicorp/go-plugin usage in
// pkg/plugins/grpc (handshake, Kill() lifecycle) generalised from a
// long-lived LLM/embedder/database provider process to a per-invocation
// tool runner, plus pkg/tool's manifest-driven tool resolution idiom.
package sandbox

import "time"

// ErrorCode enumerates the typed failures the response envelope may
// carry (spec §4.10 "Error codes").
type ErrorCode string

const (
	ErrSandboxTimeout ErrorCode = "SANDBOX_TIMEOUT"
	ErrExecutionError ErrorCode = "EXECUTION_ERROR"
	ErrToolNotFound   ErrorCode = "TOOL_NOT_FOUND"
	ErrImportError    ErrorCode = "IMPORT_ERROR"
	ErrToolError      ErrorCode = "TOOL_ERROR"
	ErrArtifactError  ErrorCode = "ARTIFACT_ERROR"
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// ArtifactReference points at an existing artifact to be materialised
// into the runner's input directory before execution (spec §4.10 step 3).
type ArtifactReference struct {
	ParamName string `json:"paramName"`
	Scope     string `json:"scope"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Filename  string `json:"filename"`
	Version   int64  `json:"version"`
}

// PreloadedArtifact is a caller-supplied input already carried inline as
// base64 on the invocation request (spec §4.10 step 3 "base64-decode
// preloaded ones").
type PreloadedArtifact struct {
	ParamName string `json:"paramName"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	Base64    string `json:"base64"`
}

// InvocationRequest is the SandboxToolInvocationRequest payload (spec §3
// "Sandbox Invocation").
type InvocationRequest struct {
	TaskID             string              `json:"taskId"`
	ToolName           string              `json:"toolName"`
	Module             string              `json:"module"`
	Function           string              `json:"function"`
	Args               map[string]any      `json:"args"`
	ToolConfig         map[string]any      `json:"toolConfig"`
	AppName            string              `json:"appName"`
	UserID             string              `json:"userId"`
	SessionID          string              `json:"sessionId"`
	PreloadedArtifacts []PreloadedArtifact `json:"preloadedArtifacts,omitempty"`
	ArtifactReferences []ArtifactReference `json:"artifactReferences,omitempty"`
	TimeoutSeconds     float64             `json:"timeoutSeconds"`
	SandboxProfile     string              `json:"sandboxProfile,omitempty"`
}

// CreatedArtifact describes one output file the runner produced and the
// engine saved into the Artifact Service (spec §4.10 step 8).
type CreatedArtifact struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Version  int64  `json:"version"`
	Size     int64  `json:"size"`
}

// InvocationResponse is the SandboxToolInvocationResponse payload
// published to the request's replyTo.
type InvocationResponse struct {
	TaskID           string            `json:"taskId"`
	ToolName         string            `json:"toolName"`
	Success          bool              `json:"success"`
	Result           any               `json:"result,omitempty"`
	ErrorCode        ErrorCode         `json:"errorCode,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	TimedOut         bool              `json:"timedOut,omitempty"`
	CreatedArtifacts []CreatedArtifact `json:"createdArtifacts,omitempty"`
}

// StatusUpdate is one line the runner wrote to the FIFO status pipe,
// relayed as a SandboxStatusUpdate on the task's a2aStatusTopic (spec
// §4.10 step 6).
type StatusUpdate struct {
	TaskID string         `json:"taskId"`
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// StatusFunc receives every status line the running tool reports.
type StatusFunc func(StatusUpdate)

// runnerArgs is the JSON file written into the work dir before spawning
// the runner process (spec §4.10 step 4): module/function/args/
// tool_config/user_id/session_id/app_name/artifact paths/status pipe/
// result file/output dir.
type runnerArgs struct {
	Module        string            `json:"module"`
	Function      string            `json:"function"`
	Args          map[string]any    `json:"args"`
	ToolConfig    map[string]any    `json:"toolConfig"`
	AppName       string            `json:"appName"`
	UserID        string            `json:"userId"`
	SessionID     string            `json:"sessionId"`
	InputPaths    map[string]string `json:"inputPaths"`
	StatusPipe    string            `json:"statusPipe"`
	ResultFile    string            `json:"resultFile"`
	OutputDir     string            `json:"outputDir"`
	TimeoutBuffer time.Duration     `json:"-"`
}

// runnerResult is the contents of result.json a runner process writes
// on exit (spec §4.10 step 8).
type runnerResult struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}
