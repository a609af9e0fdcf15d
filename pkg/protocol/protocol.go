// Package protocol implements the A2A JSON-RPC-over-topics envelope and
// wire types carried on the mesh (spec §3 Data model, §4.1 Envelope,
// §6.1 Wire protocol).
//
// Types here generalise github.com/kadirpekel/hector/pkg/a2a's
// single-process Task/Message/Part model to the mesh's topic-routed
// view: a Task additionally carries a ParentTaskID (for sub-tasks) and a
// ContextID (session), and status/artifact updates are first-class
// envelope payloads rather than a single in-process channel.
package protocol

import "time"

// Version is the JSON-RPC protocol version every envelope declares.
const Version = "2.0"

// Envelope is the JSON-RPC 2.0 shape used for every request and response
// (spec §4.1). Exactly one of Method+Params (request), Result (success
// response) or Error (error response) is populated.
type Envelope struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// NewRequest builds a request envelope with a fresh id already assigned
// by the caller (ids are producer-generated, UUIDv4-class, per §3).
func NewRequest(id, method string, params interface{}) *Envelope {
	return &Envelope{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewResult builds a success response envelope carrying the same id as
// the request it answers.
func NewResult(id string, result interface{}) *Envelope {
	return &Envelope{JSONRPC: Version, ID: id, Result: result}
}

// NewError builds an error response envelope.
func NewError(id string, err *RPCError) *Envelope {
	return &Envelope{JSONRPC: Version, ID: id, Error: err}
}

// RPCError is a JSON-RPC 2.0 error object. Codes used on the mesh are
// enumerated in rpcerrors.go.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// UserProperties are the broker metadata keys carried out-of-band
// alongside every published message (spec §4.1, §6.1). Keys are
// case-sensitive and fixed by the wire contract.
type UserProperties struct {
	ClientID       string         `json:"clientId,omitempty"`
	UserID         string         `json:"userId,omitempty"`
	ReplyTo        string         `json:"replyTo,omitempty"`
	A2AStatusTopic string         `json:"a2aStatusTopic,omitempty"`
	A2AUserConfig  map[string]any `json:"a2aUserConfig,omitempty"`
}

// TaskState is the state of a Task (spec §3 Task invariant (i): monotonic
// except working -> input_required may reverse).
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input_required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// IsTerminal reports whether state is one a Task never leaves.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// Task is the unit of request/response (spec §3 Task).
type Task struct {
	TaskID        string         `json:"taskId"`
	LogicalTaskID string         `json:"logicalTaskId,omitempty"`
	ParentTaskID  string         `json:"parentTaskId,omitempty"`
	ContextID     string         `json:"contextId"`
	State         TaskState      `json:"state"`
	History       []Message      `json:"history,omitempty"`
	Artifacts     []Artifact     `json:"artifacts,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// MessageRole is who authored a Message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// Message is one turn of conversation (spec §3 Message).
type Message struct {
	Role     MessageRole    `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PartKind discriminates the Part union.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Part is one of TextPart, FilePart, or DataPart (spec §3 Message).
type Part struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	File *FilePart `json:"file,omitempty"`
	Data any      `json:"data,omitempty"`
}

// TextPart constructs a text Part.
func TextPart(s string) Part { return Part{Kind: PartKindText, Text: s} }

// FilePart is either inline bytes or a URI reference (spec §3, §6.2).
// URI may use the artifact:// scheme.
type FilePart struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// HasURI reports whether this FilePart references rather than inlines
// its content.
func (f *FilePart) HasURI() bool { return f.URI != "" }

// Artifact is task output content (spec §3 Task.artifacts).
type Artifact struct {
	ArtifactID  string         `json:"artifactId"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parts       []Part         `json:"parts"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskStatusUpdateEvent is a non-terminal status event (spec §4.7.1).
// Terminal events use Task directly with State.IsTerminal() true.
type TaskStatusUpdateEvent struct {
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	State     TaskState      `json:"state"`
	Message   *Message       `json:"message,omitempty"`
	Final     bool           `json:"final"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TaskArtifactUpdateEvent streams or announces one artifact.
type TaskArtifactUpdateEvent struct {
	TaskID    string   `json:"taskId"`
	ContextID string   `json:"contextId"`
	Artifact  Artifact `json:"artifact"`
	Append    bool     `json:"append"`
	LastChunk bool     `json:"lastChunk"`
}

// SendMessageParams is the message/send and message/stream RPC payload.
type SendMessageParams struct {
	Message Message `json:"message"`
	TaskID  string  `json:"taskId,omitempty"`
}

// CancelTaskParams is the tasks/cancel RPC payload.
type CancelTaskParams struct {
	TaskID string `json:"taskId"`
	Reason string `json:"reason,omitempty"`
}

// Method names on the wire (spec §6.1); these travel in Envelope.Method,
// never on topics.
const (
	MethodMessageSend   = "message/send"
	MethodMessageStream = "message/stream"
	MethodTasksCancel   = "tasks/cancel"
	MethodSandboxInvoke = "sandbox/invoke"
)
