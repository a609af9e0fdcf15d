package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/solacelabs/agentmesh/pkg/artifact"
)

// timeoutBuffer is added to the caller's timeout_seconds before the
// supervisor is killed (spec §4.10 step 7 "timeout_seconds + small
// buffer").
const timeoutBuffer = 2 * time.Second

// Config configures one Engine.
type Config struct {
	// BaseDir is the parent of every per-task work dir (spec §4.10 step 2).
	BaseDir string

	// MaxConcurrentExecutions sizes the work-dir allocation semaphore
	// (spec §4.10 "Concurrency gate").
	MaxConcurrentExecutions int

	Manifest  *Manifest
	Artifacts artifact.Store

	// SupervisorPath, if set, is the go-plugin supervisor binary used
	// for the "isolated" profile. Left empty, isolated invocations fall
	// back to the direct subprocess runner (suitable for tests and
	// platforms without namespace support).
	SupervisorPath string

	Log *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseDir == "" {
		out.BaseDir = os.TempDir() + "/agentmesh-sandbox"
	}
	if out.MaxConcurrentExecutions <= 0 {
		out.MaxConcurrentExecutions = 4
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	return out
}

// Engine runs the per-invocation pipeline of spec §4.10: manifest
// lookup, work-dir + FIFO setup, artifact materialisation, runner spawn
// (direct, isolated, or mcp), status relay, timeout enforcement, result
// parsing and artifact collection.
type Engine struct {
	cfg Config
	sem chan struct{}

	direct   *directRunner
	isolated *isolatedRunner
	mcp      *mcpRunner
	goTools  *goRunner
}

// New constructs an Engine ready to Invoke.
func New(cfg Config) *Engine {
	resolved := cfg.withDefaults()
	e := &Engine{
		cfg:     resolved,
		sem:     make(chan struct{}, resolved.MaxConcurrentExecutions),
		direct:  newDirectRunner(),
		mcp:     newMCPRunner(),
		goTools: newGoRunner(),
	}
	if resolved.SupervisorPath != "" {
		e.isolated = newIsolatedRunner(resolved.SupervisorPath)
	}
	return e
}

// Invoke runs req end-to-end, blocking until the tool call finishes,
// times out, or fails. onStatus is called for every status line the
// runner reports; it may be nil.
func (e *Engine) Invoke(ctx context.Context, req InvocationRequest, onStatus StatusFunc) *InvocationResponse {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return errorResponse(req, ErrInternalError, "sandbox busy: "+ctx.Err().Error())
	}

	if req.ToolName == "" || req.TaskID == "" {
		return errorResponse(req, ErrInvalidRequest, "toolName and taskId are required")
	}

	spec, err := e.cfg.Manifest.Resolve(req.ToolName)
	if err != nil {
		return errorResponse(req, ErrToolNotFound, err.Error())
	}
	if req.SandboxProfile != "" {
		spec.SandboxProfile = req.SandboxProfile
	}

	workDir := filepath.Join(e.cfg.BaseDir, req.TaskID)
	inputDir := filepath.Join(workDir, "input")
	outputDir := filepath.Join(workDir, "output")
	defer os.RemoveAll(workDir) // spec §4.10 step 9 "Always delete the work dir."

	if err := os.MkdirAll(inputDir, 0700); err != nil {
		return errorResponse(req, ErrInternalError, fmt.Sprintf("create work dir: %v", err))
	}
	if err := os.MkdirAll(outputDir, 0700); err != nil {
		return errorResponse(req, ErrInternalError, fmt.Sprintf("create output dir: %v", err))
	}

	statusPipe := filepath.Join(workDir, "status.pipe")
	if err := makeStatusPipe(statusPipe); err != nil {
		return errorResponse(req, ErrInternalError, err.Error())
	}

	inputPaths, err := e.materializeInputs(ctx, req, inputDir)
	if err != nil {
		return errorResponse(req, ErrArtifactError, err.Error())
	}

	args := runnerArgs{
		Module:     spec.Module,
		Function:   spec.Function,
		Args:       req.Args,
		ToolConfig: req.ToolConfig,
		AppName:    req.AppName,
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		InputPaths: inputPaths,
		StatusPipe: statusPipe,
		ResultFile: filepath.Join(workDir, "result.json"),
		OutputDir:  outputDir,
	}
	if err := writeRunnerArgs(workDir, args); err != nil {
		return errorResponse(req, ErrInternalError, err.Error())
	}

	timeout := time.Duration(req.TimeoutSeconds*float64(time.Second)) + timeoutBuffer
	if timeout <= timeoutBuffer {
		timeout = 30*time.Second + timeoutBuffer
	}

	wrappedStatus := func(u StatusUpdate) {
		u.TaskID = req.TaskID
		if onStatus != nil {
			onStatus(u)
		}
	}

	runner := e.selectRunner(spec)
	result, timedOut, runErr := runner.Run(ctx, workDir, args, spec, timeout, wrappedStatus)
	if timedOut {
		return &InvocationResponse{TaskID: req.TaskID, ToolName: req.ToolName, TimedOut: true, ErrorCode: ErrSandboxTimeout, ErrorMessage: "execution timed out"}
	}
	if runErr != nil {
		return errorResponse(req, ErrExecutionError, runErr.Error())
	}
	if result.Error != "" {
		return &InvocationResponse{TaskID: req.TaskID, ToolName: req.ToolName, ErrorCode: ErrToolError, ErrorMessage: result.Error}
	}

	created, err := e.collectOutputs(ctx, req, outputDir)
	if err != nil {
		return errorResponse(req, ErrArtifactError, err.Error())
	}

	return &InvocationResponse{
		TaskID:           req.TaskID,
		ToolName:         req.ToolName,
		Success:          true,
		Result:           result.Result,
		CreatedArtifacts: created,
	}
}

func (e *Engine) selectRunner(spec ToolSpec) Runner {
	switch spec.Runtime {
	case "mcp":
		return e.mcp
	case "go":
		return e.goTools
	default:
		if spec.SandboxProfile != "" && spec.SandboxProfile != "direct" && e.isolated != nil {
			return e.isolated
		}
		return e.direct
	}
}

// materializeInputs implements spec §4.10 step 3: base64-decode
// preloaded artifacts directly into input/, and load referenced ones
// from the Artifact Service.
func (e *Engine) materializeInputs(ctx context.Context, req InvocationRequest, inputDir string) (map[string]string, error) {
	paths := make(map[string]string, len(req.PreloadedArtifacts)+len(req.ArtifactReferences))

	for _, pre := range req.PreloadedArtifacts {
		data, err := base64.StdEncoding.DecodeString(pre.Base64)
		if err != nil {
			return nil, fmt.Errorf("decode preloaded artifact %q: %w", pre.ParamName, err)
		}
		path := filepath.Join(inputDir, safeName(pre.Filename))
		if err := os.WriteFile(path, data, 0600); err != nil {
			return nil, fmt.Errorf("write preloaded artifact %q: %w", pre.ParamName, err)
		}
		paths[pre.ParamName] = path
	}

	for _, ref := range req.ArtifactReferences {
		blob, ok, err := e.cfg.Artifacts.Get(ctx, ref.Scope, ref.UserID, ref.SessionID, ref.Filename, ref.Version)
		if err != nil {
			return nil, fmt.Errorf("load artifact reference %q: %w", ref.ParamName, err)
		}
		if !ok {
			return nil, fmt.Errorf("artifact reference %q: %s not found", ref.ParamName, ref.Filename)
		}
		path := filepath.Join(inputDir, safeName(ref.Filename))
		if err := os.WriteFile(path, blob.Data, 0600); err != nil {
			return nil, fmt.Errorf("write artifact reference %q: %w", ref.ParamName, err)
		}
		paths[ref.ParamName] = path
	}

	return paths, nil
}

// collectOutputs implements spec §4.10 step 8: every file left in
// output/ is saved into the Artifact Service under a new version.
func (e *Engine) collectOutputs(ctx context.Context, req InvocationRequest, outputDir string) ([]CreatedArtifact, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("read output dir: %w", err)
	}

	var created []CreatedArtifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(outputDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read output %q: %w", entry.Name(), err)
		}
		mimeType := mimeFromExt(entry.Name())
		version, err := e.cfg.Artifacts.Put(ctx, req.AppName, req.UserID, req.SessionID, entry.Name(), artifact.Blob{
			Data:     data,
			MimeType: mimeType,
			Size:     int64(len(data)),
		})
		if err != nil {
			return nil, fmt.Errorf("save output %q: %w", entry.Name(), err)
		}
		created = append(created, CreatedArtifact{Filename: entry.Name(), MimeType: mimeType, Version: version, Size: int64(len(data))})
	}
	return created, nil
}

func writeRunnerArgs(workDir string, args runnerArgs) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("sandbox: marshal runner args: %w", err)
	}
	return os.WriteFile(filepath.Join(workDir, "runner_args.json"), raw, 0600)
}

func errorResponse(req InvocationRequest, code ErrorCode, msg string) *InvocationResponse {
	return &InvocationResponse{TaskID: req.TaskID, ToolName: req.ToolName, ErrorCode: code, ErrorMessage: msg}
}

func safeName(name string) string {
	if name == "" {
		return uuid.NewString()
	}
	return filepath.Base(name)
}

func mimeFromExt(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
