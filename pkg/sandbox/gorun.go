package sandbox

import (
	"context"
	"fmt"
	"time"
)

// GoToolFunc is an in-process tool implementation bound to a
// `runtime: go` manifest entry. Unlike the python/mcp runtimes, a Go
// tool never leaves this process: no subprocess, no FIFO, no rlimits —
// only the work-dir/artifact plumbing is shared, so registering one
// still exercises the manifest format end-to-end.
type GoToolFunc func(ctx context.Context, args map[string]any) (any, error)

// goRunner dispatches `runtime: go` manifest entries (module names the
// registered tool) to an in-process GoToolFunc. It is the home for the
// supplemented web-search tools (pkg/sandbox/websearch).
type goRunner struct {
	tools map[string]GoToolFunc
}

func newGoRunner() *goRunner {
	return &goRunner{tools: make(map[string]GoToolFunc)}
}

// Register binds name (the manifest entry's `module` value) to fn.
// Called once at process startup for every supplemented Go tool.
func (r *goRunner) Register(name string, fn GoToolFunc) {
	r.tools[name] = fn
}

func (r *goRunner) Run(ctx context.Context, workDir string, args runnerArgs, spec ToolSpec, timeout time.Duration, onStatus StatusFunc) (runnerResult, bool, error) {
	fn, ok := r.tools[spec.Module]
	if !ok {
		return runnerResult{}, false, fmt.Errorf("%w: %s", errToolNotFound, spec.Module)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	var result any
	var runErr error
	go func() {
		defer close(done)
		result, runErr = fn(runCtx, args.Args)
	}()

	select {
	case <-done:
	case <-runCtx.Done():
		return runnerResult{}, true, nil
	}

	if runErr != nil {
		return runnerResult{Error: runErr.Error()}, false, nil
	}
	return runnerResult{Result: result}, false, nil
}

// RegisterGoTool binds a tool into e's in-process Go runtime.
func (e *Engine) RegisterGoTool(name string, fn GoToolFunc) {
	e.goTools.Register(name, fn)
}
