package sandbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// Runner spawns one tool invocation's process and waits for it to
// finish, reporting status lines as they arrive on the FIFO and
// returning the parsed result.json contents or a timeout.
//
// Four concrete Runners exist: directRunner (dev profile, a plain
// subprocess inheriting a limited env), the go-plugin-supervised
// isolatedRunner in plugin.go (spec §4.10 step 5), mcpRunner in
// mcp_runtime.go, and the in-process goRunner in gorun.go.
type Runner interface {
	Run(ctx context.Context, workDir string, args runnerArgs, spec ToolSpec, timeout time.Duration, onStatus StatusFunc) (runnerResult, bool, error)
}

// directRunner execs the manifest's declared python runtime as a plain
// subprocess, used for the "direct (dev only)" profile (spec §4.10 step
// 5). It is also the runner the isolated profile falls back to when the
// Engine has no supervisor binary configured (Config.SupervisorPath
// empty).
type directRunner struct {
	pythonExe string
}

func newDirectRunner() *directRunner {
	return &directRunner{pythonExe: "python3"}
}

func (r *directRunner) Run(ctx context.Context, workDir string, args runnerArgs, spec ToolSpec, timeout time.Duration, onStatus StatusFunc) (runnerResult, bool, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.pythonExe, "-m", "agentmesh_sandbox_runner", filepath.Join(workDir, "runner_args.json"))
	cmd.Env = limitedEnv()
	cmd.Dir = workDir
	applyIsolation(cmd, spec.SandboxProfile)

	if err := cmd.Start(); err != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: start runner: %w", err)
	}

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		relayStatus(args.StatusPipe, onStatus)
	}()

	waitErr := cmd.Wait()
	<-statusDone

	if runCtx.Err() == context.DeadlineExceeded {
		return runnerResult{}, true, nil
	}
	if waitErr != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: runner exited: %w", waitErr)
	}

	result, err := readResult(args.ResultFile)
	if err != nil {
		return runnerResult{}, false, err
	}
	return result, false, nil
}

// limitedEnv is the minimal environment passed to a runner subprocess
// (spec §4.10 step 5 "minimal env").
func limitedEnv() []string {
	return []string{
		"PATH=/usr/bin:/bin",
		"HOME=/tmp",
		"LANG=C.UTF-8",
	}
}

// readResult parses the runner's result.json (spec §4.10 step 8).
func readResult(path string) (runnerResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return runnerResult{}, fmt.Errorf("sandbox: read result: %w", err)
	}
	var result runnerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return runnerResult{}, fmt.Errorf("sandbox: parse result: %w", err)
	}
	return result, nil
}

// relayStatus reads newline-delimited JSON status objects from the FIFO
// at path, calling onStatus for each, until the writer closes its end
// (spec §4.10 step 6).
func relayStatus(path string, onStatus StatusFunc) {
	f, err := os.OpenFile(path, os.O_RDONLY, os.ModeNamedPipe)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var update StatusUpdate
		if err := json.Unmarshal(scanner.Bytes(), &update); err != nil {
			continue
		}
		if onStatus != nil {
			onStatus(update)
		}
	}
}

// makeStatusPipe creates the FIFO a runner process writes status lines
// to (spec §4.10 step 2 "a FIFO status.pipe"). Unix-only by design: the
// sandbox profile's namespace/rlimit isolation is itself unix-only.
func makeStatusPipe(path string) error {
	if err := syscall.Mkfifo(path, 0600); err != nil {
		return fmt.Errorf("sandbox: mkfifo %s: %w", path, err)
	}
	return nil
}
