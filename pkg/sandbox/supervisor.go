package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	goplugin "github.com/hashicorp/go-plugin"
)

// ServeSupervisor runs this process as a go-plugin net/rpc server
// implementing supervisorRPC. It is the entry point cmd/sandboxrunner
// calls; it never returns.
func ServeSupervisor() {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]goplugin.Plugin{
			"supervisor": &SupervisorPlugin{Impl: &supervisorImpl{}},
		},
	})
}

// supervisorImpl is the real execution side, running already inside the
// namespaces the parent configured via Cloneflags: it applies the
// rlimits carried in its own environment (set by applyIsolation) and
// execs the tool interpreter named in runner_args.json.
type supervisorImpl struct{}

func (s *supervisorImpl) Execute(args supervisorArgs) (supervisorResult, error) {
	if err := applyOwnRlimits(); err != nil {
		return supervisorResult{}, fmt.Errorf("sandbox: apply rlimits: %w", err)
	}

	timeout := time.Duration(args.TimeoutSeconds * float64(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "python3", "-m", "agentmesh_sandbox_runner", args.RunnerArgsPath)
	cmd.Dir = args.WorkDir
	cmd.Env = limitedEnv()

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return supervisorResult{TimedOut: true}, nil
	}
	if err != nil {
		return supervisorResult{}, fmt.Errorf("sandbox: runner exited: %w", err)
	}

	result, readErr := readResult(args.WorkDir + "/result.json")
	if readErr != nil {
		return supervisorResult{}, readErr
	}
	return supervisorResult{Result: result.Result, Error: result.Error}, nil
}


// applyOwnRlimits reads the AGENTMESH_RLIMIT_* variables applyIsolation
// set on this process's environment and applies them to itself before
// it execs the tool interpreter (spec §4.10 step 5). This has to run
// from inside the child because os/exec has no pre-exec hook in the
// parent process.
func applyOwnRlimits() error {
	limits := []struct {
		env string
		res int
	}{
		{"AGENTMESH_RLIMIT_AS", syscall.RLIMIT_AS},
		{"AGENTMESH_RLIMIT_CPU", syscall.RLIMIT_CPU},
		{"AGENTMESH_RLIMIT_FSIZE", syscall.RLIMIT_FSIZE},
		{"AGENTMESH_RLIMIT_NOFILE", syscall.RLIMIT_NOFILE},
	}
	for _, l := range limits {
		raw := os.Getenv(l.env)
		if raw == "" {
			continue
		}
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", l.env, err)
		}
		rlimit := &syscall.Rlimit{Cur: value, Max: value}
		if err := syscall.Setrlimit(l.res, rlimit); err != nil {
			return fmt.Errorf("setrlimit %s: %w", l.env, err)
		}
	}
	return nil
}
