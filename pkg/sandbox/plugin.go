package sandbox

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"
)

func execCommand(path string) *exec.Cmd {
	return exec.Command(path)
}

// handshakeConfig is the go-plugin handshake every sandbox supervisor
// binary and this engine must agree on, grounded on the teacher's
// pkg/plugins/grpc handshakeConfig for its LLM/embedder/database
// providers.
var handshakeConfig = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "AGENTMESH_SANDBOX_PLUGIN",
	MagicCookieValue: "a2a-sandbox-v1",
}

// supervisorArgs/supervisorResult cross the net/rpc boundary to the
// supervisor binary; they mirror runnerArgs/runnerResult but stay
// independent since the RPC wire shape is a narrower, stable contract
// the supervisor binary versions separately from engine internals.
type supervisorArgs struct {
	WorkDir        string
	RunnerArgsPath string
	SandboxProfile string
	TimeoutSeconds float64
}

type supervisorResult struct {
	Result   any
	Error    string
	TimedOut bool
}

// supervisorRPC is the interface the go-plugin child process implements
// (net/rpc based, not gRPC, per the teacher's lighter-weight provider
// plugins) and the parent calls through.
type supervisorRPC interface {
	Execute(args supervisorArgs) (supervisorResult, error)
}

// SupervisorPlugin adapts supervisorRPC to go-plugin's net/rpc Plugin
// contract (spec §4.10 step 5 "isolated" mode).
type SupervisorPlugin struct {
	Impl supervisorRPC
}

func (p *SupervisorPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &supervisorRPCServer{impl: p.Impl}, nil
}

func (p *SupervisorPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &supervisorRPCClient{client: c}, nil
}

type supervisorRPCServer struct {
	impl supervisorRPC
}

func (s *supervisorRPCServer) Execute(args supervisorArgs, resp *supervisorResult) error {
	result, err := s.impl.Execute(args)
	*resp = result
	if err != nil {
		return err
	}
	return nil
}

type supervisorRPCClient struct {
	client *rpc.Client
}

func (c *supervisorRPCClient) Execute(args supervisorArgs) (supervisorResult, error) {
	var resp supervisorResult
	err := c.client.Call("Plugin.Execute", args, &resp)
	return resp, err
}

// isolatedRunner spawns the sandbox supervisor binary once per
// invocation via go-plugin and delegates the namespace+rlimit-isolated
// execution to it, relaying FIFO status lines the same way directRunner
// does. go-plugin supervises the child process (handshake, stdio
// plumbing, Kill()); it does not itself sandbox anything — Run applies
// applyIsolation's namespace flags and rlimit env to the supervisor
// command, and the supervisor binary sets those rlimits on itself
// before it execs the tool interpreter.
type isolatedRunner struct {
	supervisorPath string
	log            hclog.Logger
}

func newIsolatedRunner(supervisorPath string) *isolatedRunner {
	return &isolatedRunner{
		supervisorPath: supervisorPath,
		log: hclog.New(&hclog.LoggerOptions{
			Name:  "agentmesh-sandbox",
			Level: hclog.Warn,
		}),
	}
}

func (r *isolatedRunner) Run(ctx context.Context, workDir string, args runnerArgs, spec ToolSpec, timeout time.Duration, onStatus StatusFunc) (runnerResult, bool, error) {
	cmd := execCommand(r.supervisorPath)
	applyIsolation(cmd, spec.SandboxProfile)
	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: handshakeConfig,
		Plugins: map[string]goplugin.Plugin{
			"supervisor": &SupervisorPlugin{},
		},
		Cmd:              cmd,
		Logger:           r.log,
		AllowedProtocols: []goplugin.Protocol{goplugin.ProtocolNetRPC},
	})
	defer client.Kill()

	rpcClient, err := client.Client()
	if err != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: supervisor handshake: %w", err)
	}
	raw, err := rpcClient.Dispense("supervisor")
	if err != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: dispense supervisor: %w", err)
	}
	supervisor, ok := raw.(supervisorRPC)
	if !ok {
		return runnerResult{}, false, fmt.Errorf("sandbox: supervisor plugin has unexpected type %T", raw)
	}

	statusDone := make(chan struct{})
	go func() {
		defer close(statusDone)
		relayStatus(args.StatusPipe, onStatus)
	}()

	resp, err := supervisor.Execute(supervisorArgs{
		WorkDir:        workDir,
		RunnerArgsPath: workDir + "/runner_args.json",
		SandboxProfile: spec.SandboxProfile,
		TimeoutSeconds: timeout.Seconds(),
	})
	<-statusDone
	if err != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: supervisor execute: %w", err)
	}
	if resp.TimedOut {
		return runnerResult{}, true, nil
	}
	return runnerResult{Result: resp.Result, Error: resp.Error}, false, nil
}
