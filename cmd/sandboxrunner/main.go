// Command sandboxrunner is the go-plugin-managed supervisor binary the
// Sandbox Engine's isolated profile execs per invocation (spec §4.10
// step 5). It runs inside the namespaces the Engine's parent process
// configured via SysProcAttr, applies the POSIX rlimits passed through
// its environment, then execs the tool interpreter named in
// runner_args.json.
//
// Grounded on the teacher's pkg/plugins/grpc.ServeLLMPlugin entry-point
// pattern, generalised from go-plugin's gRPC transport to its lighter
// net/rpc transport since this supervisor has exactly one method.
package main

import "github.com/solacelabs/agentmesh/pkg/sandbox"

func main() {
	sandbox.ServeSupervisor()
}
