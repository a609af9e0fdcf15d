package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// mcpRunner is the Runner bound to manifest entries with `runtime: mcp`
// (SPEC_FULL.md: "one concrete sandbox tool-runtime binding alongside
// the manifest's runtime: python/subprocess path"). It bypasses the
// subprocess/FIFO/rlimit pipeline entirely: an MCP server is already a
// separate, independently-isolated process, so module/function here
// name the MCP server command and tool instead of a Python import path.
//
// Grounded on the teacher's pkg/tool/mcptoolset stdio connection idiom
// (client.NewStdioMCPClient, Initialize, CallTool), trimmed to the
// single call-and-close lifecycle one sandbox invocation needs.
type mcpRunner struct{}

func newMCPRunner() *mcpRunner { return &mcpRunner{} }

func (r *mcpRunner) Run(ctx context.Context, workDir string, args runnerArgs, spec ToolSpec, timeout time.Duration, onStatus StatusFunc) (runnerResult, bool, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	mcpClient, err := client.NewStdioMCPClient(spec.Module, nil)
	if err != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: mcp client: %w", err)
	}
	defer mcpClient.Close()

	if err := mcpClient.Start(runCtx); err != nil {
		return runnerResult{}, false, fmt.Errorf("sandbox: mcp start: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentmesh-sandbox", Version: "1.0.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(runCtx, initReq); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return runnerResult{}, true, nil
		}
		return runnerResult{}, false, fmt.Errorf("sandbox: mcp initialize: %w", err)
	}

	if onStatus != nil {
		onStatus(StatusUpdate{TaskID: "", Status: "mcp_connected"})
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = spec.Function
	callReq.Params.Arguments = args.Args

	resp, err := mcpClient.CallTool(runCtx, callReq)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return runnerResult{}, true, nil
		}
		return runnerResult{}, false, fmt.Errorf("sandbox: mcp call: %w", err)
	}

	if resp.IsError {
		return runnerResult{Error: mcpResultText(resp)}, false, nil
	}
	return runnerResult{Result: mcpResultText(resp)}, false, nil
}

func mcpResultText(resp *mcp.CallToolResult) string {
	for _, content := range resp.Content {
		if text, ok := content.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}
