package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/solacelabs/agentmesh/pkg/middleware"
	"github.com/solacelabs/agentmesh/pkg/protocol"
)

// SubmitRequest carries the inputs to SubmitTask (spec §4.8.1
// `submit_a2a_task(target_agent, parts, external_ctx, user_identity,
// streaming, api_version)`).
type SubmitRequest struct {
	TargetAgent       string
	Parts             []protocol.Part
	ExternalCtx       ExternalContext
	Identity          middleware.UserIdentity
	Streaming         bool
	ValidationContext map[string]any
}

// SubmitTask runs the eight-step task-submission flow and returns the
// allocated task id (spec §4.8.1).
func (g *Gateway) SubmitTask(ctx context.Context, req SubmitRequest) (string, error) {
	// Step 1: reject a falsy or id-less identity.
	if !req.Identity.Valid() {
		return "", fmt.Errorf("gateway: %w", errPermissionDenied)
	}

	// Step 2: resolve user_config via the pluggable ConfigResolver.
	userConfig, err := g.cfg.Middleware.ConfigResolver().ResolveUserConfig(ctx, req.TargetAgent, req.Identity)
	if err != nil {
		return "", fmt.Errorf("gateway: resolve user config: %w", err)
	}

	// Step 3: enforce the scope check before any publish.
	if err := g.cfg.Middleware.AccessValidator().ValidateAgentAccess(ctx, req.TargetAgent, userConfig, req.ValidationContext); err != nil {
		return "", fmt.Errorf("gateway: %w: %v", errPermissionDenied, err)
	}

	// Step 4: prepend a reception-timestamp TextPart.
	parts := append([]protocol.Part{protocol.TextPart("received " + time.Now().UTC().Format(time.RFC3339))}, req.Parts...)

	// Step 5: allocate the task id.
	taskID := NewTaskID()

	// Step 6: store external_ctx.
	g.ctxMgr.Store(taskID, req.ExternalCtx)

	// Step 7: publish the request with routing user properties.
	method := protocol.MethodMessageSend
	if req.Streaming {
		method = protocol.MethodMessageStream
	}

	params := protocol.SendMessageParams{
		Message: protocol.Message{Role: protocol.RoleUser, Parts: parts},
		TaskID:  taskID,
	}
	envelope := protocol.NewRequest(taskID, method, params)
	payload, err := json.Marshal(envelope)
	if err != nil {
		g.ctxMgr.Remove(taskID)
		return "", fmt.Errorf("gateway: marshal request: %w", err)
	}

	userProps := map[string]any{
		"clientId":      g.cfg.GatewayID,
		"userId":        req.Identity.ID,
		"a2aUserConfig": userConfig,
		"replyTo":       g.builder.GatewayResponse(g.cfg.GatewayID, taskID),
	}
	if req.Streaming {
		userProps["a2aStatusTopic"] = g.builder.GatewayStatus(g.cfg.GatewayID, taskID)
	}

	if err := g.br.Publish(ctx, g.builder.AgentRequest(req.TargetAgent), payload, userProps); err != nil {
		g.ctxMgr.Remove(taskID)
		return "", fmt.Errorf("gateway: publish request: %w", err)
	}

	// Step 8: return the task id.
	return taskID, nil
}

var errPermissionDenied = fmt.Errorf("permission denied")
