package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/solacelabs/agentmesh/pkg/artifact"
	"github.com/solacelabs/agentmesh/pkg/discovery"
	"github.com/solacelabs/agentmesh/pkg/embed"
	"github.com/solacelabs/agentmesh/pkg/protocol"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// handleQueueItem is the bridge loop's per-item dispatch (spec §4.8.2
// "On each internal queue item"): discovery traffic updates the local
// Agent Registry, this gateway's own response/status traffic is parsed
// and handed to processParsedEvent, anything else is acked and
// ignored.
func (g *Gateway) handleQueueItem(ctx context.Context, item queueItem) {
	discoveryPrefix := g.builder.Namespace + "a2a/v1/discovery/agentcards/"
	if strings.HasPrefix(item.topic, discoveryPrefix) {
		g.handleDiscoveryItem(item, discoveryPrefix)
		return
	}

	statusPrefix := g.builder.Namespace + fmt.Sprintf("a2a/v1/gateway/status/%s/", g.cfg.GatewayID)
	responsePrefix := g.builder.Namespace + fmt.Sprintf("a2a/v1/gateway/response/%s/", g.cfg.GatewayID)

	var taskID string
	var ok bool
	if taskID, ok = topic.ExtractTrailingID(item.topic, statusPrefix); !ok {
		taskID, ok = topic.ExtractTrailingID(item.topic, responsePrefix)
	}
	if !ok {
		item.msg.Ack()
		return
	}

	externalCtx, found := g.ctxMgr.Get(taskID)
	if !found {
		g.log.Warn("gateway: no external context for task, dropping", "task_id", taskID)
		item.msg.Ack()
		return
	}

	parsed, err := parseEventPayload(item.payload)
	if err != nil {
		g.log.Warn("gateway: malformed event payload", "task_id", taskID, "error", err)
		item.msg.Nack()
		time.Sleep(g.cfg.NackBackoff)
		return
	}
	if parsed.taskID != "" && parsed.taskID != taskID {
		g.log.Warn("gateway: task id mismatch between topic and payload", "topic_task_id", taskID, "payload_task_id", parsed.taskID)
		item.msg.Nack()
		time.Sleep(g.cfg.NackBackoff)
		return
	}

	if err := g.processParsedEvent(ctx, taskID, externalCtx, parsed); err != nil {
		g.log.Warn("gateway: process event failed", "task_id", taskID, "error", err)
		item.msg.Nack()
		time.Sleep(g.cfg.NackBackoff)
		return
	}
	item.msg.Ack()
}

func (g *Gateway) handleDiscoveryItem(item queueItem, prefix string) {
	name, ok := topic.ExtractTrailingID(item.topic, prefix)
	if !ok {
		item.msg.Nack()
		return
	}
	var card discovery.Card
	if err := json.Unmarshal(item.payload, &card); err != nil {
		g.log.Warn("gateway: malformed discovery card", "agent", name, "error", err)
		item.msg.Nack()
		return
	}
	g.agents.Upsert(name, card)
	item.msg.Ack()
}

// parsedEvent is the outcome of sniffing a gateway-owned topic's raw
// JSON payload for which of the four wire shapes it carries (spec
// §4.8.2 "parse payload as a JSON-RPC response").
type parsedEvent struct {
	taskID   string
	errorVal *protocol.RPCError
	task     *protocol.Task
	status   *protocol.TaskStatusUpdateEvent
	artifact *protocol.TaskArtifactUpdateEvent
}

func parseEventPayload(payload []byte) (*parsedEvent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("gateway: unmarshal event: %w", err)
	}

	if _, hasError := probe["error"]; hasError {
		var errEvent struct {
			Error *protocol.RPCError `json:"error"`
		}
		if err := json.Unmarshal(payload, &errEvent); err != nil {
			return nil, fmt.Errorf("gateway: unmarshal error event: %w", err)
		}
		return &parsedEvent{errorVal: errEvent.Error}, nil
	}

	if _, hasArtifact := probe["artifact"]; hasArtifact {
		var evt protocol.TaskArtifactUpdateEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("gateway: unmarshal artifact event: %w", err)
		}
		return &parsedEvent{taskID: evt.TaskID, artifact: &evt}, nil
	}

	if _, hasFinal := probe["final"]; hasFinal {
		var evt protocol.TaskStatusUpdateEvent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("gateway: unmarshal status event: %w", err)
		}
		return &parsedEvent{taskID: evt.TaskID, status: &evt}, nil
	}

	var task protocol.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("gateway: unmarshal task: %w", err)
	}
	return &parsedEvent{taskID: task.TaskID, task: &task}, nil
}

// processParsedEvent implements spec §4.8.2's process_parsed_a2a_event.
func (g *Gateway) processParsedEvent(ctx context.Context, taskID string, externalCtx ExternalContext, parsed *parsedEvent) error {
	// Step 1: JSONRPCError terminates the task's external context
	// immediately, with no further processing.
	if parsed.errorVal != nil {
		err := g.cfg.Sink.Deliver(ctx, taskID, externalCtx, &OutboundEvent{Kind: EventKindError, Error: parsed.errorVal})
		g.ctxMgr.Remove(taskID)
		return err
	}

	switch {
	case parsed.artifact != nil:
		return g.processArtifactUpdate(ctx, taskID, externalCtx, parsed.artifact)
	case parsed.status != nil:
		return g.processStatusUpdate(ctx, taskID, externalCtx, parsed.status, false)
	case parsed.task != nil:
		return g.processTerminalTask(ctx, taskID, externalCtx, parsed.task)
	default:
		return fmt.Errorf("gateway: parsed event carries no payload")
	}
}

func (g *Gateway) processArtifactUpdate(ctx context.Context, taskID string, externalCtx ExternalContext, evt *protocol.TaskArtifactUpdateEvent) error {
	if g.cfg.ResolveArtifactURIs {
		g.resolveArtifactURIsInPlace(ctx, evt.Artifact.Parts)
	}
	g.resolveLateEmbedsInParts(ctx, evt.Artifact.Parts)
	return g.cfg.Sink.Deliver(ctx, taskID, externalCtx, &OutboundEvent{Kind: EventKindArtifact, Artifact: evt})
}

// processStatusUpdate handles step 2 for non-terminal status updates:
// optional artifact:// resolution, late-phase embed resolution and its
// signals, and the drop-empty-intermediate rule (spec §4.8.2 steps
// 2a-2c). finalizing suppresses signal-derived status updates, since a
// terminal event is about to follow (spec §4.8.4).
func (g *Gateway) processStatusUpdate(ctx context.Context, taskID string, externalCtx ExternalContext, evt *protocol.TaskStatusUpdateEvent, finalizing bool) error {
	modified := false
	if evt.Message != nil {
		// Buffer the raw (pre-resolution) suffix so embed delimiters that
		// span chunk boundaries can be completed at the terminal flush
		// (spec §4.7.5, §4.8.3).
		for _, p := range evt.Message.Parts {
			if p.Kind == protocol.PartKindText {
				g.ctxMgr.AppendStreamBuffer(taskID, p.Text)
			}
		}
		if g.cfg.ResolveArtifactURIs {
			if g.resolveArtifactURIsInPlace(ctx, evt.Message.Parts) {
				modified = true
			}
		}
		signals, changed := g.resolveLateEmbedsInPartsWithSignals(ctx, evt.Message.Parts)
		if changed {
			modified = true
		}
		if !finalizing {
			for _, sig := range signals {
				if sig.Kind != "SIGNAL_STATUS_UPDATE" {
					continue
				}
				text, _ := sig.Data.(string)
				signalEvt := &protocol.TaskStatusUpdateEvent{
					TaskID:    evt.TaskID,
					ContextID: evt.ContextID,
					State:     evt.State,
					Message:   &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart(text)}},
					Final:     false,
					Metadata:  map[string]any{"source": "gateway_signal"},
					Timestamp: time.Now(),
				}
				if err := g.cfg.Sink.Deliver(ctx, taskID, externalCtx, &OutboundEvent{Kind: EventKindStatus, Status: signalEvt}); err != nil {
					return err
				}
			}
		}
	}

	if g.isEmptyStatusUpdate(evt) && !modified && !evt.Final {
		return nil
	}
	return g.cfg.Sink.Deliver(ctx, taskID, externalCtx, &OutboundEvent{Kind: EventKindStatus, Status: evt})
}

func (g *Gateway) isEmptyStatusUpdate(evt *protocol.TaskStatusUpdateEvent) bool {
	if evt.Message == nil || len(evt.Message.Parts) == 0 {
		return true
	}
	for _, p := range evt.Message.Parts {
		if p.Kind == protocol.PartKindText && strings.TrimSpace(p.Text) != "" {
			return false
		}
		if p.Kind != protocol.PartKindText {
			return false
		}
	}
	return true
}

// processTerminalTask implements step 2d: flush the stream buffer as a
// non-final status update before the terminal event, then remove all
// bookkeeping for the task.
func (g *Gateway) processTerminalTask(ctx context.Context, taskID string, externalCtx ExternalContext, task *protocol.Task) error {
	if flushed := g.ctxMgr.FlushStreamBuffer(taskID); flushed != "" {
		resolved, err := g.cfg.resolveLateText(ctx, flushed)
		if err != nil {
			return fmt.Errorf("gateway: resolve flushed buffer: %w", err)
		}
		flushEvt := &protocol.TaskStatusUpdateEvent{
			TaskID:    task.TaskID,
			ContextID: task.ContextID,
			State:     protocol.TaskStateWorking,
			Message:   &protocol.Message{Role: protocol.RoleAgent, Parts: []protocol.Part{protocol.TextPart(resolved)}},
			Final:     false,
			Timestamp: time.Now(),
		}
		if err := g.cfg.Sink.Deliver(ctx, taskID, externalCtx, &OutboundEvent{Kind: EventKindStatus, Status: flushEvt}); err != nil {
			return err
		}
	}

	if g.cfg.ResolveArtifactURIs {
		for i := range task.Artifacts {
			g.resolveArtifactURIsInPlace(ctx, task.Artifacts[i].Parts)
		}
	}
	for i := range task.Artifacts {
		g.resolveLateEmbedsInParts(ctx, task.Artifacts[i].Parts)
	}

	err := g.cfg.Sink.Deliver(ctx, taskID, externalCtx, &OutboundEvent{Kind: EventKindResult, Task: task})
	g.ctxMgr.Remove(taskID)
	return err
}

// resolveArtifactURIsInPlace replaces artifact:// FileParts with their
// loaded bytes (spec §4.8.2 step 2a). It reports whether any part was
// changed.
func (g *Gateway) resolveArtifactURIsInPlace(ctx context.Context, parts []protocol.Part) bool {
	if g.cfg.ArtifactStore == nil {
		return false
	}
	changed := false
	for i, p := range parts {
		if p.Kind != protocol.PartKindFile || p.File == nil || !p.File.HasURI() {
			continue
		}
		loaded, ok := g.loadArtifactURI(ctx, p.File.URI)
		if !ok {
			continue
		}
		parts[i].File = loaded
		changed = true
	}
	return changed
}

func (g *Gateway) loadArtifactURI(ctx context.Context, uri string) (*protocol.FilePart, bool) {
	parsed, err := artifact.ParseURI(uri)
	if err != nil {
		g.log.Warn("gateway: malformed artifact uri", "uri", uri, "error", err)
		return nil, false
	}
	blob, ok, err := g.cfg.ArtifactStore.Get(ctx, parsed.Scope, parsed.UserID, parsed.SessionID, parsed.Filename, parsed.Version)
	if err != nil || !ok {
		g.log.Warn("gateway: artifact uri load miss", "uri", uri, "error", err)
		return nil, false
	}
	return &protocol.FilePart{Name: parsed.Filename, MimeType: blob.MimeType, Bytes: blob.Data}, true
}

// resolveLateEmbedsInParts resolves late-phase embeds in text parts and
// text-typed FileWithBytes parts (spec §4.8.2 step 2b), discarding any
// signals raised.
func (g *Gateway) resolveLateEmbedsInParts(ctx context.Context, parts []protocol.Part) {
	g.resolveLateEmbedsInPartsWithSignals(ctx, parts)
}

func (g *Gateway) resolveLateEmbedsInPartsWithSignals(ctx context.Context, parts []protocol.Part) ([]embed.Signal, bool) {
	if g.cfg.EmbedResolver == nil {
		return nil, false
	}
	var allSignals []embed.Signal
	changed := false
	for i, p := range parts {
		switch {
		case p.Kind == protocol.PartKindText:
			resolved, signals, err := g.cfg.EmbedResolver.ResolveLateWithSignals(ctx, p.Text, &embed.Context{})
			if err != nil {
				g.log.Warn("gateway: late embed resolve failed", "error", err)
				continue
			}
			if resolved != p.Text {
				parts[i].Text = resolved
				changed = true
			}
			allSignals = append(allSignals, signals...)
		case p.Kind == protocol.PartKindFile && p.File != nil && !p.File.HasURI() && embed.IsContainer(p.File.MimeType, string(p.File.Bytes)):
			resolved, signals, err := g.cfg.EmbedResolver.ResolveLateWithSignals(ctx, string(p.File.Bytes), &embed.Context{})
			if err != nil {
				g.log.Warn("gateway: late embed resolve failed", "error", err)
				continue
			}
			if resolved != string(p.File.Bytes) {
				parts[i].File.Bytes = []byte(resolved)
				changed = true
			}
			allSignals = append(allSignals, signals...)
		}
	}
	return allSignals, changed
}

// resolveLateText is the single-string convenience form used for
// stream-buffer flushes, which have no Part wrapper to select on.
func (c *Config) resolveLateText(ctx context.Context, text string) (string, error) {
	if c.EmbedResolver == nil {
		return text, nil
	}
	resolved, _, err := c.EmbedResolver.ResolveLateWithSignals(ctx, text, &embed.Context{})
	return resolved, err
}
