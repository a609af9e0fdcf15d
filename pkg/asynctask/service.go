package asynctask

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/solacelabs/agentmesh/pkg/broker"
	"github.com/solacelabs/agentmesh/pkg/topic"
)

// AsyncResponseRequest is one approver's outstanding ask, as supplied
// by the orchestrator to CreateTaskGroup (spec §4.9 step 1
// "async_responses[]").
type AsyncResponseRequest struct {
	ActionName      string
	ActionParams    map[string]any
	ActionIdx       int
	ActionListID    string
	Originator      string
	AsyncResponseID string
	ApproverList    []string
	UserForm        any
}

// Service implements the state machine spec §4.9 describes.
type Service struct {
	store       Store
	br          broker.Adapter
	builder     *topic.Builder
	taskTimeout time.Duration
}

// NewService constructs a Service. taskTimeout is applied to every task
// created via CreateTaskGroup; zero or negative uses 5 minutes.
func NewService(store Store, br broker.Adapter, builder *topic.Builder, taskTimeout time.Duration) *Service {
	if taskTimeout <= 0 {
		taskTimeout = 5 * time.Minute
	}
	return &Service{store: store, br: br, builder: builder, taskTimeout: taskTimeout}
}

// CreateTaskGroup allocates a task id per async response, persists the
// group as pending, and returns the group id (spec §4.9 step 1).
func (s *Service) CreateTaskGroup(ctx context.Context, stimulus any, sessionID, gatewayID string, responses []AsyncResponseRequest) (string, error) {
	groupID := "atg-" + uuid.NewString()
	now := time.Now()

	group := &TaskGroup{
		GroupID:   groupID,
		SessionID: sessionID,
		GatewayID: gatewayID,
		Stimulus:  stimulus,
		Status:    GroupStatusPending,
		Tasks:     make(map[string]*PendingTask, len(responses)),
	}
	for _, r := range responses {
		taskID := "at-" + uuid.NewString()
		group.Tasks[taskID] = &PendingTask{
			TaskID:          taskID,
			GroupID:         groupID,
			ActionName:      r.ActionName,
			ActionParams:    r.ActionParams,
			ActionIdx:       r.ActionIdx,
			ActionListID:    r.ActionListID,
			Originator:      r.Originator,
			AsyncResponseID: r.AsyncResponseID,
			ApproverList:    r.ApproverList,
			UserForm:        r.UserForm,
			SessionID:       sessionID,
			Status:          StatusPending,
			TimeoutTime:     now.Add(s.taskTimeout),
		}
	}

	if err := s.store.CreateGroup(ctx, group); err != nil {
		return "", fmt.Errorf("asynctask: create group: %w", err)
	}
	return groupID, nil
}

// UserResponse records one approver's answer; once every task in the
// group has left pending, the aggregated result is published (spec
// §4.9 step 2).
func (s *Service) UserResponse(ctx context.Context, taskID string, formData any) error {
	group, err := s.store.UpdateTask(ctx, taskID, func(t *PendingTask) error {
		if t.Status != StatusPending {
			return ErrTaskTerminal
		}
		t.Status = StatusCompleted
		t.UserResponse = formData
		return nil
	})
	if err != nil {
		return fmt.Errorf("asynctask: user response: %w", err)
	}

	if group.AllDone() {
		return s.finalizeGroup(ctx, group)
	}
	return nil
}

// AggregatedResponse is one task's contribution to a finalized group's
// published event (spec §4.9 "The aggregated event payload includes
// per-task {...}").
type AggregatedResponse struct {
	ActionName      string `json:"actionName"`
	ActionParams    any    `json:"actionParams"`
	ActionIdx       int    `json:"actionIdx"`
	ActionListID    string `json:"actionListId"`
	Originator      string `json:"originator"`
	AsyncResponseID string `json:"asyncResponseId"`
	UserResponse    any    `json:"userResponse,omitempty"`
}

type aggregatedEvent struct {
	GroupID   string               `json:"groupId"`
	SessionID string               `json:"sessionId"`
	TimedOut  bool                 `json:"timedOut"`
	Responses []AggregatedResponse `json:"responses"`
	Stimulus  any                  `json:"stimulus,omitempty"`
}

// finalizeGroup publishes the aggregate and marks the group completed.
// Callers must already know group.AllDone().
func (s *Service) finalizeGroup(ctx context.Context, group *TaskGroup) error {
	evt := aggregatedEvent{
		GroupID:   group.GroupID,
		SessionID: group.SessionID,
		TimedOut:  group.AnyTimedOut(),
		Stimulus:  group.Stimulus,
	}
	for _, t := range group.Tasks {
		evt.Responses = append(evt.Responses, AggregatedResponse{
			ActionName:      t.ActionName,
			ActionParams:    t.ActionParams,
			ActionIdx:       t.ActionIdx,
			ActionListID:    t.ActionListID,
			Originator:      t.Originator,
			AsyncResponseID: t.AsyncResponseID,
			UserResponse:    t.UserResponse,
		})
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("asynctask: marshal aggregate: %w", err)
	}
	if err := s.br.Publish(ctx, s.builder.OrchestratorAsyncResponse(), payload, nil); err != nil {
		return fmt.Errorf("asynctask: publish aggregate: %w", err)
	}
	return s.store.MarkGroupCompleted(ctx, group.GroupID)
}

// Sweep finds every task past its deadline, marks it timed out, and
// finalizes any group that is now fully done — concurrently across
// groups, since one sweep pass may surface timeouts spanning many
// unrelated stimuli (spec §4.9 step 3, §5 "timeout_sweeper (periodic)").
func (s *Service) Sweep(ctx context.Context) error {
	overdue, err := s.store.SweepPending(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("asynctask: sweep: list pending: %w", err)
	}
	if len(overdue) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pending := range overdue {
		taskID := pending.TaskID
		g.Go(func() error {
			group, err := s.store.UpdateTask(gctx, taskID, func(t *PendingTask) error {
				if t.Status != StatusPending {
					return nil
				}
				t.Status = StatusTimedOut
				return nil
			})
			if err != nil {
				return fmt.Errorf("asynctask: sweep task %q: %w", taskID, err)
			}
			if group.AllDone() {
				return s.finalizeGroup(gctx, group)
			}
			return nil
		})
	}
	return g.Wait()
}

// PendingForm is one projected entry of GetPendingForms (spec §4.9
// "projecting {task_id, session_id, stimulus_uuid, user_form}").
type PendingForm struct {
	TaskID       string `json:"taskId"`
	SessionID    string `json:"sessionId"`
	StimulusUUID string `json:"stimulusUuid"`
	UserForm     any    `json:"userForm"`
}

// GetPendingForms returns every task awaiting identity's response within
// gatewayID's groups (spec §4.9 "get_pending_forms(gateway_id, identity)").
func (s *Service) GetPendingForms(ctx context.Context, gatewayID, identity string) ([]PendingForm, error) {
	tasks, err := s.store.ListPendingForApprover(ctx, gatewayID, identity)
	if err != nil {
		return nil, fmt.Errorf("asynctask: get pending forms: %w", err)
	}
	out := make([]PendingForm, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, PendingForm{TaskID: t.TaskID, SessionID: t.SessionID, StimulusUUID: t.StimulusUUID, UserForm: t.UserForm})
	}
	return out, nil
}
