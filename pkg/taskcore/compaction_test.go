package taskcore

import (
	"context"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/agent"
	"github.com/solacelabs/agentmesh/pkg/session"
	"github.com/solacelabs/agentmesh/pkg/utils"
)

type fakeSummarizer struct {
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(ctx context.Context, events []*agent.Event) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func seedConversation(t *testing.T, svc session.Service, getReq *session.GetRequest, turns int) session.Session {
	t.Helper()
	_, err := svc.Create(context.Background(), &session.CreateRequest{AppName: getReq.AppName, UserID: getReq.UserID, SessionID: getReq.SessionID})
	require.NoError(t, err)

	resp, err := svc.Get(context.Background(), getReq)
	require.NoError(t, err)
	sess := resp.Session

	for i := 0; i < turns; i++ {
		userEvt := agent.NewEvent("inv")
		userEvt.Author = agent.AuthorUser
		userEvt.Message = a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "this is user turn content padded for token counting purposes"})
		require.NoError(t, svc.AppendEvent(context.Background(), sess, userEvt))

		agentEvt := agent.NewEvent("inv")
		agentEvt.Author = "assistant"
		agentEvt.Message = a2a.NewMessage(a2a.MessageRoleAssistant, a2a.TextPart{Text: "this is the assistant reply content also padded a bit"})
		require.NoError(t, svc.AppendEvent(context.Background(), sess, agentEvt))
	}

	resp, err = svc.Get(context.Background(), getReq)
	require.NoError(t, err)
	return resp.Session
}

func TestCompactor_CompactsLeavingLastTurnIntact(t *testing.T) {
	svc := session.InMemoryService()
	getReq := &session.GetRequest{AppName: "app", UserID: "alice", SessionID: "sess"}
	sess := seedConversation(t, svc, getReq, 10)

	counter, err := utils.NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	c := &Compactor{Summarizer: &fakeSummarizer{summary: "summary of earlier turns"}, TokenCounter: counter}
	result, err := c.Compact(context.Background(), svc, getReq, sess)
	require.NoError(t, err)
	assert.Equal(t, "summary of earlier turns", result.Summary)

	refreshed, err := svc.Get(context.Background(), getReq)
	require.NoError(t, err)

	var visible int
	for range refreshed.Session.Events().All() {
		visible++
	}
	assert.Less(t, visible, 20, "filtered view must hide the compacted span")
	assert.Greater(t, visible, 0, "at least one turn must remain visible")
}

func TestCompactor_RecordsCompactionMetric(t *testing.T) {
	svc := session.InMemoryService()
	getReq := &session.GetRequest{AppName: "app", UserID: "alice", SessionID: "sess"}
	sess := seedConversation(t, svc, getReq, 10)

	counter, err := utils.NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	rec := &stubRecorder{}
	c := &Compactor{Summarizer: &fakeSummarizer{summary: "summary"}, TokenCounter: counter, Metrics: rec}
	_, err = c.Compact(context.Background(), svc, getReq, sess)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.compactionsTotal)
}

func TestCompactor_InsufficientHistoryOnShortConversation(t *testing.T) {
	svc := session.InMemoryService()
	getReq := &session.GetRequest{AppName: "app", UserID: "alice", SessionID: "sess"}
	sess := seedConversation(t, svc, getReq, 1)

	counter, err := utils.NewTokenCounter("gpt-4o")
	require.NoError(t, err)

	c := &Compactor{Summarizer: &fakeSummarizer{summary: "x"}, TokenCounter: counter}
	_, err = c.Compact(context.Background(), svc, getReq, sess)
	assert.Error(t, err)
	_, isInsufficient := err.(*InsufficientHistoryError)
	assert.True(t, isInsufficient)
}

func TestIsContextOverflow(t *testing.T) {
	assert.True(t, IsContextOverflow(assertErr("Error: maximum context length exceeded")))
	assert.True(t, IsContextOverflow(assertErr("context_length_exceeded")))
	assert.False(t, IsContextOverflow(assertErr("rate limit exceeded")))
	assert.False(t, IsContextOverflow(nil))
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
