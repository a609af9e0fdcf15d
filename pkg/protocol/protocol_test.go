package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskState_IsTerminal(t *testing.T) {
	assert.False(t, TaskStateSubmitted.IsTerminal())
	assert.False(t, TaskStateWorking.IsTerminal())
	assert.False(t, TaskStateInputRequired.IsTerminal())
	assert.True(t, TaskStateCompleted.IsTerminal())
	assert.True(t, TaskStateFailed.IsTerminal())
	assert.True(t, TaskStateCanceled.IsTerminal())
}

func TestEnvelopeConstructors(t *testing.T) {
	req := NewRequest("id-1", MethodMessageSend, SendMessageParams{Message: Message{Role: RoleUser}})
	assert.Equal(t, Version, req.JSONRPC)
	assert.Equal(t, "id-1", req.ID)
	assert.Nil(t, req.Error)

	res := NewResult("id-1", Task{TaskID: "t1", State: TaskStateCompleted})
	assert.Equal(t, "id-1", res.ID)
	assert.Nil(t, res.Error)

	errEnv := NewError("id-1", ErrAuthDenied("no scope"))
	assert.Equal(t, CodeAuthDenied, errEnv.Error.Code)
}
