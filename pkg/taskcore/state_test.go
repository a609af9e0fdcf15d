package taskcore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solacelabs/agentmesh/pkg/protocol"
)

func TestValidateTransition_AllowsDocumentedPath(t *testing.T) {
	assert.NoError(t, ValidateTransition(protocol.TaskStateSubmitted, protocol.TaskStateWorking))
	assert.NoError(t, ValidateTransition(protocol.TaskStateWorking, protocol.TaskStateInputRequired))
	assert.NoError(t, ValidateTransition(protocol.TaskStateInputRequired, protocol.TaskStateWorking))
	assert.NoError(t, ValidateTransition(protocol.TaskStateWorking, protocol.TaskStateCompleted))
}

func TestValidateTransition_RejectsTerminalEscape(t *testing.T) {
	err := ValidateTransition(protocol.TaskStateCompleted, protocol.TaskStateWorking)
	assert.Error(t, err)
}

func TestValidateTransition_RejectsSkippingSubmitted(t *testing.T) {
	err := ValidateTransition(protocol.TaskStateSubmitted, protocol.TaskStateCompleted)
	assert.Error(t, err)
}

func TestValidateTransition_SameStateIsIdempotent(t *testing.T) {
	assert.NoError(t, ValidateTransition(protocol.TaskStateWorking, protocol.TaskStateWorking))
}

func TestIsFinal(t *testing.T) {
	assert.True(t, IsFinal(protocol.TaskStateCompleted))
	assert.True(t, IsFinal(protocol.TaskStateFailed))
	assert.True(t, IsFinal(protocol.TaskStateCanceled))
	assert.False(t, IsFinal(protocol.TaskStateWorking))
	assert.False(t, IsFinal(protocol.TaskStateInputRequired))
}
