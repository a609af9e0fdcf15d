package artifact

import (
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI_RejectsWrongScheme(t *testing.T) {
	_, err := ParseURI("https://app/alice/sess/f.txt")
	assert.Error(t, err)
}

func TestParseURI_RejectsMalformedPath(t *testing.T) {
	_, err := ParseURI("artifact://app/alice/f.txt")
	assert.Error(t, err, "missing session segment must be rejected")
}

func TestParseURI_RejectsInvalidVersion(t *testing.T) {
	_, err := ParseURI("artifact://app/alice/sess/f.txt?version=abc")
	assert.Error(t, err)
}

func TestParseURI_DecodesEscapedSegments(t *testing.T) {
	u := URI("my app", "alice/bob", "sess one", "f.txt", 2)
	parsed, err := ParseURI(u)
	require.NoError(t, err)
	assert.Equal(t, "my app", parsed.Scope)
	assert.Equal(t, "alice/bob", parsed.UserID)
	assert.Equal(t, "sess one", parsed.SessionID)
	assert.Equal(t, "f.txt", parsed.Filename)
	assert.EqualValues(t, 2, parsed.Version)
}

func TestURI_RoundTripProperty(t *testing.T) {
	f := func(scope, userID, sessionID, filename string, version int64) bool {
		if scope == "" || userID == "" || sessionID == "" || filename == "" {
			return true
		}
		if version < 0 {
			version = -version - 1
		}
		u := URI(scope, userID, sessionID, filename, version)
		parsed, err := ParseURI(u)
		if err != nil {
			return false
		}
		return parsed.Scope == scope && parsed.UserID == userID &&
			parsed.SessionID == sessionID && parsed.Filename == filename &&
			parsed.Version == version
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Error(err)
	}
}
