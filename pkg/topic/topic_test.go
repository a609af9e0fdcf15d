package topic

import (
	"regexp"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderTopics(t *testing.T) {
	b := NewBuilder("acme/dev")

	assert.Equal(t, "acme/dev/a2a/v1/discovery/agentcards/weather", b.DiscoveryCard("weather"))
	assert.Equal(t, "acme/dev/a2a/v1/discovery/agentcards/>", b.DiscoverySubscription())
	assert.Equal(t, "acme/dev/a2a/v1/agent/request/weather", b.AgentRequest("weather"))
	assert.Equal(t, "acme/dev/a2a/v1/gateway/response/gw1/t-123", b.GatewayResponse("gw1", "t-123"))
	assert.Equal(t, "acme/dev/sam/v1/control/get/apps/myapp", b.ControlPlane("get", "myapp"))
	assert.Equal(t, "acme/dev/solace-agent-mesh/v1/stimulus/orchestrator/asyncResponse", b.OrchestratorAsyncResponse())
}

func TestMatches_Table(t *testing.T) {
	cases := []struct {
		pattern, topicStr string
		want              bool
	}{
		{"ns/a2a/v1/discovery/agentcards/>", "ns/a2a/v1/discovery/agentcards/weather", true},
		{"ns/a2a/v1/discovery/agentcards/>", "ns/a2a/v1/discovery/agentcards/weather/extra", true},
		{"ns/a2a/v1/discovery/agentcards/>", "ns/a2a/v1/discovery/other", false},
		{"ns/a2a/v1/gateway/*/gw1/>", "ns/a2a/v1/gateway/status/gw1/t1", true},
		{"ns/a2a/v1/gateway/*/gw1/>", "ns/a2a/v1/gateway/status/gw2/t1", false},
		{"ns/a2a/v1/agent/request/weather", "ns/a2a/v1/agent/request/weather", true},
		{"ns/a2a/v1/agent/request/weather", "ns/a2a/v1/agent/request/other", false},
		{"ns/a2a/v1/agent/request/weather", "ns/a2a/v1/agent/request/weather/extra", false},
	}
	for _, c := range cases {
		got := Matches(c.pattern, c.topicStr)
		assert.Equalf(t, c.want, got, "pattern=%q topic=%q", c.pattern, c.topicStr)
	}
}

// P3: subscription_to_regex is an involution with topic_matches_subscription
// for any (pattern, topic) pair in a generated set — the regex rendering of
// a pattern must agree with Matches on every generated (pattern, topic) pair.
func TestMatches_AgreesWithRegex_Property(t *testing.T) {
	gen := func() []string {
		return []string{
			"ns/a2a/v1/agent/request/weather",
			"ns/a2a/v1/agent/request/other",
			"ns/a2a/v1/discovery/agentcards/>",
			"ns/a2a/v1/discovery/agentcards/weather",
			"ns/a2a/v1/gateway/*/gw1/>",
			"ns/a2a/v1/gateway/status/gw1/t1",
			"ns/a2a/v1/gateway/response/gw1/t1",
		}
	}
	topics := gen()
	f := func(i, j uint8) bool {
		pattern := topics[int(i)%len(topics)]
		topicStr := topics[int(j)%len(topics)]
		re := regexp.MustCompile(ToRegexString(pattern))
		return Matches(pattern, topicStr) == re.MatchString(topicStr)
	}
	require.NoError(t, quick.Check(f, &quick.Config{MaxCount: 500}))
}

func TestExtractTrailingID(t *testing.T) {
	id, ok := ExtractTrailingID("ns/a2a/v1/gateway/response/gw1/t-123", "ns/a2a/v1/gateway/response/gw1/")
	require.True(t, ok)
	assert.Equal(t, "t-123", id)

	_, ok = ExtractTrailingID("ns/a2a/v1/gateway/response/gw1/t-123/extra", "ns/a2a/v1/gateway/response/gw1/")
	assert.False(t, ok)

	_, ok = ExtractTrailingID("ns/other/topic", "ns/a2a/v1/gateway/response/gw1/")
	assert.False(t, ok)
}
