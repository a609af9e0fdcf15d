package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/observability"
)

// stubRecorder embeds the no-op Recorder and overrides only the
// events-received-per-topic counter this package drives.
type stubRecorder struct {
	observability.NoopMetrics
	topics []string
}

func (r *stubRecorder) RecordEventReceived(topicName string) {
	r.topics = append(r.topics, topicName)
}

func TestMemoryBroker_OrderedDeliveryAndWildcard(t *testing.T) {
	b := NewMemoryBroker(8)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "ns/a2a/v1/agent/request/>", "q1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, "ns/a2a/v1/agent/request/weather", []byte{byte(i)}, nil))
	}

	got := make([]byte, 0, 5)
	for i := 0; i < 5; i++ {
		select {
		case m := <-sub.ch:
			got = append(got, m.Payload[0])
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
	assert.Equal(t, []byte{0, 1, 2, 3, 4}, got)
}

func TestMemoryBroker_NonMatchingPatternNotDelivered(t *testing.T) {
	b := NewMemoryBroker(4)
	ctx := context.Background()

	sub, err := b.Subscribe(ctx, "ns/a2a/v1/agent/request/weather", "q1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ns/a2a/v1/agent/request/other", []byte("x"), nil))

	select {
	case <-sub.ch:
		t.Fatal("should not have received message for non-matching topic")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBroker_IsConnectedAlwaysTrue(t *testing.T) {
	b := NewMemoryBroker(1)
	assert.True(t, b.IsConnected())
	require.NoError(t, b.Close())
	assert.True(t, b.IsConnected())
}

func TestMemoryBroker_PublishAfterCloseErrors(t *testing.T) {
	b := NewMemoryBroker(1)
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), "ns/x", nil, nil)
	assert.Error(t, err)
}

func TestMemoryBroker_RecordsEventReceivedPerTopic(t *testing.T) {
	b := NewMemoryBroker(4)
	ctx := context.Background()
	rec := &stubRecorder{}
	b.SetMetrics(rec)

	sub, err := b.Subscribe(ctx, "ns/a2a/v1/agent/request/>", "q1")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "ns/a2a/v1/agent/request/weather", []byte("x"), nil))
	select {
	case <-sub.ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	assert.Equal(t, []string{"ns/a2a/v1/agent/request/weather"}, rec.topics)
}

func TestMemoryBroker_NilMetricsRecordsNothing(t *testing.T) {
	b := NewMemoryBroker(4)
	ctx := context.Background()
	_, err := b.Subscribe(ctx, "ns/a", "q1")
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		require.NoError(t, b.Publish(ctx, "ns/a", []byte("x"), nil))
	})
}

func TestMemoryBroker_DuplicateSubscribeErrors(t *testing.T) {
	b := NewMemoryBroker(1)
	ctx := context.Background()
	_, err := b.Subscribe(ctx, "ns/a", "q1")
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "ns/a", "q2")
	assert.Error(t, err)
}
