package apphost

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacelabs/agentmesh/pkg/broker"
)

type fakeApp struct {
	info      Info
	startErr  error
	stopErr   error
	startedAt int
	stoppedAt int
	calls     *[]string
}

func (a *fakeApp) Info() Info { return a.info }

func (a *fakeApp) Start(ctx context.Context, br broker.Adapter) error {
	if a.startErr != nil {
		return a.startErr
	}
	*a.calls = append(*a.calls, "start:"+a.info.Name)
	return nil
}

func (a *fakeApp) Stop(ctx context.Context) error {
	*a.calls = append(*a.calls, "stop:"+a.info.Name)
	return a.stopErr
}

func (a *fakeApp) HandleManagementRequest(ctx context.Context, req ManagementRequest) (*ManagementResponse, error) {
	return &ManagementResponse{StatusCode: 200, Body: []byte(a.info.Name)}, nil
}

func TestHost_StartsAppsInOrderAndStopsInReverse(t *testing.T) {
	var calls []string
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)

	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "a", Enabled: true}, calls: &calls}))
	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "b", Enabled: true}, calls: &calls}))

	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))

	assert.Equal(t, []string{"start:a", "start:b", "stop:b", "stop:a"}, calls)
}

func TestHost_SkipsDisabledApps(t *testing.T) {
	var calls []string
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)

	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "a", Enabled: false}, calls: &calls}))
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop(context.Background()))

	assert.Empty(t, calls)
}

func TestHost_StartFailureRollsBackAlreadyStartedApps(t *testing.T) {
	var calls []string
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)

	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "a", Enabled: true}, calls: &calls}))
	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "b", Enabled: true}, startErr: fmt.Errorf("boom"), calls: &calls}))

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start:a", "stop:a"}, calls)
}

func TestHost_RegisterAfterStartRejected(t *testing.T) {
	var calls []string
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)
	require.NoError(t, h.Start(context.Background()))

	err := h.Register(&fakeApp{info: Info{Name: "late"}, calls: &calls})
	assert.Error(t, err)
}

func TestHost_IsReadyReflectsBrokerConnection(t *testing.T) {
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)
	assert.True(t, h.IsReady())
	assert.True(t, h.IsStartupComplete())
}

func TestHost_HandleManagementRequestRoutesToNamedApp(t *testing.T) {
	var calls []string
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)
	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "gateway-1", Enabled: true}, calls: &calls}))
	require.NoError(t, h.Start(context.Background()))

	resp, err := h.HandleManagementRequest(context.Background(), "gateway-1", ManagementRequest{Method: "GET", Path: "/health"})
	require.NoError(t, err)
	assert.Equal(t, "gateway-1", string(resp.Body))

	_, err = h.HandleManagementRequest(context.Background(), "missing", ManagementRequest{})
	assert.Error(t, err)
}

func TestHost_ReconfigureStopsOldAndStartsFreshHost(t *testing.T) {
	var calls []string
	b := broker.NewMemoryBroker(1)
	h := New(b, nil)
	require.NoError(t, h.Register(&fakeApp{info: Info{Name: "a", Enabled: true}, calls: &calls}))
	require.NoError(t, h.Start(context.Background()))

	next, err := h.Reconfigure(context.Background(), []App{&fakeApp{info: Info{Name: "c", Enabled: true}, calls: &calls}})
	require.NoError(t, err)

	assert.Equal(t, []string{"start:a", "stop:a", "start:c"}, calls)
	_, ok := next.App("c")
	assert.True(t, ok)
	_, ok = next.App("a")
	assert.False(t, ok, "reconfigure must not carry over the old app set")
}
