package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"camarbiter/internal/api"
	"camarbiter/internal/camera"
	"camarbiter/internal/config"
	"camarbiter/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient はMockSystem上のアービタを公開するサーバーとクライアントを作成する
func newTestClient(t *testing.T) (*Client, *camera.MockSystem) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zerolog.Nop()
	sys := camera.NewMockSystem(0)
	prober := camera.NewDeviceProber(sys, logger)
	reaper := camera.NewDeviceReaper(sys, prober, 0, logger)
	arb := camera.NewArbiter(prober, reaper, camera.WithLogger(logger))
	require.NoError(t, arb.Start(context.Background()))
	t.Cleanup(func() {
		_ = arb.Stop(context.Background())
	})

	ts := httptest.NewServer(server.New(config.Default(), arb, logger).Handler())
	t.Cleanup(ts.Close)

	return New(ts.URL), sys
}

func TestClient_Health(t *testing.T) {
	c, _ := newTestClient(t)

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.Healthy, health.Status)
}

func TestClient_RequestReleaseFlow(t *testing.T) {
	c, sys := newTestClient(t)
	ctx := context.Background()

	state, err := c.State(ctx, camera.AnyIndex)
	require.NoError(t, err)
	assert.Equal(t, camera.StateAvailable, state)

	resp, err := c.Request(ctx, api.CameraRequest{Requester: "gesture", Priority: camera.PriorityNormal})
	require.NoError(t, err)
	assert.True(t, resp.Granted)

	resp, err = c.Request(ctx, api.CameraRequest{Requester: "viewer", Priority: camera.PriorityLow})
	require.NoError(t, err)
	assert.False(t, resp.Granted)

	owners, err := c.Owners(ctx)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, camera.RequesterID("gesture"), owners[0].Owner)

	pending, err := c.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []camera.RequesterID{"viewer"}, pending)

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Owners)
	assert.Equal(t, 1, status.Pending)

	released, err := c.Release(ctx, "gesture")
	require.NoError(t, err)
	assert.True(t, released)
	assert.Equal(t, 1, sys.ReleaseCalls(0))

	state, err = c.State(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, camera.StateAvailable, state)

	ok, err := c.Reset(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	owners, err = c.Owners(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestClient_ErrorResponse(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.Request(context.Background(), api.CameraRequest{Priority: camera.PriorityHigh})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requester")
	assert.Contains(t, err.Error(), "400")
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := New(url).Health(context.Background())
	assert.Error(t, err)
}
