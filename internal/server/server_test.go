package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"camarbiter/internal/api"
	"camarbiter/internal/camera"
	"camarbiter/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *camera.Arbiter, *camera.MockSystem) {
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

	return New(config.Default(), arb, logger), arb, sys
}

// doJSON はリクエストを送り、レスポンスを out にデコードしてステータスを返す
func doJSON(t *testing.T, h http.Handler, method, path string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	_, arb, _ := newTestServer(t)
	cfg := config.Default()
	cfg.Server.Port = 0 // ランダムポートを使用
	srv := New(cfg, arb, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints は参照系エンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
	}{
		{"ヘルスチェック", "/health", http.StatusOK},
		{"ステータス", "/api/status", http.StatusOK},
		{"メトリクス", "/metrics", http.StatusOK},
		{"最初のカメラの状態", "/api/cameras/state", http.StatusOK},
		{"インデックス指定の状態", "/api/cameras/0/state", http.StatusOK},
		{"不正なインデックス", "/api/cameras/abc/state", http.StatusBadRequest},
		{"負のインデックス", "/api/cameras/-1/state", http.StatusBadRequest},
		{"所有者一覧", "/api/owners", http.StatusOK},
		{"保留キュー", "/api/pending", http.StatusOK},
		{"存在しないパス", "/api/unknown", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.endpoint, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, tc.expectedStatus, rec.Code)
		})
	}
}

func TestServerCameraState(t *testing.T) {
	srv, _, sys := newTestServer(t)
	h := srv.Handler()

	var state api.StateResponse
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/api/cameras/0/state", nil, &state))
	require.NotNil(t, state.Index)
	assert.Equal(t, camera.CameraIndex(0), *state.Index)
	assert.Equal(t, camera.StateAvailable, state.State)

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/api/cameras/1/state", nil, &state))
	assert.Equal(t, camera.StateNotFound, state.State)

	sys.SetHolders(0, 4242)
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/api/cameras/state", nil, &state))
	assert.Nil(t, state.Index)
	assert.Equal(t, camera.StateError, state.State)
}

func TestServerRequestAndRelease(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	var granted api.RequestResponse
	status := doJSON(t, h, http.MethodPost, "/api/requests",
		map[string]any{"requester": "gesture", "priority": "normal"}, &granted)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, granted.Granted)
	require.NotNil(t, granted.Index)
	assert.Equal(t, camera.CameraIndex(0), *granted.Index)

	var queued api.RequestResponse
	status = doJSON(t, h, http.MethodPost, "/api/requests",
		map[string]any{"requester": "viewer", "priority": "high", "preferred_index": 0}, &queued)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, queued.Granted)
	assert.Nil(t, queued.Index)

	var pending api.PendingResponse
	doJSON(t, h, http.MethodGet, "/api/pending", nil, &pending)
	assert.Equal(t, []camera.RequesterID{"viewer"}, pending.Pending)

	var owners api.OwnersResponse
	doJSON(t, h, http.MethodGet, "/api/owners", nil, &owners)
	require.Len(t, owners.Owners, 1)
	assert.Equal(t, camera.RequesterID("gesture"), owners.Owners[0].Owner)
	assert.Equal(t, camera.PriorityNormal, owners.Owners[0].Priority)
	assert.NotEmpty(t, owners.Owners[0].LeaseID)

	var status1 api.StatusResponse
	doJSON(t, h, http.MethodGet, "/api/status", nil, &status1)
	assert.Equal(t, 1, status1.Owners)
	assert.Equal(t, 1, status1.Pending)
	assert.Equal(t, camera.RequesterID("gesture"), status1.CurrentUser)

	var released api.ReleaseResponse
	doJSON(t, h, http.MethodDelete, "/api/owners/gesture", nil, &released)
	assert.True(t, released.Released)

	doJSON(t, h, http.MethodGet, "/api/owners", nil, &owners)
	require.Len(t, owners.Owners, 1)
	assert.Equal(t, camera.RequesterID("viewer"), owners.Owners[0].Owner)

	doJSON(t, h, http.MethodDelete, "/api/owners/gesture", nil, &released)
	assert.False(t, released.Released)
}

func TestServerRequestValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	testCases := []struct {
		name string
		body any
	}{
		{"要求者なし", map[string]any{"priority": "normal"}},
		{"不明な優先度", map[string]any{"requester": "gesture", "priority": "urgent"}},
		{"不正なJSON", "not-an-object"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var resp api.ErrorResponse
			status := doJSON(t, srv.Handler(), http.MethodPost, "/api/requests", tc.body, &resp)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, "invalid_request", resp.Error)
		})
	}
}

func TestServerReset(t *testing.T) {
	srv, arb, sys := newTestServer(t)
	ctx := context.Background()

	require.True(t, arb.Request(ctx, camera.Request{Requester: "gesture", Priority: camera.PriorityNormal}))

	var reset api.ResetResponse
	require.Equal(t, http.StatusOK, doJSON(t, srv.Handler(), http.MethodPost, "/api/reset", nil, &reset))
	assert.True(t, reset.OK)
	assert.Empty(t, arb.Owners())
	assert.Equal(t, 1, sys.ReleaseCalls(0))
}

func TestServerEventStream(t *testing.T) {
	srv, arb, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events?requester=viewer"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	ctx := context.Background()
	require.True(t, arb.Request(ctx, camera.Request{Requester: "gesture", PreferredIndex: camera.AnyIndex}))
	require.False(t, arb.Request(ctx, camera.Request{Requester: "viewer", PreferredIndex: camera.AnyIndex}))
	require.True(t, arb.Release(ctx, "gesture"))

	// gesture 宛ての通知は除外される
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev camera.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, camera.EventAllocated, ev.Kind)
	assert.Equal(t, camera.RequesterID("viewer"), ev.Requester)
	assert.True(t, ev.Success)
	assert.Equal(t, camera.CameraIndex(0), ev.Index)
}

func TestMatchRequester(t *testing.T) {
	allocated := camera.Event{Kind: camera.EventAllocated, Requester: "gesture"}
	changed := camera.Event{Kind: camera.EventStateChanged, Index: 0}

	assert.True(t, matchRequester(allocated, ""))
	assert.True(t, matchRequester(allocated, "gesture"))
	assert.False(t, matchRequester(allocated, "viewer"))
	assert.True(t, matchRequester(changed, "viewer"))
}
