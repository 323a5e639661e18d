package server

import (
	"net/http"
	"strconv"
	"time"

	"camarbiter/internal/api"
	"camarbiter/internal/camera"
	"camarbiter/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ArbiterHandler はアービタの操作をHTTPで公開する
type ArbiterHandler struct {
	config  *config.Config
	arbiter Arbiter
	logger  zerolog.Logger
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *ArbiterHandler) HealthCheck(c *gin.Context) {
	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *ArbiterHandler) GetStatus(c *gin.Context) {
	response := api.StatusResponse{
		Status: "running",
		Server: api.ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Owners:      len(h.arbiter.Grants()),
		Pending:     len(h.arbiter.Pending()),
		CurrentUser: h.arbiter.CurrentUser(),
		LastError:   h.arbiter.LastError(),
		Timestamp:   time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetFirstState は最初の有効なカメラの状態を返す
func (h *ArbiterHandler) GetFirstState(c *gin.Context) {
	c.JSON(http.StatusOK, api.StateResponse{
		State: h.arbiter.FirstState(c.Request.Context()),
	})
}

// GetCameraState は指定インデックスの状態を返す
func (h *ArbiterHandler) GetCameraState(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("index"))
	if err != nil || n < 0 {
		writeError(c, http.StatusBadRequest, "invalid_index", "インデックスは0以上の整数で指定してください")
		return
	}

	index := camera.CameraIndex(n)
	c.JSON(http.StatusOK, api.StateResponse{
		Index: &index,
		State: h.arbiter.State(c.Request.Context(), index),
	})
}

// GetOwners は所有権レコードを返す
func (h *ArbiterHandler) GetOwners(c *gin.Context) {
	c.JSON(http.StatusOK, api.OwnersResponse{Owners: h.arbiter.Grants()})
}

// GetPending は保留中の要求者を返す
func (h *ArbiterHandler) GetPending(c *gin.Context) {
	pending := h.arbiter.Pending()
	if pending == nil {
		pending = []camera.RequesterID{}
	}
	c.JSON(http.StatusOK, api.PendingResponse{Pending: pending})
}

// PostRequest はカメラ要求を受け付ける。結果の通知は /api/events で配信される
func (h *ArbiterHandler) PostRequest(c *gin.Context) {
	var body api.CameraRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if body.Requester == "" {
		writeError(c, http.StatusBadRequest, "invalid_request", "requester は必須です")
		return
	}

	req := camera.Request{
		Requester:      body.Requester,
		Priority:       body.Priority,
		PreferredIndex: camera.AnyIndex,
		Exclusive:      body.Exclusive,
	}
	if body.PreferredIndex != nil {
		req.PreferredIndex = *body.PreferredIndex
	}

	response := api.RequestResponse{
		Granted: h.arbiter.Request(c.Request.Context(), req),
	}
	if response.Granted {
		for _, g := range h.arbiter.Grants() {
			if g.Owner == body.Requester {
				index := g.Index
				response.Index = &index
				break
			}
		}
	}

	c.JSON(http.StatusOK, response)
}

// ReleaseOwner は要求者の所有権と保留要求を解放する
func (h *ArbiterHandler) ReleaseOwner(c *gin.Context) {
	id := camera.RequesterID(c.Param("requester"))
	c.JSON(http.StatusOK, api.ReleaseResponse{
		Released: h.arbiter.Release(c.Request.Context(), id),
	})
}

// PostReset は全所有権を破棄して強制解放する
func (h *ArbiterHandler) PostReset(c *gin.Context) {
	c.JSON(http.StatusOK, api.ResetResponse{
		OK: h.arbiter.ResetAll(c.Request.Context()),
	})
}

// writeError はエラーレスポンスを返す
func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, api.ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}
