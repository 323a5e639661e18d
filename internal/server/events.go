package server

import (
	"time"

	"camarbiter/internal/camera"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsReadBufferSize  = 1024
	wsWriteBufferSize = 1024
	wsWriteTimeout    = 10 * time.Second
	eventBuffer       = 64
)

// StreamEvents はアービタの通知をWebSocketで配信する。
// ?requester=ID を指定すると、その要求者宛ての通知と状態変化のみを配信する
func (h *ArbiterHandler) StreamEvents(c *gin.Context) {
	requester := camera.RequesterID(c.Query("requester"))

	// ハンドシェイク完了前に購読して取りこぼしを防ぐ
	events, cancel := h.arbiter.Subscribe(eventBuffer)
	defer cancel()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBufferSize,
		WriteBufferSize: wsWriteBufferSize,
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocketへのアップグレードに失敗")
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !matchRequester(ev, requester) {
					continue
				}
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	// クライアントが切断するまで読み捨てる
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug().Err(err).Msg("WebSocketが切断されました")
			}
			return
		}
	}
}

func matchRequester(ev camera.Event, requester camera.RequesterID) bool {
	if requester == "" || ev.Kind == camera.EventStateChanged {
		return true
	}
	return ev.Requester == requester
}
