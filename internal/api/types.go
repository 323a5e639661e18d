// Package api は運用APIのリクエスト・レスポンス型を定義する。サーバーとクライアントで共有する
package api

import (
	"time"

	"camarbiter/internal/camera"
)

// HealthStatus はヘルスチェックの状態
type HealthStatus string

const (
	Healthy HealthStatus = "healthy"
)

// HealthResponse は /health のレスポンス
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// StatusResponse は /api/status のレスポンス
type StatusResponse struct {
	Status      string             `json:"status"`
	Server      ServerInfo         `json:"server"`
	Owners      int                `json:"owners"`
	Pending     int                `json:"pending"`
	CurrentUser camera.RequesterID `json:"current_user,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StateResponse はカメラ状態のレスポンス。Index が nil なら最初の有効なカメラ
type StateResponse struct {
	Index *camera.CameraIndex `json:"index,omitempty"`
	State camera.State        `json:"state"`
}

// OwnersResponse は所有者一覧のレスポンス
type OwnersResponse struct {
	Owners []camera.Grant `json:"owners"`
}

// PendingResponse は保留キューのレスポンス
type PendingResponse struct {
	Pending []camera.RequesterID `json:"pending"`
}

// CameraRequest は POST /api/requests のボディ
type CameraRequest struct {
	Requester      camera.RequesterID  `json:"requester"`
	Priority       camera.Priority     `json:"priority"`
	PreferredIndex *camera.CameraIndex `json:"preferred_index,omitempty"`
	Exclusive      bool                `json:"exclusive"`
}

// RequestResponse は要求結果。Granted が false ならキューに入った
type RequestResponse struct {
	Granted bool                `json:"granted"`
	Index   *camera.CameraIndex `json:"index,omitempty"`
}

// ReleaseResponse は解放結果
type ReleaseResponse struct {
	Released bool `json:"released"`
}

// ResetResponse はリセット結果
type ResetResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse はエラーレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
