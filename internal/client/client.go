// Package client はアービタの運用APIを呼び出すHTTPクライアント
package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"camarbiter/internal/api"
	"camarbiter/internal/camera"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 15 * time.Second

// Client は運用APIのクライアント
type Client struct {
	HTTP *resty.Client
}

// New は新しいClientを作成する。baseURL は http://127.0.0.1:8080 の形式
func New(baseURL string) *Client {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")
	r.SetTimeout(defaultTimeout)
	r.SetError(&api.ErrorResponse{})

	return &Client{HTTP: r}
}

// Health はヘルスチェックを行う
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status はアービタの概要を取得する
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.get(ctx, "/api/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State はカメラの状態を取得する。index が AnyIndex なら最初の有効なカメラ
func (c *Client) State(ctx context.Context, index camera.CameraIndex) (camera.State, error) {
	path := "/api/cameras/state"
	if index >= 0 {
		path = "/api/cameras/" + strconv.Itoa(int(index)) + "/state"
	}

	var out api.StateResponse
	if err := c.get(ctx, path, &out); err != nil {
		return "", err
	}
	return out.State, nil
}

// Owners は所有権レコードを取得する
func (c *Client) Owners(ctx context.Context) ([]camera.Grant, error) {
	var out api.OwnersResponse
	if err := c.get(ctx, "/api/owners", &out); err != nil {
		return nil, err
	}
	return out.Owners, nil
}

// Pending は保留中の要求者を取得する
func (c *Client) Pending(ctx context.Context) ([]camera.RequesterID, error) {
	var out api.PendingResponse
	if err := c.get(ctx, "/api/pending", &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// Request はカメラを要求する
func (c *Client) Request(ctx context.Context, req api.CameraRequest) (*api.RequestResponse, error) {
	var out api.RequestResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/requests")
	if err := check(resp, err, "カメラの要求"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Release は要求者の所有権を解放する
func (c *Client) Release(ctx context.Context, id camera.RequesterID) (bool, error) {
	var out api.ReleaseResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetResult(&out).
		Delete("/api/owners/" + url.PathEscape(string(id)))
	if err := check(resp, err, "カメラの解放"); err != nil {
		return false, err
	}
	return out.Released, nil
}

// Reset は全所有権を破棄して強制解放する
func (c *Client) Reset(ctx context.Context) (bool, error) {
	var out api.ResetResponse
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/api/reset")
	if err := check(resp, err, "リセット"); err != nil {
		return false, err
	}
	return out.OK, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	return check(resp, err, path+" の取得")
}

// check は通信エラーとエラーレスポンスを error にまとめる
func check(resp *resty.Response, err error, action string) error {
	if err != nil {
		return fmt.Errorf("%sに失敗: %w", action, err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*api.ErrorResponse); ok && e.Message != "" {
		return fmt.Errorf("%sに失敗: %s (%d)", action, e.Message, resp.StatusCode())
	}
	return fmt.Errorf("%sに失敗: %s", action, resp.Status())
}
