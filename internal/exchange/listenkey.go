package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	pkgerrors "github.com/pkg/errors"
)

// ErrListenKeyExpired listenKey 已失效（-1125），需要重新获取。
var ErrListenKeyExpired = fmt.Errorf("listen key expired")

const codeListenKeyNotExist = -1125

// ListenKeyClient 用户数据流 listenKey 管理客户端。
// listenKey 接口只需要 API Key 做请求头认证，不需要签名，所以单独走 resty。
type ListenKeyClient struct {
	http *resty.Client
}

// NewListenKeyClient 创建 listenKey 客户端。
func NewListenKeyClient(apiKey, baseURL string) *ListenKeyClient {
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("X-MBX-APIKEY", apiKey).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)
	return &ListenKeyClient{http: client}
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

type apiErrorResponse struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

// Acquire 获取新的 listenKey。
func (c *ListenKeyClient) Acquire(ctx context.Context) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Post("/fapi/v1/listenKey")
	if err != nil {
		return "", pkgerrors.Wrap(err, "获取 listenKey 请求失败")
	}
	if resp.IsError() {
		return "", pkgerrors.Errorf("获取 listenKey 失败: %d %s", resp.StatusCode(), resp.String())
	}

	var body listenKeyResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", pkgerrors.Wrap(err, "解析 listenKey 响应失败")
	}
	if body.ListenKey == "" {
		return "", pkgerrors.New("listenKey 响应为空")
	}

	log.Infof("listenKey 已获取: %s...", body.ListenKey[:8])
	return body.ListenKey, nil
}

// KeepAlive 续期 listenKey。listenKey 已失效时返回 ErrListenKeyExpired。
func (c *ListenKeyClient) KeepAlive(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Put("/fapi/v1/listenKey")
	if err != nil {
		return pkgerrors.Wrap(err, "续期 listenKey 请求失败")
	}
	if resp.IsError() {
		var body apiErrorResponse
		if json.Unmarshal(resp.Body(), &body) == nil && body.Code == codeListenKeyNotExist {
			return ErrListenKeyExpired
		}
		return pkgerrors.Errorf("续期 listenKey 失败: %d %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// Close 关闭 listenKey（优雅退出时调用，失败只记日志）。
func (c *ListenKeyClient) Close(ctx context.Context) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/fapi/v1/listenKey")
	if err != nil {
		return pkgerrors.Wrap(err, "关闭 listenKey 请求失败")
	}
	if resp.IsError() {
		return pkgerrors.Errorf("关闭 listenKey 失败: %d %s", resp.StatusCode(), resp.String())
	}
	return nil
}
