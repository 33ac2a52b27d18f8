package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// =============================================================================
// Client — 外部账务系统（发票/收款的权威记录方）基础客户端
// 提供token管理和通用HTTP请求，发票读写子模块共用
// =============================================================================

// 错误分类
var (
	// ErrAuthExpired token失效且重认证一次后仍失败
	ErrAuthExpired = errors.New("ledger: authentication expired")
	// ErrTransient 网络/5xx瞬时失败，调用方可重试
	ErrTransient = errors.New("ledger: transient failure")
	// ErrPermanentlyRejected 对方明确拒绝（4xx业务错误），重试无意义
	ErrPermanentlyRejected = errors.New("ledger: permanently rejected")
	// ErrInvoiceNotFound 发票不存在
	ErrInvoiceNotFound = errors.New("ledger: invoice not found")
)

// Client 账务系统客户端
type Client struct {
	baseURL      string
	clientID     string       // 应用ID
	clientSecret string       // 应用密钥
	tokenCache   string       // 缓存的access_token
	tokenExpire  time.Time    // token过期时间
	mu           sync.RWMutex // 保护token缓存的读写锁
	httpClient   *http.Client
}

// NewClient 创建账务系统客户端实例
func NewClient(baseURL, clientID, clientSecret string) *Client {
	return &Client{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// getAccessToken 获取访问令牌
// 双重检查锁定缓存token，提前60秒刷新；force为true时跳过缓存强制重取
func (c *Client) getAccessToken(ctx context.Context, force bool) (string, error) {
	if !force {
		c.mu.RLock()
		if c.tokenCache != "" && time.Now().Before(c.tokenExpire) {
			token := c.tokenCache
			c.mu.RUnlock()
			return token, nil
		}
		c.mu.RUnlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 双重检查：其他goroutine可能已经刷新了token
	if !force && c.tokenCache != "" && time.Now().Before(c.tokenExpire) {
		return c.tokenCache, nil
	}

	reqBody := map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}
	bodyBytes, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/connect/token", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("创建token请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: 请求token失败: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token端点返回 %d", ErrAuthExpired, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"` // 秒
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("解析token响应失败: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: token响应为空", ErrAuthExpired)
	}

	// 提前60秒过期以保证安全
	c.tokenCache = result.AccessToken
	c.tokenExpire = time.Now().Add(time.Duration(result.ExpiresIn-60) * time.Second)

	return result.AccessToken, nil
}

// doRequest 执行账务系统API请求
// 自动携带token；收到401时强制重认证一次并重试一次，第二次失败直接上抛ErrAuthExpired
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	err := c.doRequestOnce(ctx, method, path, body, result, false)
	if errors.Is(err, ErrAuthExpired) {
		return c.doRequestOnce(ctx, method, path, body, result, true)
	}
	return err
}

func (c *Client) doRequestOnce(ctx context.Context, method, path string, body interface{}, result interface{}, forceAuth bool) error {
	token, err := c.getAccessToken(ctx, forceAuth)
	if err != nil {
		return fmt.Errorf("获取访问令牌失败: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v (path=%s)", ErrTransient, err, path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: 读取响应体失败: %v", ErrTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w (path=%s)", ErrAuthExpired, path)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w (path=%s)", ErrInvoiceNotFound, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: 状态码 %d (path=%s)", ErrTransient, resp.StatusCode, path)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: 状态码 %d: %s (path=%s)", ErrPermanentlyRejected, resp.StatusCode, truncate(respBody, 200), path)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("解析响应体失败: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
