package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// =============================================================================
// Webhook — 签名校验与事件信封解析
// 账务系统以at-least-once方式推送，事件可能重复、乱序、丢失
// =============================================================================

// SignatureHeader 签名请求头
const SignatureHeader = "X-Ledger-Signature"

// VerifySignature 校验原始请求体的HMAC-SHA256签名（base64编码）
// 必须在任何其他处理之前调用；常数时间比较防时序侧信道
func VerifySignature(rawBody []byte, signature, webhookKey string) bool {
	if signature == "" || webhookKey == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(webhookKey))
	mac.Write(rawBody)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignPayload 计算请求体签名（测试与对端模拟用）
func SignPayload(rawBody []byte, webhookKey string) string {
	mac := hmac.New(sha256.New, []byte(webhookKey))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ParseWebhookPayload 解析webhook事件信封
// events为空表示连通性握手，调用方直接确认即可
func ParseWebhookPayload(rawBody []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		return nil, fmt.Errorf("解析webhook请求体失败: %w", err)
	}
	return &payload, nil
}

// IsHandshake 是否为连通性握手（签名有效但无事件）
func (p *WebhookPayload) IsHandshake() bool {
	return p == nil || len(p.Events) == 0
}
