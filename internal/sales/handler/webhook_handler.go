package handler

import (
	"io"
	"net/http"

	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/bitfantasy/salesync/internal/shared/ledger"
	"github.com/gin-gonic/gin"
)

// WebhookHandler 账务系统webhook入口
// 账务系统按at-least-once推送：事件可能重复/乱序/丢失，丢失由对账扫描兜底
type WebhookHandler struct {
	reconcile  *service.ReconcileService
	webhookKey string
}

func NewWebhookHandler(reconcile *service.ReconcileService, webhookKey string) *WebhookHandler {
	return &WebhookHandler{reconcile: reconcile, webhookKey: webhookKey}
}

// Handle POST /webhooks/ledger
// 签名校验在任何其他处理之前；校验失败一律401并记安全事故
func (h *WebhookHandler) Handle(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		BadRequest(c, "failed to read body")
		return
	}

	signature := c.GetHeader(ledger.SignatureHeader)
	if !ledger.VerifySignature(rawBody, signature, h.webhookKey) {
		h.reconcile.RecordSignatureIncident(c.Request.Context(), c.ClientIP(), signature != "", len(rawBody))
		Unauthorized(c, "invalid webhook signature")
		return
	}

	payload, err := ledger.ParseWebhookPayload(rawBody)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	// 空事件列表 = 连通性握手，直接确认
	if payload.IsHandshake() {
		c.JSON(http.StatusOK, gin.H{"processed": 0, "errors": 0})
		return
	}

	outcome := h.reconcile.ProcessWebhookEvents(c.Request.Context(), payload.Events)
	c.JSON(http.StatusOK, gin.H{
		"processed": outcome.Processed,
		"skipped":   outcome.Skipped,
		"errors":    outcome.Errors,
	})
}
