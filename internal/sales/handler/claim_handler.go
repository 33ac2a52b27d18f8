package handler

import (
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/gin-gonic/gin"
)

// ClaimHandler 认领处理器
type ClaimHandler struct {
	svc *service.ClaimService
}

func NewClaimHandler(svc *service.ClaimService) *ClaimHandler {
	return &ClaimHandler{svc: svc}
}

// Claim POST /sales/:id/claim
// 成功 / 409 已被并发认领 / 403 买家归属他人 / 404 记录不存在
func (h *ClaimHandler) Claim(c *gin.Context) {
	sale, err := h.svc.Claim(c.Request.Context(), GetActor(c), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, sale)
}
