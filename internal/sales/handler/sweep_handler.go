package handler

import (
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/gin-gonic/gin"
)

// SweepHandler 对账扫描手动触发入口（定时触发在进程入口）
type SweepHandler struct {
	svc *service.ReconcileService
}

func NewSweepHandler(svc *service.ReconcileService) *SweepHandler {
	return &SweepHandler{svc: svc}
}

// Trigger POST /reconcile/sweep （财务角色）
// 无入参；返回 {checked, updated, errors, timestamp}，错误只影响计数不中断扫描
func (h *SweepHandler) Trigger(c *gin.Context) {
	summary, err := h.svc.Sweep(c.Request.Context())
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, summary)
}
