package handler

import (
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/gin-gonic/gin"
)

// LifecycleHandler 生命周期处理器：单行状态转移 + 批量锁定/发放
type LifecycleHandler struct {
	svc *service.LifecycleService
}

func NewLifecycleHandler(svc *service.LifecycleService) *LifecycleHandler {
	return &LifecycleHandler{svc: svc}
}

// TransitionRequest 状态转移请求
// expected_current是乐观并发断言：行状态已变则返回409
type TransitionRequest struct {
	ExpectedCurrent string `json:"expected_current" binding:"required"`
	Next            string `json:"next" binding:"required"`
}

// Transition POST /sales/:id/transition
func (h *LifecycleHandler) Transition(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sale, err := h.svc.TransitionStatus(c.Request.Context(), c.Param("id"), req.ExpectedCurrent, req.Next, GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, sale)
}

// LockPaid POST /sales/lock-paid （财务角色，幂等）
func (h *LifecycleHandler) LockPaid(c *gin.Context) {
	result, err := h.svc.LockAllPaid(c.Request.Context(), GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}

// PayCommissions POST /sales/pay-commissions （财务角色，幂等）
func (h *LifecycleHandler) PayCommissions(c *gin.Context) {
	result, err := h.svc.PayAllLocked(c.Request.Context(), GetActor(c))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}
