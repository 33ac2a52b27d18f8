package handler

import (
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/gin-gonic/gin"
)

// SaleHandler 销售记录处理器
type SaleHandler struct {
	svc *service.SaleService
}

func NewSaleHandler(svc *service.SaleService) *SaleHandler {
	return &SaleHandler{svc: svc}
}

// List GET /sales
func (h *SaleHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)

	filter := repository.SaleFilter{
		Status:    c.Query("status"),
		ShopperID: c.Query("shopper_id"),
		BuyerID:   c.Query("buyer_id"),
	}
	if na := c.Query("needs_allocation"); na != "" {
		v := na == "true"
		filter.NeedsAllocation = &v
	}
	if c.Query("include_deleted") == "true" {
		filter.IncludeDeleted = true
	}

	items, total, err := h.svc.List(c.Request.Context(), page, pageSize, filter)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: TotalPages(total, pageSize),
		},
	})
}

// Get GET /sales/:id
func (h *SaleHandler) Get(c *gin.Context) {
	sale, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, sale)
}

// Create POST /sales
// 关键同步路径：账务系统失败会使本次请求失败，由调用方重试
func (h *SaleHandler) Create(c *gin.Context) {
	var req service.CreateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request: "+err.Error())
		return
	}

	sale, err := h.svc.Create(c.Request.Context(), GetActor(c), &req)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Created(c, sale)
}

// Delete DELETE /sales/:id （软删除）
func (h *SaleHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), GetActor(c), c.Param("id")); err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, nil)
}

// ValidateVAT POST /sales/:id/validate-vat
// 校验存量记录的VAT一致性，命中已知脏数据模式时就地修复
func (h *SaleHandler) ValidateVAT(c *gin.Context) {
	result, err := h.svc.ValidateVAT(c.Request.Context(), GetActor(c), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, result)
}

// Restore POST /sales/:id/restore
func (h *SaleHandler) Restore(c *gin.Context) {
	sale, err := h.svc.Restore(c.Request.Context(), GetActor(c), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, sale)
}
