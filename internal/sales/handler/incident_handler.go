package handler

import (
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/gin-gonic/gin"
)

// IncidentHandler 事故台账处理器
type IncidentHandler struct {
	svc *service.IncidentService
}

func NewIncidentHandler(svc *service.IncidentService) *IncidentHandler {
	return &IncidentHandler{svc: svc}
}

// List GET /incidents
func (h *IncidentHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)

	filter := repository.IncidentFilter{
		Severity: c.Query("severity"),
		Category: c.Query("category"),
	}
	if r := c.Query("resolved"); r != "" {
		v := r == "true"
		filter.Resolved = &v
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

// Get GET /incidents/:id
func (h *IncidentHandler) Get(c *gin.Context) {
	incident, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, incident)
}

// Resolve POST /incidents/:id/resolve
func (h *IncidentHandler) Resolve(c *gin.Context) {
	incident, err := h.svc.Resolve(c.Request.Context(), GetActor(c), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	Success(c, incident)
}
