package service

import (
	"context"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/repository"
)

// IncidentService 事故台账服务
type IncidentService struct {
	repo *repository.IncidentRepository
}

func NewIncidentService(repo *repository.IncidentRepository) *IncidentService {
	return &IncidentService{repo: repo}
}

// List 事故列表
func (s *IncidentService) List(ctx context.Context, page, pageSize int, f repository.IncidentFilter) ([]entity.Incident, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize, f)
}

// Get 事故详情
func (s *IncidentService) Get(ctx context.Context, id string) (*entity.Incident, error) {
	return s.repo.FindByID(ctx, id)
}

// Resolve 标记事故已解决
func (s *IncidentService) Resolve(ctx context.Context, actor Actor, id string) (*entity.Incident, error) {
	if err := s.repo.Resolve(ctx, id, actor.ID); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}
