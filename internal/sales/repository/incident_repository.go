package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"gorm.io/gorm"
)

// IncidentRepository 事故仓库（仅追加，只有resolved可以变更）
type IncidentRepository struct {
	db *gorm.DB
}

func NewIncidentRepository(db *gorm.DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// IncidentFilter 列表过滤条件
type IncidentFilter struct {
	Severity string
	Category string
	Resolved *bool
}

// FindAll 查询事故列表
func (r *IncidentRepository) FindAll(ctx context.Context, page, pageSize int, f IncidentFilter) ([]entity.Incident, int64, error) {
	var items []entity.Incident
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Incident{})
	if f.Severity != "" {
		query = query.Where("severity = ?", f.Severity)
	}
	if f.Category != "" {
		query = query.Where("category = ?", f.Category)
	}
	if f.Resolved != nil {
		query = query.Where("resolved = ?", *f.Resolved)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 按ID查找
func (r *IncidentRepository) FindByID(ctx context.Context, id string) (*entity.Incident, error) {
	var i entity.Incident
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&i).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

// Create 追加事故记录
func (r *IncidentRepository) Create(ctx context.Context, i *entity.Incident) error {
	return r.db.WithContext(ctx).Create(i).Error
}

// Resolve 标记已解决（唯一允许的变更）
func (r *IncidentRepository) Resolve(ctx context.Context, id, resolvedBy string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&entity.Incident{}).
		Where("id = ? AND resolved = false", id).
		Updates(map[string]interface{}{
			"resolved":    true,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
