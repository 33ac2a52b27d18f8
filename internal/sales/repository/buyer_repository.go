package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"gorm.io/gorm"
)

// BuyerRepository 买家仓库
type BuyerRepository struct {
	db *gorm.DB
}

func NewBuyerRepository(db *gorm.DB) *BuyerRepository {
	return &BuyerRepository{db: db}
}

// FindByID 按ID查找
func (r *BuyerRepository) FindByID(ctx context.Context, id string) (*entity.Buyer, error) {
	var b entity.Buyer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// FindByExternalContactID 按账务系统联系人ID查找
func (r *BuyerRepository) FindByExternalContactID(ctx context.Context, contactID string) (*entity.Buyer, error) {
	var b entity.Buyer
	err := r.db.WithContext(ctx).Where("external_contact_id = ?", contactID).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// Create 创建买家
func (r *BuyerRepository) Create(ctx context.Context, b *entity.Buyer) error {
	return r.db.WithContext(ctx).Create(b).Error
}

// Update 更新买家
func (r *BuyerRepository) Update(ctx context.Context, b *entity.Buyer) error {
	return r.db.WithContext(ctx).Save(b).Error
}

// AssignOwnerIfUnset 条件设置归属：仅当owner仍为空时写入
// 认领流程的第二步（best-effort），与认领写入不在同一事务内
func (r *BuyerRepository) AssignOwnerIfUnset(ctx context.Context, buyerID, ownerID string) (int64, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&entity.Buyer{}).
		Where("id = ? AND owner_id = ''", buyerID).
		Updates(map[string]interface{}{
			"owner_id":         ownerID,
			"owner_changed_at": now,
			"owner_changed_by": ownerID,
			"updated_at":       now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
