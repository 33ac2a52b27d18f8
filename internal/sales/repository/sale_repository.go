package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"gorm.io/gorm"
)

// SaleRepository 销售记录仓库
// 唯一的同步原语是单行条件更新（compare-and-set），不使用进程内锁保证正确性
type SaleRepository struct {
	db *gorm.DB
}

func NewSaleRepository(db *gorm.DB) *SaleRepository {
	return &SaleRepository{db: db}
}

// SaleFilter 列表过滤条件
type SaleFilter struct {
	Status          string
	ShopperID       string
	BuyerID         string
	NeedsAllocation *bool
	IncludeDeleted  bool
}

// FindAll 查询销售列表
func (r *SaleRepository) FindAll(ctx context.Context, page, pageSize int, f SaleFilter) ([]entity.Sale, int64, error) {
	var items []entity.Sale
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Sale{})
	if f.IncludeDeleted {
		query = query.Unscoped()
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.ShopperID != "" {
		query = query.Where("shopper_id = ?", f.ShopperID)
	}
	if f.BuyerID != "" {
		query = query.Where("buyer_id = ?", f.BuyerID)
	}
	if f.NeedsAllocation != nil {
		query = query.Where("needs_allocation = ?", *f.NeedsAllocation)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Preload("Buyer").
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 按ID查找
func (r *SaleRepository) FindByID(ctx context.Context, id string) (*entity.Sale, error) {
	var s entity.Sale
	err := r.db.WithContext(ctx).
		Preload("Buyer").
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindByIDUnscoped 按ID查找（含已软删记录，恢复操作用）
func (r *SaleRepository) FindByIDUnscoped(ctx context.Context, id string) (*entity.Sale, error) {
	var s entity.Sale
	err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindByExternalInvoiceID 按外部发票ID查找（不含已软删记录）
// 同一external_invoice_id可能同时存在占位记录与正式记录的短暂窗口，按占位优先级排序后全量返回
func (r *SaleRepository) FindByExternalInvoiceID(ctx context.Context, externalID string) ([]entity.Sale, error) {
	var items []entity.Sale
	err := r.db.WithContext(ctx).
		Where("external_invoice_id = ?", externalID).
		Order("needs_allocation ASC, created_at ASC").
		Find(&items).Error
	return items, err
}

// FindByExternalInvoiceNumber 按外部发票号查找（webhook匹配的兜底路径）
func (r *SaleRepository) FindByExternalInvoiceNumber(ctx context.Context, number string) (*entity.Sale, error) {
	var s entity.Sale
	err := r.db.WithContext(ctx).
		Where("external_invoice_number = ?", number).
		Order("needs_allocation ASC, created_at ASC").
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindAwaitingConfirmation 查询等待外部确认的记录（对账扫描Pass 1的候选集）
// 已开票、未付款、未标记错误、已关联外部发票
func (r *SaleRepository) FindAwaitingConfirmation(ctx context.Context) ([]entity.Sale, error) {
	var items []entity.Sale
	err := r.db.WithContext(ctx).
		Where("status = ? AND error_flag = false AND external_invoice_id <> ''", entity.SaleStatusInvoiced).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// FindByStatus 按状态查询（批量锁定/发放的候选集）
func (r *SaleRepository) FindByStatus(ctx context.Context, status string) ([]entity.Sale, error) {
	var items []entity.Sale
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// Create 创建销售记录
func (r *SaleRepository) Create(ctx context.Context, s *entity.Sale) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// UpdateFields 更新非状态字段（状态变更必须走TransitionStatus）
func (r *SaleRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	delete(fields, "status")
	return r.db.WithContext(ctx).Model(&entity.Sale{}).Where("id = ?", id).Updates(fields).Error
}

// TransitionStatus 条件状态变更：断言当前状态等于expectedCurrent才写入
// 返回受影响行数；0行表示前置条件已被并发方打破（或记录不存在），由调用方判别
func (r *SaleRepository) TransitionStatus(ctx context.Context, id, expectedCurrent, next string, extra map[string]interface{}) (int64, error) {
	updates := map[string]interface{}{
		"status":     next,
		"updated_at": time.Now(),
	}
	for k, v := range extra {
		updates[k] = v
	}
	result := r.db.WithContext(ctx).Model(&entity.Sale{}).
		Where("id = ? AND status = ?", id, expectedCurrent).
		Updates(updates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// Claim 条件认领：仅当记录未被认领且为待分配时写入
// 0行表示已被并发认领方抢先，调用方必须按冲突处理，绝不能假定成功
func (r *SaleRepository) Claim(ctx context.Context, id, shopperID string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entity.Sale{}).
		Where("id = ? AND shopper_id = '' AND needs_allocation = true", id).
		Updates(map[string]interface{}{
			"shopper_id":       shopperID,
			"needs_allocation": false,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// RecordSweepFailure 累计对账失败次数，达到上限时同一条UPDATE内置位error_flag
func (r *SaleRepository) RecordSweepFailure(ctx context.Context, id string, limit int) error {
	return r.db.WithContext(ctx).Model(&entity.Sale{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"sweep_failures": gorm.Expr("sweep_failures + 1"),
			"error_flag":     gorm.Expr("sweep_failures + 1 >= ?", limit),
			"updated_at":     time.Now(),
		}).Error
}

// ClearSweepFailures 对账成功后清零失败计数
func (r *SaleRepository) ClearSweepFailures(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&entity.Sale{}).
		Where("id = ? AND sweep_failures > 0", id).
		Updates(map[string]interface{}{
			"sweep_failures": 0,
			"updated_at":     time.Now(),
		}).Error
}

// SoftDelete 软删除（可恢复）
func (r *SaleRepository) SoftDelete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Sale{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore 恢复软删除记录
func (r *SaleRepository) Restore(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Unscoped().Model(&entity.Sale{}).
		Where("id = ? AND deleted_at IS NOT NULL", id).
		Update("deleted_at", nil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GenerateReference 生成参考编码 SAL-YYYYMM-XXXX
func (r *SaleRepository) GenerateReference(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("SAL-%s", time.Now().Format("200601"))
	var count int64
	err := r.db.WithContext(ctx).Unscoped().
		Model(&entity.Sale{}).
		Where("reference LIKE ?", prefix+"%").
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%04d", prefix, count+1), nil
}
