package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"go.uber.org/zap"
)

// ClaimService 认领/分配服务
// 竞争保护完全依赖单行条件更新：两个并发认领恰好一个成功，另一个拿到冲突
type ClaimService struct {
	saleRepo  *repository.SaleRepository
	buyerRepo *repository.BuyerRepository
	logger    *zap.Logger
}

func NewClaimService(saleRepo *repository.SaleRepository, buyerRepo *repository.BuyerRepository, logger *zap.Logger) *ClaimService {
	return &ClaimService{saleRepo: saleRepo, buyerRepo: buyerRepo, logger: logger}
}

// Claim 原子认领一条待分配的占位记录
//
// 买家归属守卫：买家已有归属且不是认领人 → ErrForbidden（写入前检查）
// 认领本身是一次条件更新；0行受影响说明前置条件已被并发方打破 → ErrConflict
// 认领成功且买家尚无归属时，best-effort第二次条件更新设置归属；
// 两次写入不在同一事务内，中间存在窄的不一致窗口（见DESIGN.md）
func (s *ClaimService) Claim(ctx context.Context, actor Actor, saleID string) (*entity.Sale, error) {
	if actor.ID == "" {
		return nil, fmt.Errorf("%w: 缺少操作者", ErrForbidden)
	}

	sale, err := s.saleRepo.FindByID(ctx, saleID)
	if err != nil {
		return nil, err
	}

	if sale.ShopperID != "" {
		return nil, fmt.Errorf("%w: 记录已被认领", ErrConflict)
	}
	if !sale.NeedsAllocation {
		return nil, fmt.Errorf("%w: 记录不在待分配状态", ErrValidation)
	}

	// 买家归属守卫
	var buyer *entity.Buyer
	if sale.BuyerID != "" {
		buyer, err = s.buyerRepo.FindByID(ctx, sale.BuyerID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if buyer != nil && buyer.OwnerID != "" && buyer.OwnerID != actor.ID {
			return nil, fmt.Errorf("%w: 买家已归属其他shopper", ErrForbidden)
		}
	}

	rows, err := s.saleRepo.Claim(ctx, saleID, actor.ID)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: 记录已被并发认领", ErrConflict)
	}

	// 第二步：买家尚无归属则设为认领人（owner仍为空才写入）
	if buyer != nil && buyer.OwnerID == "" {
		if _, aerr := s.buyerRepo.AssignOwnerIfUnset(ctx, buyer.ID, actor.ID); aerr != nil {
			s.logger.Warn("failed to assign buyer owner after claim",
				zap.String("buyer_id", buyer.ID),
				zap.String("shopper_id", actor.ID),
				zap.Error(aerr))
		}
	}

	s.logger.Info("sale claimed",
		zap.String("sale_id", saleID),
		zap.String("shopper_id", actor.ID))

	return s.saleRepo.FindByID(ctx, saleID)
}
