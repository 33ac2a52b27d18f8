package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"go.uber.org/zap"
)

// LifecycleService 销售生命周期状态机
// status的唯一合法变更入口；所有写入均为断言当前状态的条件更新
type LifecycleService struct {
	saleRepo *repository.SaleRepository
	logger   *zap.Logger
}

func NewLifecycleService(saleRepo *repository.SaleRepository, logger *zap.Logger) *LifecycleService {
	return &LifecycleService{saleRepo: saleRepo, logger: logger}
}

// 状态转移表：current → 允许的next集合
// 终态 commission_paid / voided 无任何出边
var transitionTable = map[string][]string{
	entity.SaleStatusDraft:    {entity.SaleStatusInvoiced, entity.SaleStatusVoided},
	entity.SaleStatusInvoiced: {entity.SaleStatusPaid, entity.SaleStatusVoided},
	entity.SaleStatusPaid:     {entity.SaleStatusLocked, entity.SaleStatusVoided},
	entity.SaleStatusLocked:   {entity.SaleStatusCommissionPaid},
}

// 状态推进序（批量操作判断"已越过目标状态"用）
var statusRank = map[string]int{
	entity.SaleStatusDraft:          0,
	entity.SaleStatusInvoiced:       1,
	entity.SaleStatusPaid:           2,
	entity.SaleStatusLocked:         3,
	entity.SaleStatusCommissionPaid: 4,
}

// TransitionAllowed 转移表查询
func TransitionAllowed(current, next string) bool {
	for _, t := range transitionTable[current] {
		if t == next {
			return true
		}
	}
	return false
}

// statusPast 当前状态是否已达到或越过目标状态
func statusPast(current, target string) bool {
	cr, ok1 := statusRank[current]
	tr, ok2 := statusRank[target]
	return ok1 && ok2 && cr >= tr
}

// TransitionStatus 条件状态变更
// 断言行的当前状态等于expectedCurrent：若已被其他操作者推进，返回ErrConflict而不是覆盖写
func (s *LifecycleService) TransitionStatus(ctx context.Context, saleID, expectedCurrent, next string, actor Actor) (*entity.Sale, error) {
	if !entity.ValidSaleStatus(expectedCurrent) || !entity.ValidSaleStatus(next) {
		return nil, fmt.Errorf("%w: 非法状态值 %q → %q", ErrValidation, expectedCurrent, next)
	}
	if !TransitionAllowed(expectedCurrent, next) {
		return nil, fmt.Errorf("%w: 不允许的状态转移 %s → %s", ErrValidation, expectedCurrent, next)
	}

	sale, err := s.saleRepo.FindByID(ctx, saleID)
	if err != nil {
		return nil, err
	}

	if err := s.checkGuards(sale, next, actor); err != nil {
		return nil, err
	}

	now := time.Now()
	extra := map[string]interface{}{
		"status_changed_at": now,
		"status_changed_by": actor.ID,
	}
	switch next {
	case entity.SaleStatusPaid:
		if sale.PaidDate == nil {
			extra["paid_date"] = now
		}
	case entity.SaleStatusLocked:
		extra["commission_locked"] = true
		extra["locked_at"] = now
		extra["locked_by"] = actor.ID
	case entity.SaleStatusCommissionPaid:
		extra["commission_paid"] = true
		extra["commission_paid_at"] = now
	}

	rows, err := s.saleRepo.TransitionStatus(ctx, saleID, expectedCurrent, next, extra)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// 前置条件失败：区分记录消失与并发推进
		if _, ferr := s.saleRepo.FindByID(ctx, saleID); ferr != nil {
			return nil, ferr
		}
		return nil, fmt.Errorf("%w: 状态已被并发变更，期望 %s", ErrConflict, expectedCurrent)
	}

	s.logger.Info("sale status transition",
		zap.String("sale_id", saleID),
		zap.String("from", expectedCurrent),
		zap.String("to", next),
		zap.String("actor", actor.ID))

	return s.saleRepo.FindByID(ctx, saleID)
}

// checkGuards 边上的业务守卫
func (s *LifecycleService) checkGuards(sale *entity.Sale, next string, actor Actor) error {
	switch next {
	case entity.SaleStatusLocked:
		if !actor.IsElevated() {
			return fmt.Errorf("%w: 佣金锁定需要财务权限", ErrForbidden)
		}
		if sale.CommissionLocked {
			return fmt.Errorf("%w: 记录已锁定", ErrConflict)
		}
	case entity.SaleStatusCommissionPaid:
		if !actor.IsElevated() {
			return fmt.Errorf("%w: 佣金发放需要财务权限", ErrForbidden)
		}
		if !sale.CommissionLocked {
			return fmt.Errorf("%w: 未锁定的记录不能发放佣金", ErrValidation)
		}
	case entity.SaleStatusVoided:
		if !actor.IsElevated() {
			return fmt.Errorf("%w: 作废需要财务权限", ErrForbidden)
		}
	}
	return nil
}

// BatchItemResult 批量操作单行结果
type BatchItemResult struct {
	SaleID    string `json:"sale_id"`
	Reference string `json:"reference"`
	Outcome   string `json:"outcome"` // done/skipped/failed
	Reason    string `json:"reason,omitempty"`
}

// BatchResult 批量操作汇总
type BatchResult struct {
	Total   int               `json:"total"`
	Done    int               `json:"done"`
	Skipped int               `json:"skipped"`
	Failed  int               `json:"failed"`
	Items   []BatchItemResult `json:"items"`
}

// LockAllPaid 批量锁定所有已付款记录
// 逐行条件转移；已越过目标状态的行按no-op成功计，保证重复执行幂等
func (s *LifecycleService) LockAllPaid(ctx context.Context, actor Actor) (*BatchResult, error) {
	return s.batchTransition(ctx, actor, entity.SaleStatusPaid, entity.SaleStatusLocked)
}

// PayAllLocked 批量发放所有已锁定记录的佣金
func (s *LifecycleService) PayAllLocked(ctx context.Context, actor Actor) (*BatchResult, error) {
	return s.batchTransition(ctx, actor, entity.SaleStatusLocked, entity.SaleStatusCommissionPaid)
}

func (s *LifecycleService) batchTransition(ctx context.Context, actor Actor, from, to string) (*BatchResult, error) {
	if !actor.IsElevated() {
		return nil, fmt.Errorf("%w: 批量操作需要财务权限", ErrForbidden)
	}

	candidates, err := s.saleRepo.FindByStatus(ctx, from)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Total: len(candidates), Items: make([]BatchItemResult, 0, len(candidates))}
	for _, sale := range candidates {
		item := BatchItemResult{SaleID: sale.ID, Reference: sale.Reference}

		_, terr := s.TransitionStatus(ctx, sale.ID, from, to, actor)
		switch {
		case terr == nil:
			item.Outcome = "done"
			result.Done++
		default:
			// 竞争失败时回查：已越过目标状态按no-op成功处理
			current, ferr := s.saleRepo.FindByID(ctx, sale.ID)
			if ferr == nil && statusPast(current.Status, to) {
				item.Outcome = "skipped"
				result.Skipped++
			} else {
				item.Outcome = "failed"
				item.Reason = terr.Error()
				result.Failed++
				s.logger.Warn("batch transition item failed",
					zap.String("sale_id", sale.ID),
					zap.String("from", from),
					zap.String("to", to),
					zap.Error(terr))
			}
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}
