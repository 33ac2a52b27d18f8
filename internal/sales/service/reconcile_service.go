package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/finance"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/shared/ledger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ReconcileService 对账服务
// webhook推送与定时扫描共用同一个"按外部状态推进"原语，两条路径的逻辑不允许分叉
type ReconcileService struct {
	repos     *repository.Repositories
	client    *ledger.Client
	lifecycle *LifecycleService
	rdb       *redis.Client // 扫描租约用，可为nil（测试/单实例）
	logger    *zap.Logger

	lookbackDays int
	maxListPages int
}

func NewReconcileService(repos *repository.Repositories, client *ledger.Client, lifecycle *LifecycleService, rdb *redis.Client, logger *zap.Logger) *ReconcileService {
	return &ReconcileService{
		repos:        repos,
		client:       client,
		lifecycle:    lifecycle,
		rdb:          rdb,
		logger:       logger,
		lookbackDays: 7,
		maxListPages: 10,
	}
}

// SetLookbackDays 设置Pass 2的回查窗口（天）
func (s *ReconcileService) SetLookbackDays(days int) {
	if days > 0 {
		s.lookbackDays = days
	}
}

// 扫描租约，多副本下防止同一轮扫描重复执行
const sweepLeaseKey = "salesync:sweep:lease"
const sweepLeaseTTL = 10 * time.Minute

// 连续扫描失败达到此上限的记录置error_flag，退出扫描候选集待人工处理
const sweepFailureLimit = 3

// mapInvoiceStatus 账务系统发票状态 → 本地销售状态
// 未知状态返回空串：只记录external_status，不做任何转移
func mapInvoiceStatus(external string) string {
	switch external {
	case ledger.InvoiceStatusDraft, ledger.InvoiceStatusSubmitted:
		return entity.SaleStatusDraft
	case ledger.InvoiceStatusAuthorised:
		return entity.SaleStatusInvoiced
	case ledger.InvoiceStatusPaid:
		return entity.SaleStatusPaid
	case ledger.InvoiceStatusVoided, ledger.InvoiceStatusDeleted:
		return entity.SaleStatusVoided
	default:
		return ""
	}
}

// ApplyInvoiceState 共享对账原语：外部状态有变化才推进，无变化则no-op
// webhook、定时扫描、人工修复端点都从这里走——这是正确性要求，不是代码复用的便利
//
// 幂等性：重放同一事件时目标状态等于当前状态，直接返回false，不产生重复审计写入
func (s *ReconcileService) ApplyInvoiceState(ctx context.Context, sale *entity.Sale, inv *ledger.Invoice) (bool, error) {
	target := mapInvoiceStatus(inv.Status)

	// 外部状态字段与发票号兜底回填（不涉及生命周期）
	fields := map[string]interface{}{}
	if sale.ExternalStatus != inv.Status {
		fields["external_status"] = inv.Status
	}
	if sale.ExternalInvoiceNumber == "" && inv.InvoiceNumber != "" {
		fields["external_invoice_number"] = inv.InvoiceNumber
	}
	if len(fields) > 0 {
		if err := s.repos.Sale.UpdateFields(ctx, sale.ID, fields); err != nil {
			return false, err
		}
	}

	if target == "" || target == sale.Status {
		return len(fields) > 0, nil
	}
	if entity.IsTerminalStatus(sale.Status) {
		// 终态不回退也不再推进
		return len(fields) > 0, nil
	}

	actor := SystemActor()

	if target == entity.SaleStatusVoided {
		_, err := s.lifecycle.TransitionStatus(ctx, sale.ID, sale.Status, entity.SaleStatusVoided, actor)
		if err != nil {
			return false, err
		}
		return true, nil
	}

	// 外部状态可能跳跃（如draft直接到PAID），沿合法边逐步推进
	path := []string{entity.SaleStatusInvoiced, entity.SaleStatusPaid}
	current := sale.Status
	changed := len(fields) > 0
	for _, step := range path {
		if !statusPast(current, step) && statusPast(target, step) {
			if step == entity.SaleStatusPaid {
				if paidAt := ledger.ParseDate(inv.FullyPaidOn); paidAt != nil {
					if err := s.repos.Sale.UpdateFields(ctx, sale.ID, map[string]interface{}{"paid_date": *paidAt}); err != nil {
						return changed, err
					}
				}
			}
			if _, err := s.lifecycle.TransitionStatus(ctx, sale.ID, current, step, actor); err != nil {
				return changed, err
			}
			current = step
			changed = true
		}
	}
	return changed, nil
}

// WebhookOutcome webhook批次处理结果
type WebhookOutcome struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// ProcessWebhookEvents 处理webhook事件批次
// 逐事件独立处理：单个事件失败记入事故台账并继续，绝不中断批次
// 事件体不可信——每个发票事件都回查账务系统取当前状态
func (s *ReconcileService) ProcessWebhookEvents(ctx context.Context, events []ledger.WebhookEvent) WebhookOutcome {
	var out WebhookOutcome
	for _, ev := range events {
		if ev.EventCategory != "INVOICE" {
			out.Skipped++
			continue
		}
		if err := s.processInvoiceEvent(ctx, ev); err != nil {
			out.Errors++
			s.logger.Warn("webhook event failed",
				zap.String("resource_id", ev.ResourceID),
				zap.String("event_type", ev.EventType),
				zap.Error(err))
			s.recordIncident(ctx, &entity.Incident{
				Severity: entity.IncidentSeverityError,
				Source:   entity.IncidentSourceWebhook,
				Category: entity.IncidentCategoryWebhookEvent,
				Message:  fmt.Sprintf("webhook event processing failed for invoice %s", ev.ResourceID),
				Metadata: entity.IncidentMetadata{
					WebhookEvent: &entity.WebhookEventMeta{
						EventCategory: ev.EventCategory,
						EventType:     ev.EventType,
						ResourceID:    ev.ResourceID,
						Reason:        err.Error(),
					},
				},
				TriggeredBy: SystemActorID,
			})
			continue
		}
		out.Processed++
	}
	return out
}

func (s *ReconcileService) processInvoiceEvent(ctx context.Context, ev ledger.WebhookEvent) error {
	inv, err := s.client.GetInvoice(ctx, ev.ResourceID)
	if err != nil {
		return fmt.Errorf("回查发票失败: %w", err)
	}

	sale, err := s.locateSale(ctx, inv)
	if err != nil {
		return err
	}

	if sale == nil {
		// 本地无记录：销售发票补建占位，绝不静默丢弃
		if inv.Type != ledger.InvoiceTypeSales {
			return nil
		}
		_, err := s.CreatePlaceholder(ctx, inv, entity.IncidentSourceWebhook)
		return err
	}

	_, err = s.ApplyInvoiceState(ctx, sale, inv)
	return err
}

// locateSale 按外部发票ID定位，兜底按发票号
func (s *ReconcileService) locateSale(ctx context.Context, inv *ledger.Invoice) (*entity.Sale, error) {
	matches, err := s.repos.Sale.FindByExternalInvoiceID(ctx, inv.InvoiceID)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		// 正式记录优先（FindByExternalInvoiceID按needs_allocation升序）
		return &matches[0], nil
	}
	if inv.InvoiceNumber != "" {
		sale, err := s.repos.Sale.FindByExternalInvoiceNumber(ctx, inv.InvoiceNumber)
		if err == nil {
			return sale, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// CreatePlaceholder 为本地缺失的外部发票补建占位记录（needs_allocation=true）
// 创建后立即对齐外部状态（发票可能已是PAID）
// 金额来自外部、未经本地计算，落库后做VAT一致性检查，不一致只记事故不阻断
func (s *ReconcileService) CreatePlaceholder(ctx context.Context, inv *ledger.Invoice, source string) (*entity.Sale, error) {
	buyer, err := s.resolvePlaceholderBuyer(ctx, inv)
	if err != nil {
		return nil, err
	}

	reference, err := s.repos.Sale.GenerateReference(ctx)
	if err != nil {
		return nil, err
	}

	sale := &entity.Sale{
		ID:                    uuid.New().String()[:32],
		Reference:             reference,
		Status:                entity.SaleStatusDraft,
		BuyerID:               buyer.ID,
		NeedsAllocation:       true,
		SaleAmountExVAT:       inv.SubTotal,
		SaleAmountIncVAT:      inv.Total,
		VATScheme:             entity.VATSchemeStandard,
		ExternalInvoiceID:     inv.InvoiceID,
		ExternalInvoiceNumber: inv.InvoiceNumber,
		CreatedBy:             SystemActorID,
	}
	if err := s.repos.Sale.Create(ctx, sale); err != nil {
		return nil, err
	}

	s.logger.Info("placeholder sale created for external invoice",
		zap.String("sale_id", sale.ID),
		zap.String("external_invoice_id", inv.InvoiceID))

	if v, verr := finance.ValidateSaleVAT(sale.VATScheme, sale.SaleAmountExVAT, sale.SaleAmountIncVAT); verr == nil && !v.IsValid {
		s.recordIncident(ctx, &entity.Incident{
			Severity: entity.IncidentSeverityWarning,
			Source:   source,
			Category: entity.IncidentCategoryDataIntegrity,
			Message:  fmt.Sprintf("data integrity warning on sale %s: vat_mismatch", sale.Reference),
			Metadata: entity.IncidentMetadata{
				DataIntegrity: &entity.DataIntegrityMeta{
					SaleID:      sale.ID,
					Check:       "vat_mismatch",
					Value:       sale.SaleAmountIncVAT,
					Expected:    v.ExpectedAmount,
					Discrepancy: v.Discrepancy,
				},
			},
			TriggeredBy: SystemActorID,
		})
	}

	if _, err := s.ApplyInvoiceState(ctx, sale, inv); err != nil {
		return nil, err
	}
	return s.repos.Sale.FindByID(ctx, sale.ID)
}

func (s *ReconcileService) resolvePlaceholderBuyer(ctx context.Context, inv *ledger.Invoice) (*entity.Buyer, error) {
	if inv.Contact.ContactID != "" {
		buyer, err := s.repos.Buyer.FindByExternalContactID(ctx, inv.Contact.ContactID)
		if err == nil {
			return buyer, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	name := inv.Contact.Name
	if name == "" {
		name = "Unknown buyer"
	}
	buyer := &entity.Buyer{
		ID:                uuid.New().String()[:32],
		Name:              name,
		ExternalContactID: inv.Contact.ContactID,
	}
	if err := s.repos.Buyer.Create(ctx, buyer); err != nil {
		return nil, err
	}
	return buyer, nil
}

// SweepSummary 扫描汇总（反映部分进度：出错也返回已完成的计数）
type SweepSummary struct {
	Checked   int       `json:"checked"`
	Updated   int       `json:"updated"`
	Errors    int       `json:"errors"`
	Timestamp time.Time `json:"timestamp"`
}

// Sweep 对账扫描：webhook丢失/延迟时的兜底
// Pass 1 回查所有等待确认的记录；Pass 2 补查窗口内遗漏的新发票
// 单项失败记事故并继续，扫描永远跑完并返回汇总
func (s *ReconcileService) Sweep(ctx context.Context) (*SweepSummary, error) {
	summary := &SweepSummary{Timestamp: time.Now().UTC()}

	// Pass 1: 状态回查
	pending, err := s.repos.Sale.FindAwaitingConfirmation(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		sale := &pending[i]
		summary.Checked++

		inv, err := s.client.GetInvoice(ctx, sale.ExternalInvoiceID)
		if err != nil {
			summary.Errors++
			s.recordSweepIncident(ctx, sale.ID, sale.ExternalInvoiceID, 1, err)
			s.markSweepFailure(ctx, sale)
			continue
		}
		changed, err := s.ApplyInvoiceState(ctx, sale, inv)
		if err != nil {
			summary.Errors++
			s.recordSweepIncident(ctx, sale.ID, sale.ExternalInvoiceID, 1, err)
			s.markSweepFailure(ctx, sale)
			continue
		}
		if sale.SweepFailures > 0 {
			if cerr := s.repos.Sale.ClearSweepFailures(ctx, sale.ID); cerr != nil {
				s.logger.Warn("failed to clear sweep failure counter",
					zap.String("sale_id", sale.ID), zap.Error(cerr))
			}
		}
		if changed {
			summary.Updated++
		}
	}

	// Pass 2: 窗口内漏建补查
	since := time.Now().AddDate(0, 0, -s.lookbackDays)
	page := 1
	for page <= s.maxListPages {
		invoices, hasMore, err := s.client.ListInvoices(ctx, since, page)
		if err != nil {
			summary.Errors++
			s.recordSweepIncident(ctx, "", "", 2, err)
			break
		}
		for i := range invoices {
			inv := &invoices[i]
			if inv.Type != ledger.InvoiceTypeSales {
				continue
			}
			summary.Checked++

			sale, err := s.locateSale(ctx, inv)
			if err != nil {
				summary.Errors++
				s.recordSweepIncident(ctx, "", inv.InvoiceID, 2, err)
				continue
			}
			if sale != nil {
				continue
			}
			if _, err := s.CreatePlaceholder(ctx, inv, entity.IncidentSourceSweep); err != nil {
				summary.Errors++
				s.recordSweepIncident(ctx, "", inv.InvoiceID, 2, err)
				continue
			}
			summary.Updated++
		}
		if !hasMore {
			break
		}
		page++
	}

	s.logger.Info("reconciliation sweep finished",
		zap.Int("checked", summary.Checked),
		zap.Int("updated", summary.Updated),
		zap.Int("errors", summary.Errors))

	return summary, nil
}

// SweepWithLease 带租约的扫描（定时触发用）
// 租约抢不到说明别的副本正在扫，直接返回nil汇总
func (s *ReconcileService) SweepWithLease(ctx context.Context) (*SweepSummary, error) {
	if s.rdb != nil {
		ok, err := s.rdb.SetNX(ctx, sweepLeaseKey, time.Now().UTC().Format(time.RFC3339), sweepLeaseTTL).Result()
		if err != nil {
			// redis不可用不阻断兜底扫描
			s.logger.Warn("sweep lease unavailable, proceeding without it", zap.Error(err))
		} else if !ok {
			s.logger.Info("sweep lease held elsewhere, skipping this round")
			return nil, nil
		} else {
			defer s.rdb.Del(context.WithoutCancel(ctx), sweepLeaseKey)
		}
	}
	return s.Sweep(ctx)
}

// markSweepFailure 累计单条记录的连续失败次数，达到上限自动置error_flag退出候选集
func (s *ReconcileService) markSweepFailure(ctx context.Context, sale *entity.Sale) {
	if err := s.repos.Sale.RecordSweepFailure(ctx, sale.ID, sweepFailureLimit); err != nil {
		s.logger.Warn("failed to record sweep failure",
			zap.String("sale_id", sale.ID), zap.Error(err))
		return
	}
	if sale.SweepFailures+1 >= sweepFailureLimit {
		s.logger.Warn("sale parked after repeated sweep failures",
			zap.String("sale_id", sale.ID),
			zap.String("external_invoice_id", sale.ExternalInvoiceID),
			zap.Int("failures", sale.SweepFailures+1))
	}
}

func (s *ReconcileService) recordSweepIncident(ctx context.Context, saleID, externalID string, pass int, cause error) {
	s.logger.Warn("sweep item failed",
		zap.String("sale_id", saleID),
		zap.String("external_invoice_id", externalID),
		zap.Int("pass", pass),
		zap.Error(cause))
	s.recordIncident(ctx, &entity.Incident{
		Severity: entity.IncidentSeverityError,
		Source:   entity.IncidentSourceSweep,
		Category: entity.IncidentCategorySweepItem,
		Message:  fmt.Sprintf("sweep pass %d item failed", pass),
		Metadata: entity.IncidentMetadata{
			SweepItem: &entity.SweepItemMeta{
				SaleID:            saleID,
				ExternalInvoiceID: externalID,
				Pass:              pass,
				Reason:            cause.Error(),
			},
		},
		TriggeredBy: SystemActorID,
	})
}

// RecordSignatureIncident 签名校验失败事故（webhook handler调用，安全事件必记）
func (s *ReconcileService) RecordSignatureIncident(ctx context.Context, remoteIP string, hasHeader bool, payloadSize int) {
	s.recordIncident(ctx, &entity.Incident{
		Severity: entity.IncidentSeverityCritical,
		Source:   entity.IncidentSourceWebhook,
		Category: entity.IncidentCategoryWebhookSignature,
		Message:  "webhook signature verification failed",
		Metadata: entity.IncidentMetadata{
			WebhookSignature: &entity.WebhookSignatureMeta{
				RemoteIP:    remoteIP,
				HasHeader:   hasHeader,
				PayloadSize: payloadSize,
			},
		},
		TriggeredBy: SystemActorID,
	})
}

func (s *ReconcileService) recordIncident(ctx context.Context, incident *entity.Incident) {
	if incident.ID == "" {
		incident.ID = uuid.New().String()[:32]
	}
	if err := s.repos.Incident.Create(ctx, incident); err != nil {
		s.logger.Error("failed to append incident record", zap.Error(err))
	}
}
