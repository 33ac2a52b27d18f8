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
	"go.uber.org/zap"
)

// SaleService 销售记录服务：创建/收编外部发票、查询、软删除
type SaleService struct {
	repos     *repository.Repositories
	client    *ledger.Client
	lifecycle *LifecycleService
	logger    *zap.Logger
}

func NewSaleService(repos *repository.Repositories, client *ledger.Client, lifecycle *LifecycleService, logger *zap.Logger) *SaleService {
	return &SaleService{repos: repos, client: client, lifecycle: lifecycle, logger: logger}
}

// CreateSaleRequest 创建销售请求
// external_invoice_id 非空时收编既有外部发票；否则在账务系统建票
type CreateSaleRequest struct {
	BuyerID              string  `json:"buyer_id"`
	BuyerName            string  `json:"buyer_name"`
	ShopperID            string  `json:"shopper_id"`
	VATScheme            string  `json:"vat_scheme" binding:"required"`
	SaleAmountExVAT      float64 `json:"sale_amount_ex_vat" binding:"required"`
	BuyPrice             float64 `json:"buy_price"`
	ShippingCost         float64 `json:"shipping_cost"`
	CardFees             float64 `json:"card_fees"`
	DirectCosts          float64 `json:"direct_costs"`
	IntroducerCommission float64 `json:"introducer_commission"`
	Description          string  `json:"description"`
	AccountCode          string  `json:"account_code"`
	TaxType              string  `json:"tax_type"`
	CurrencyCode         string  `json:"currency_code"`
	ExternalInvoiceID    string  `json:"external_invoice_id"`
}

// List 销售列表
func (s *SaleService) List(ctx context.Context, page, pageSize int, f repository.SaleFilter) ([]entity.Sale, int64, error) {
	return s.repos.Sale.FindAll(ctx, page, pageSize, f)
}

// Get 销售详情
func (s *SaleService) Get(ctx context.Context, id string) (*entity.Sale, error) {
	return s.repos.Sale.FindByID(ctx, id)
}

// Create 创建销售记录（关键同步路径：账务系统错误直接上抛，由调用方决定重试）
//
// 幂等收编规则：
//   - 指定的external_invoice_id已被正式记录（非删除、非占位）持有 → ErrConflict
//   - 仅有占位记录 → promote-and-replace：先建正式记录，后软删占位，
//     任何持久可见时刻该外部ID都恰有一条正式记录
func (s *SaleService) Create(ctx context.Context, actor Actor, req *CreateSaleRequest) (*entity.Sale, error) {
	vat, err := finance.CalculateVAT(req.VATScheme, req.SaleAmountExVAT)
	if err != nil {
		var unknown *finance.ErrUnknownVATScheme
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}

	margins := finance.CalculateMargins(
		req.SaleAmountExVAT, req.BuyPrice, req.ShippingCost,
		req.CardFees, req.DirectCosts, req.IntroducerCommission)

	buyer, err := s.resolveBuyer(ctx, req)
	if err != nil {
		return nil, err
	}

	var placeholder *entity.Sale
	var inv *ledger.Invoice

	if req.ExternalInvoiceID != "" {
		// 收编路径：先查重
		placeholder, err = s.checkAdoptable(ctx, req.ExternalInvoiceID)
		if err != nil {
			return nil, err
		}
		inv, err = s.client.GetInvoice(ctx, req.ExternalInvoiceID)
		if err != nil {
			return nil, fmt.Errorf("回查外部发票失败: %w", err)
		}
	} else {
		// 建票路径
		inv, err = s.createLedgerInvoice(ctx, buyer, req, vat)
		if err != nil {
			return nil, err
		}
	}

	reference, err := s.repos.Sale.GenerateReference(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	shopperID := req.ShopperID
	if shopperID == "" {
		shopperID = actor.ID
	}
	sale := &entity.Sale{
		ID:                    uuid.New().String()[:32],
		Reference:             reference,
		Status:                entity.SaleStatusInvoiced,
		BuyerID:               buyer.ID,
		ShopperID:             shopperID,
		NeedsAllocation:       false,
		SaleAmountExVAT:       vat.ExVAT,
		SaleAmountIncVAT:      vat.IncVAT,
		BuyPrice:              finance.Round2(req.BuyPrice),
		ShippingCost:          finance.Round2(req.ShippingCost),
		CardFees:              finance.Round2(req.CardFees),
		DirectCosts:           finance.Round2(req.DirectCosts),
		IntroducerCommission:  finance.Round2(req.IntroducerCommission),
		VATScheme:             req.VATScheme,
		GrossMargin:           margins.GrossMargin,
		CommissionableMargin:  margins.CommissionableMargin,
		ExternalInvoiceID:     inv.InvoiceID,
		ExternalInvoiceNumber: inv.InvoiceNumber,
		ExternalStatus:        inv.Status,
		CreatedBy:             actor.ID,
		StatusChangedAt:       &now,
		StatusChangedBy:       actor.ID,
	}

	if err := s.repos.Sale.Create(ctx, sale); err != nil {
		return nil, err
	}

	// promote-and-replace 第二步：正式记录落库后再移除占位
	// 两写之间的短暂重叠可接受——占位记录不是正式记录
	if placeholder != nil {
		if derr := s.repos.Sale.SoftDelete(ctx, placeholder.ID); derr != nil {
			s.logger.Warn("failed to retire placeholder after promotion",
				zap.String("placeholder_id", placeholder.ID),
				zap.String("external_invoice_id", inv.InvoiceID),
				zap.Error(derr))
		}
	}

	s.recordIntegrityWarnings(ctx, sale, actor)

	s.logger.Info("sale created",
		zap.String("sale_id", sale.ID),
		zap.String("reference", sale.Reference),
		zap.String("external_invoice_id", sale.ExternalInvoiceID))

	return s.repos.Sale.FindByID(ctx, sale.ID)
}

// checkAdoptable 收编前查重：正式记录已存在 → 冲突；仅占位 → 返回待替换的占位
func (s *SaleService) checkAdoptable(ctx context.Context, externalID string) (*entity.Sale, error) {
	existing, err := s.repos.Sale.FindByExternalInvoiceID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	var placeholder *entity.Sale
	for i := range existing {
		if existing[i].IsCanonical() {
			return nil, fmt.Errorf("%w: 外部发票 %s 已有正式记录 %s", ErrConflict, externalID, existing[i].ID)
		}
		if existing[i].IsPlaceholder() && placeholder == nil {
			p := existing[i]
			placeholder = &p
		}
	}
	return placeholder, nil
}

func (s *SaleService) createLedgerInvoice(ctx context.Context, buyer *entity.Buyer, req *CreateSaleRequest, vat finance.VATResult) (*ledger.Invoice, error) {
	currency := req.CurrencyCode
	if currency == "" {
		currency = "GBP"
	}
	description := req.Description
	if description == "" {
		description = "Sale"
	}
	inv, err := s.client.CreateInvoice(ctx, &ledger.CreateInvoiceRequest{
		Type: ledger.InvoiceTypeSales,
		Contact: ledger.Contact{
			ContactID: buyer.ExternalContactID,
			Name:      buyer.Name,
		},
		Date:   time.Now().Format("2006-01-02"),
		Status: ledger.InvoiceStatusAuthorised,
		LineItems: []ledger.LineItem{{
			Description: description,
			Quantity:    1,
			UnitAmount:  vat.ExVAT,
			AccountCode: req.AccountCode,
			TaxType:     req.TaxType,
			LineAmount:  vat.ExVAT,
		}},
		CurrencyCode: currency,
	})
	if err != nil {
		return nil, fmt.Errorf("账务系统建票失败: %w", err)
	}
	return inv, nil
}

func (s *SaleService) resolveBuyer(ctx context.Context, req *CreateSaleRequest) (*entity.Buyer, error) {
	if req.BuyerID != "" {
		return s.repos.Buyer.FindByID(ctx, req.BuyerID)
	}
	if req.BuyerName == "" {
		return nil, fmt.Errorf("%w: buyer_id 或 buyer_name 必填其一", ErrValidation)
	}
	buyer := &entity.Buyer{
		ID:   uuid.New().String()[:32],
		Name: req.BuyerName,
	}
	if err := s.repos.Buyer.Create(ctx, buyer); err != nil {
		return nil, err
	}
	return buyer, nil
}

// recordIntegrityWarnings 数据完整性检查（非阻断：只记事故，不影响创建结果）
func (s *SaleService) recordIntegrityWarnings(ctx context.Context, sale *entity.Sale, actor Actor) {
	type integrityCheck struct {
		bad      bool
		check    string
		value    float64
		expected float64
		diff     float64
	}
	checks := []integrityCheck{
		{bad: sale.GrossMargin < 0, check: "negative_margin", value: sale.GrossMargin},
		{bad: sale.BuyPrice > sale.SaleAmountExVAT, check: "buy_exceeds_sale", value: sale.BuyPrice},
		{bad: sale.SaleAmountExVAT == 0, check: "zero_amount"},
	}
	if v, err := finance.ValidateSaleVAT(sale.VATScheme, sale.SaleAmountExVAT, sale.SaleAmountIncVAT); err == nil && !v.IsValid {
		checks = append(checks, integrityCheck{
			bad:      true,
			check:    "vat_mismatch",
			value:    sale.SaleAmountIncVAT,
			expected: v.ExpectedAmount,
			diff:     v.Discrepancy,
		})
	}
	for _, c := range checks {
		if !c.bad {
			continue
		}
		incident := &entity.Incident{
			ID:       uuid.New().String()[:32],
			Severity: entity.IncidentSeverityWarning,
			Source:   entity.IncidentSourceAPI,
			Category: entity.IncidentCategoryDataIntegrity,
			Message:  fmt.Sprintf("data integrity warning on sale %s: %s", sale.Reference, c.check),
			Metadata: entity.IncidentMetadata{
				DataIntegrity: &entity.DataIntegrityMeta{
					SaleID:      sale.ID,
					Check:       c.check,
					Value:       c.value,
					Expected:    c.expected,
					Discrepancy: c.diff,
				},
			},
			TriggeredBy: actor.ID,
		}
		if err := s.repos.Incident.Create(ctx, incident); err != nil {
			s.logger.Warn("failed to record integrity incident", zap.Error(err))
		}
	}
}

// VATCheckResult VAT校验/修复结果
type VATCheckResult struct {
	Validation finance.VATValidation `json:"validation"`
	Remediated bool                  `json:"remediated"`
	Sale       *entity.Sale          `json:"sale"`
}

// ValidateVAT 校验存量记录的VAT一致性，命中除1.2回推脏数据时就地修复
// 修复会改写金额并重算毛利，故仅提升权限角色可调用；不一致但非脏数据模式只记事故
func (s *SaleService) ValidateVAT(ctx context.Context, actor Actor, id string) (*VATCheckResult, error) {
	if !actor.IsElevated() {
		return nil, fmt.Errorf("%w: VAT校验修复需要财务权限", ErrForbidden)
	}
	sale, err := s.repos.Sale.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	v, err := finance.ValidateSaleVAT(sale.VATScheme, sale.SaleAmountExVAT, sale.SaleAmountIncVAT)
	if err != nil {
		var unknown *finance.ErrUnknownVATScheme
		if errors.As(err, &unknown) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, err
	}

	result := &VATCheckResult{Validation: v, Sale: sale}
	if v.IsValid {
		return result, nil
	}

	s.recordVATIncident(ctx, sale, v, actor)

	if v.LegacyDivisionBug {
		newEx, newInc := finance.RemediateLegacyVAT(sale.SaleAmountIncVAT)
		margins := finance.CalculateMargins(
			newEx, sale.BuyPrice, sale.ShippingCost,
			sale.CardFees, sale.DirectCosts, sale.IntroducerCommission)
		err := s.repos.Sale.UpdateFields(ctx, sale.ID, map[string]interface{}{
			"sale_amount_ex_vat":    newEx,
			"sale_amount_inc_vat":   newInc,
			"gross_margin":          margins.GrossMargin,
			"commissionable_margin": margins.CommissionableMargin,
		})
		if err != nil {
			return nil, err
		}
		result.Remediated = true
		s.logger.Info("legacy VAT remediated",
			zap.String("sale_id", sale.ID),
			zap.Float64("old_ex_vat", sale.SaleAmountExVAT),
			zap.Float64("new_ex_vat", newEx))
		result.Sale, err = s.repos.Sale.FindByID(ctx, sale.ID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *SaleService) recordVATIncident(ctx context.Context, sale *entity.Sale, v finance.VATValidation, actor Actor) {
	incident := &entity.Incident{
		ID:       uuid.New().String()[:32],
		Severity: entity.IncidentSeverityWarning,
		Source:   entity.IncidentSourceAPI,
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
		TriggeredBy: actor.ID,
	}
	if err := s.repos.Incident.Create(ctx, incident); err != nil {
		s.logger.Warn("failed to record integrity incident", zap.Error(err))
	}
}

// Delete 软删除（可恢复；任意非终态；仅提升权限角色）
func (s *SaleService) Delete(ctx context.Context, actor Actor, id string) error {
	if !actor.IsElevated() {
		return fmt.Errorf("%w: 删除需要财务权限", ErrForbidden)
	}
	sale, err := s.repos.Sale.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if entity.IsTerminalStatus(sale.Status) {
		return fmt.Errorf("%w: 终态记录不允许删除", ErrValidation)
	}
	return s.repos.Sale.SoftDelete(ctx, id)
}

// Restore 恢复软删除记录
func (s *SaleService) Restore(ctx context.Context, actor Actor, id string) (*entity.Sale, error) {
	if !actor.IsElevated() {
		return nil, fmt.Errorf("%w: 恢复需要财务权限", ErrForbidden)
	}
	sale, err := s.repos.Sale.FindByIDUnscoped(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sale.DeletedAt.Valid {
		return nil, fmt.Errorf("%w: 记录未被删除", ErrValidation)
	}

	// 恢复前确保不会产生同一外部发票的第二条正式记录
	if sale.ExternalInvoiceID != "" && !sale.IsPlaceholder() {
		existing, err := s.repos.Sale.FindByExternalInvoiceID(ctx, sale.ExternalInvoiceID)
		if err != nil {
			return nil, err
		}
		for i := range existing {
			if existing[i].IsCanonical() {
				return nil, fmt.Errorf("%w: 外部发票 %s 已有正式记录，无法恢复", ErrConflict, sale.ExternalInvoiceID)
			}
		}
	}

	if err := s.repos.Sale.Restore(ctx, id); err != nil {
		return nil, err
	}
	return s.repos.Sale.FindByID(ctx, id)
}
