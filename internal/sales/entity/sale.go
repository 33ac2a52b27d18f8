package entity

import (
	"time"

	"gorm.io/gorm"
)

// Sale状态常量
const (
	SaleStatusDraft          = "draft"           // 草稿/占位
	SaleStatusInvoiced       = "invoiced"        // 已开票（已关联外部发票）
	SaleStatusPaid           = "paid"            // 外部账务系统确认已付款
	SaleStatusLocked         = "locked"          // 财务锁定，待结算佣金
	SaleStatusCommissionPaid = "commission_paid" // 佣金已发放（终态）
	SaleStatusVoided         = "voided"          // 已作废（终态）
)

// VAT税务方案标签
const (
	VATSchemeStandard = "standard" // 标准税率 20%
	VATSchemeExport   = "export"   // 出口零税率
	VATSchemeMargin   = "margin"   // 差额征税（margin scheme），零税率
)

// Sale 销售记录
// status 只能通过 LifecycleService.TransitionStatus 变更，禁止直接写列
type Sale struct {
	ID        string `json:"id" gorm:"primaryKey;size:32"`
	Reference string `json:"reference" gorm:"size:32;uniqueIndex;not null"` // SAL-YYYYMM-XXXX
	Status    string `json:"status" gorm:"size:20;default:draft;index"`

	BuyerID   string `json:"buyer_id" gorm:"size:32;index"`
	ShopperID string `json:"shopper_id" gorm:"size:32;index"` // 空串表示未认领

	// 待分配标记：由webhook/对账补建的占位记录为true
	NeedsAllocation bool `json:"needs_allocation" gorm:"default:false;index"`

	// 金额（GBP，两位小数）
	SaleAmountExVAT      float64 `json:"sale_amount_ex_vat" gorm:"type:decimal(15,2)"`
	SaleAmountIncVAT     float64 `json:"sale_amount_inc_vat" gorm:"type:decimal(15,2)"`
	BuyPrice             float64 `json:"buy_price" gorm:"type:decimal(15,2)"`
	ShippingCost         float64 `json:"shipping_cost" gorm:"type:decimal(15,2)"`
	CardFees             float64 `json:"card_fees" gorm:"type:decimal(15,2)"`
	DirectCosts          float64 `json:"direct_costs" gorm:"type:decimal(15,2)"`
	IntroducerCommission float64 `json:"introducer_commission" gorm:"type:decimal(15,2)"`
	VATScheme            string  `json:"vat_scheme" gorm:"size:20;default:standard"`

	// 派生字段：由finance包计算后缓存，可随时重算
	GrossMargin          float64 `json:"gross_margin" gorm:"type:decimal(15,2)"`
	CommissionableMargin float64 `json:"commissionable_margin" gorm:"type:decimal(15,2)"`

	// 外部账务系统关联
	// external_invoice_id 在正式记录（非删除、非占位）中全局唯一，由业务逻辑保证
	ExternalInvoiceID     string     `json:"external_invoice_id" gorm:"size:64;index"`
	ExternalInvoiceNumber string     `json:"external_invoice_number" gorm:"size:64;index"`
	ExternalStatus        string     `json:"external_status" gorm:"size:20"`
	PaidDate              *time.Time `json:"paid_date"`

	// 佣金标记
	CommissionLocked bool       `json:"commission_locked" gorm:"default:false"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         string     `json:"locked_by" gorm:"size:32"`
	CommissionPaid   bool       `json:"commission_paid" gorm:"default:false"`
	CommissionPaidAt *time.Time `json:"commission_paid_at"`

	// 对账异常标记：连续扫描失败达到上限后置位，从扫描候选集剔除，待人工处理
	ErrorFlag     bool `json:"error_flag" gorm:"default:false"`
	SweepFailures int  `json:"sweep_failures" gorm:"default:0"`

	// 状态变更审计
	StatusChangedAt *time.Time `json:"status_changed_at"`
	StatusChangedBy string     `json:"status_changed_by" gorm:"size:32"`

	CreatedBy string         `json:"created_by" gorm:"size:32"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`

	// 关联
	Buyer *Buyer `json:"buyer,omitempty" gorm:"foreignKey:BuyerID"`
}

func (Sale) TableName() string {
	return "sales"
}

// IsPlaceholder 是否为占位记录（缺少成本/归属信息，等待认领）
func (s *Sale) IsPlaceholder() bool {
	return s.NeedsAllocation
}

// IsCanonical 是否为该外部发票的正式记录（非删除、非占位）
func (s *Sale) IsCanonical() bool {
	return !s.NeedsAllocation && !s.DeletedAt.Valid
}

// IsTerminal 是否处于终态
func IsTerminalStatus(status string) bool {
	return status == SaleStatusCommissionPaid || status == SaleStatusVoided
}

// ValidSaleStatus 状态值是否合法
func ValidSaleStatus(status string) bool {
	switch status {
	case SaleStatusDraft, SaleStatusInvoiced, SaleStatusPaid,
		SaleStatusLocked, SaleStatusCommissionPaid, SaleStatusVoided:
		return true
	}
	return false
}
