package finance

import (
	"fmt"
	"math"

	"github.com/bitfantasy/salesync/internal/sales/entity"
)

// 纯计算包：毛利/佣金基数/VAT，无任何I/O
// 所有金额两位小数，允许负数（负毛利由数据完整性检查消费，不是错误）

// VAT方案税率表，未知标签必须显式报错，不允许静默取默认值
var vatRates = map[string]float64{
	entity.VATSchemeStandard: 0.20,
	entity.VATSchemeExport:   0,
	entity.VATSchemeMargin:   0,
}

// VAT校验容差（£1）
const vatTolerance = 1.0

// ErrUnknownVATScheme 未知VAT方案
type ErrUnknownVATScheme struct {
	Scheme string
}

func (e *ErrUnknownVATScheme) Error() string {
	return fmt.Sprintf("unknown VAT scheme: %q", e.Scheme)
}

// MarginResult 毛利计算结果
type MarginResult struct {
	GrossMargin          float64         `json:"gross_margin"`
	CommissionableMargin float64         `json:"commissionable_margin"`
	Breakdown            MarginBreakdown `json:"breakdown"`
}

// MarginBreakdown 毛利构成明细
type MarginBreakdown struct {
	SaleAmountExVAT      float64 `json:"sale_amount_ex_vat"`
	BuyPrice             float64 `json:"buy_price"`
	ShippingCost         float64 `json:"shipping_cost"`
	CardFees             float64 `json:"card_fees"`
	DirectCosts          float64 `json:"direct_costs"`
	IntroducerCommission float64 `json:"introducer_commission"`
}

// VATResult VAT计算结果
type VATResult struct {
	ExVAT     float64 `json:"ex_vat"`
	IncVAT    float64 `json:"inc_vat"`
	VATAmount float64 `json:"vat_amount"`
	Rate      float64 `json:"rate"`
}

// VATValidation VAT一致性校验结果
type VATValidation struct {
	IsValid        bool    `json:"is_valid"`
	ExpectedRate   float64 `json:"expected_rate"`
	ExpectedAmount float64 `json:"expected_amount"`
	Discrepancy    float64 `json:"discrepancy"`
	// 零税率方案下 inc_vat 实为真实总额、ex_vat 被错误地除以1.2回推的已知脏数据模式
	LegacyDivisionBug bool `json:"legacy_division_bug"`
}

// Round2 四舍五入到两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// CalculateMargins 计算毛利与佣金基数
// gross = ex_vat - buy - shipping - card_fees - direct_costs
// commissionable = gross - introducer_commission
func CalculateMargins(exVAT, buyPrice, shipping, cardFees, directCosts, introducerCommission float64) MarginResult {
	gross := Round2(exVAT - buyPrice - shipping - cardFees - directCosts)
	return MarginResult{
		GrossMargin:          gross,
		CommissionableMargin: Round2(gross - introducerCommission),
		Breakdown: MarginBreakdown{
			SaleAmountExVAT:      Round2(exVAT),
			BuyPrice:             Round2(buyPrice),
			ShippingCost:         Round2(shipping),
			CardFees:             Round2(cardFees),
			DirectCosts:          Round2(directCosts),
			IntroducerCommission: Round2(introducerCommission),
		},
	}
}

// CalculateVAT 按方案标签计算含税金额
func CalculateVAT(scheme string, exVAT float64) (VATResult, error) {
	rate, ok := vatRates[scheme]
	if !ok {
		return VATResult{}, &ErrUnknownVATScheme{Scheme: scheme}
	}
	vat := Round2(exVAT * rate)
	return VATResult{
		ExVAT:     Round2(exVAT),
		IncVAT:    Round2(exVAT + vat),
		VATAmount: vat,
		Rate:      rate,
	}, nil
}

// ValidateSaleVAT 校验存量记录的VAT一致性（容差±£1）
// 零税率方案下检测 |inc - ex*1.2| < 1 的除1.2回推脏数据；修复方式为两字段同置为inc_vat
func ValidateSaleVAT(scheme string, exVAT, incVAT float64) (VATValidation, error) {
	rate, ok := vatRates[scheme]
	if !ok {
		return VATValidation{}, &ErrUnknownVATScheme{Scheme: scheme}
	}

	expected := Round2(exVAT * (1 + rate))
	discrepancy := Round2(incVAT - expected)

	v := VATValidation{
		ExpectedRate:   rate,
		ExpectedAmount: expected,
		Discrepancy:    discrepancy,
		IsValid:        math.Abs(discrepancy) < vatTolerance,
	}

	if rate == 0 && math.Abs(incVAT-exVAT*1.2) < vatTolerance && incVAT != exVAT {
		v.LegacyDivisionBug = true
		v.IsValid = false
	}
	return v, nil
}

// RemediateLegacyVAT 修复除1.2回推脏数据：以原inc_vat为准，两字段取齐
func RemediateLegacyVAT(incVAT float64) (newExVAT, newIncVAT float64) {
	return Round2(incVAT), Round2(incVAT)
}
