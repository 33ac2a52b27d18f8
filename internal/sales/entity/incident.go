package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// 事故级别
const (
	IncidentSeverityInfo     = "info"
	IncidentSeverityWarning  = "warning"
	IncidentSeverityError    = "error"
	IncidentSeverityCritical = "critical"
)

// 事故分类（封闭集合，metadata按分类取对应字段）
const (
	IncidentCategoryWebhookSignature = "webhook_signature" // 签名校验失败
	IncidentCategoryWebhookEvent     = "webhook_event"     // 单个webhook事件处理失败
	IncidentCategorySweepItem        = "sweep_item"        // 对账扫描单项失败
	IncidentCategoryLedgerCall       = "ledger_call"       // 外部账务系统调用失败
	IncidentCategoryDataIntegrity    = "data_integrity"    // 数据完整性告警
)

// 事故来源
const (
	IncidentSourceWebhook = "webhook"
	IncidentSourceSweep   = "sweep"
	IncidentSourceAPI     = "api"
)

// Incident 事故记录（仅追加，除resolved字段外不可变更）
type Incident struct {
	ID       string `json:"id" gorm:"primaryKey;size:32"`
	Severity string `json:"severity" gorm:"size:20;not null;index"`
	Source   string `json:"source" gorm:"size:20;not null"`
	Category string `json:"category" gorm:"size:40;not null;index"`
	Message  string `json:"message" gorm:"type:text;not null"`

	Metadata IncidentMetadata `json:"metadata" gorm:"type:jsonb"`

	TriggeredBy string     `json:"triggered_by" gorm:"size:64"` // actor id 或 "system"
	Resolved    bool       `json:"resolved" gorm:"default:false;index"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	ResolvedBy  string     `json:"resolved_by" gorm:"size:32"`

	CreatedAt time.Time `json:"created_at"`
}

func (Incident) TableName() string {
	return "incidents"
}

// IncidentMetadata 事故元数据
// 按分类只填对应子结构，保持错误分类可枚举、可测试
type IncidentMetadata struct {
	WebhookSignature *WebhookSignatureMeta `json:"webhook_signature,omitempty"`
	WebhookEvent     *WebhookEventMeta     `json:"webhook_event,omitempty"`
	SweepItem        *SweepItemMeta        `json:"sweep_item,omitempty"`
	LedgerCall       *LedgerCallMeta       `json:"ledger_call,omitempty"`
	DataIntegrity    *DataIntegrityMeta    `json:"data_integrity,omitempty"`
}

// WebhookSignatureMeta 签名校验失败元数据
type WebhookSignatureMeta struct {
	RemoteIP    string `json:"remote_ip"`
	HasHeader   bool   `json:"has_header"`
	PayloadSize int    `json:"payload_size"`
}

// WebhookEventMeta 单事件处理失败元数据
type WebhookEventMeta struct {
	EventCategory string `json:"event_category"`
	EventType     string `json:"event_type"`
	ResourceID    string `json:"resource_id"`
	Reason        string `json:"reason"`
}

// SweepItemMeta 对账扫描单项失败元数据
type SweepItemMeta struct {
	SaleID            string `json:"sale_id,omitempty"`
	ExternalInvoiceID string `json:"external_invoice_id"`
	Pass              int    `json:"pass"` // 1=状态回查 2=漏建补查
	Reason            string `json:"reason"`
}

// LedgerCallMeta 外部调用失败元数据
type LedgerCallMeta struct {
	Operation string `json:"operation"` // get_invoice/list_invoices/create_invoice
	Kind      string `json:"kind"`     // auth_expired/transient/permanent
	Reason    string `json:"reason"`
}

// DataIntegrityMeta 数据完整性告警元数据
type DataIntegrityMeta struct {
	SaleID      string  `json:"sale_id"`
	Check       string  `json:"check"` // negative_margin/buy_exceeds_sale/zero_amount/vat_mismatch
	Value       float64 `json:"value,omitempty"`
	Expected    float64 `json:"expected,omitempty"`
	Discrepancy float64 `json:"discrepancy,omitempty"`
}

func (m IncidentMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *IncidentMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = IncidentMetadata{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan IncidentMetadata: %v", value)
	}
	return json.Unmarshal(bytes, m)
}
