package ledger

import "encoding/json"

// 发票状态（账务系统侧）
const (
	InvoiceStatusDraft      = "DRAFT"
	InvoiceStatusSubmitted  = "SUBMITTED"
	InvoiceStatusAuthorised = "AUTHORISED"
	InvoiceStatusPaid       = "PAID"
	InvoiceStatusVoided     = "VOIDED"
	InvoiceStatusDeleted    = "DELETED"
)

// 发票类型
const (
	InvoiceTypeSales    = "ACCREC" // 销售发票（应收）
	InvoiceTypePurchase = "ACCPAY" // 采购发票（应付）
)

// Invoice 账务系统发票
// 日期字段为账务系统的遗留编码（/Date(ms+zone)/ 或 ISO8601），统一用ParseDate解析
type Invoice struct {
	InvoiceID     string     `json:"invoice_id"`
	InvoiceNumber string     `json:"invoice_number"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Contact       Contact    `json:"contact"`
	SubTotal      float64    `json:"sub_total"`
	TotalTax      float64    `json:"total_tax"`
	Total         float64    `json:"total"`
	AmountDue     float64    `json:"amount_due"`
	AmountPaid    float64    `json:"amount_paid"`
	CurrencyCode  string     `json:"currency_code"`
	Date          string     `json:"date"`
	DueDate       string     `json:"due_date"`
	FullyPaidOn   string     `json:"fully_paid_on_date"`
	UpdatedDate   string     `json:"updated_date_utc"`
	LineItems     []LineItem `json:"line_items,omitempty"`
}

// Contact 账务系统联系人
type Contact struct {
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
}

// LineItem 发票行项
type LineItem struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitAmount  float64 `json:"unit_amount"`
	AccountCode string  `json:"account_code"`
	TaxType     string  `json:"tax_type"`
	LineAmount  float64 `json:"line_amount"`
}

// CreateInvoiceRequest 建票请求
type CreateInvoiceRequest struct {
	Type         string     `json:"type"`
	Contact      Contact    `json:"contact"`
	Date         string     `json:"date"`
	DueDate      string     `json:"due_date,omitempty"`
	LineItems    []LineItem `json:"line_items"`
	CurrencyCode string     `json:"currency_code,omitempty"`
	Reference    string     `json:"reference,omitempty"`
	Status       string     `json:"status,omitempty"`
}

// invoiceResponse 单票响应
type invoiceResponse struct {
	Invoice *Invoice `json:"invoice"`
}

// invoiceListResponse 列表响应
type invoiceListResponse struct {
	Invoices []Invoice `json:"invoices"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int       `json:"total"`
}

// WebhookPayload webhook请求体
type WebhookPayload struct {
	Events       []WebhookEvent `json:"events"`
	FirstEventAt json.Number    `json:"first_event_sequence,omitempty"`
	LastEventAt  json.Number    `json:"last_event_sequence,omitempty"`
}

// WebhookEvent 单个webhook事件
// 事件体不可信，处理时必须回查账务系统取当前状态
type WebhookEvent struct {
	ResourceID    string `json:"resource_id"`
	EventCategory string `json:"event_category"` // INVOICE/CONTACT/...
	EventType     string `json:"event_type"`     // CREATE/UPDATE
	EventDateUTC  string `json:"event_date_utc"`
	TenantID      string `json:"tenant_id,omitempty"`
}
