package ledger

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// =============================================================================
// 发票API — 按ID查询、按日期分页列表、建票
// =============================================================================

// GetInvoice 按外部发票ID查询当前状态
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	if invoiceID == "" {
		return nil, fmt.Errorf("invoiceID不能为空")
	}
	var resp invoiceResponse
	if err := c.doRequest(ctx, "GET", "/api/v2/invoices/"+url.PathEscape(invoiceID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Invoice == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvoiceNotFound, invoiceID)
	}
	return resp.Invoice, nil
}

// ListInvoices 按修改日期过滤分页查询发票
// page从1开始；返回当页数据及是否还有下一页
func (c *Client) ListInvoices(ctx context.Context, modifiedSince time.Time, page int) ([]Invoice, bool, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", fmt.Sprintf("%d", page))
	if !modifiedSince.IsZero() {
		q.Set("modified_since", modifiedSince.UTC().Format(time.RFC3339))
	}

	var resp invoiceListResponse
	if err := c.doRequest(ctx, "GET", "/api/v2/invoices?"+q.Encode(), nil, &resp); err != nil {
		return nil, false, err
	}

	hasMore := false
	if resp.PageSize > 0 && len(resp.Invoices) == resp.PageSize {
		hasMore = resp.Page*resp.PageSize < resp.Total
	}
	return resp.Invoices, hasMore, nil
}

// CreateInvoice 建票（关键同步路径：失败直接上抛给调用方重试，不在此处吞掉）
func (c *Client) CreateInvoice(ctx context.Context, req *CreateInvoiceRequest) (*Invoice, error) {
	if req == nil || len(req.LineItems) == 0 {
		return nil, fmt.Errorf("建票请求缺少行项")
	}
	if req.Type == "" {
		req.Type = InvoiceTypeSales
	}
	var resp invoiceResponse
	if err := c.doRequest(ctx, "POST", "/api/v2/invoices", req, &resp); err != nil {
		return nil, err
	}
	if resp.Invoice == nil {
		return nil, fmt.Errorf("建票响应缺少invoice")
	}
	return resp.Invoice, nil
}
