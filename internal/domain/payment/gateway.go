package payment

import "context"

type OrderRequest struct {
	Reference   string `json:"reference"`
	MerchantID  string `json:"merchant_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Notes       string `json:"notes,omitempty"`
}

type RefundRequest struct {
	Reference   string `json:"reference"`
	BorrowerID  string `json:"borrower_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
}

type LinkRequest struct {
	Reference   string `json:"reference"`
	BorrowerID  string `json:"borrower_id"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

// Result identifies what the gateway created. Simulated is set when the
// gateway was unavailable and a local record stands in for it.
type Result struct {
	ID        string `json:"id"`
	URL       string `json:"url,omitempty"`
	Status    string `json:"status"`
	Simulated bool   `json:"simulated"`
}

type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (Result, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Result, error)
	CreatePaymentLink(ctx context.Context, req LinkRequest) (Result, error)
}
