package api

import "github.com/shopspring/decimal"

// API request and response types for the REST endpoints.

// SubmitOrderRequest is the body of POST /api/orders.
type SubmitOrderRequest struct {
	AssetIn  string          `json:"assetIn"`
	AssetOut string          `json:"assetOut"`
	Quantity decimal.Decimal `json:"quantity"` // number or numeric string
}

type SubmitOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OrderInfo is the polling view of an order.
type OrderInfo struct {
	OrderID             string           `json:"orderId"`
	AssetIn             string           `json:"assetIn"`
	AssetOut            string           `json:"assetOut"`
	Quantity            decimal.Decimal  `json:"quantity"`
	Side                string           `json:"side"`
	Type                string           `json:"type"`
	Status              string           `json:"status"`
	ExecutionPrice      *decimal.Decimal `json:"executionPrice,omitempty"`
	SettlementReference string           `json:"settlementReference,omitempty"`
	Source              string           `json:"source,omitempty"`
	FailureReason       string           `json:"failureReason,omitempty"`
	Attempts            int              `json:"attempts"`
	CreatedAt           int64            `json:"createdAt"` // Unix milliseconds
	UpdatedAt           int64            `json:"updatedAt"` // Unix milliseconds
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
