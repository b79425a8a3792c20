package order

import "github.com/shopspring/decimal"

// TopicUpdates is the bus topic carrying every StatusEvent.
const TopicUpdates = "order-updates"

// StatusEvent announces one lifecycle transition. The payload fields are
// filled according to State: price, settlement reference and source for
// CONFIRMED, reason for FAILED.
type StatusEvent struct {
	OrderID       string           `json:"orderId"`
	State         State            `json:"state"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	SettlementRef string           `json:"settlementReference,omitempty"`
	Source        string           `json:"source,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Attempt       int              `json:"attempt,omitempty"`
	Timestamp     int64            `json:"timestamp"`
}
