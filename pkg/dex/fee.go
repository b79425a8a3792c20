package dex

import "github.com/shopspring/decimal"

// FeeRate is the venue fee charged on the traded quantity (0.3%).
var FeeRate = decimal.RequireFromString("0.003")

// Fee returns the fee for quantity.
func Fee(quantity decimal.Decimal) decimal.Decimal {
	return quantity.Mul(FeeRate)
}
