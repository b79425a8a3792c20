package storage

import (
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/hyperflash/pkg/order"
)

func encodeOrder(o order.Order) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode order %s: %w", o.ID, err)
	}
	return b, nil
}

func decodeOrder(b []byte) (order.Order, error) {
	var o order.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return order.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return o, nil
}
