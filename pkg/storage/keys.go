package storage

// Key schema shared by everything living in the pebble database:
//
//	ord:<orderID> → Order (JSON)
//	job:<jobID>   → queue record (JSON, owned by pkg/queue)
const prefixOrder = "ord:"

// orderKey returns the key for an order
// Format: "ord:{orderID}"
func orderKey(id string) []byte {
	return append([]byte(prefixOrder), id...)
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil
}
