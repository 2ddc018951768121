// Package mirror discovers, deserializes and fans out the three account
// types that make up one product's subscription chain: a mapping account's
// product table, a product account's first price account, and a price
// account's publisher component table and chained next price account.
package mirror

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// accountNotificationValue is the "value" field of an account_subscribe
// notification: lamports/owner/executable plus the base64-or-legacy-string
// account data.
type accountNotificationValue struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value struct {
		Data     []string `json:"data"`
		Lamports uint64   `json:"lamports"`
		Owner    string   `json:"owner"`
	} `json:"value"`
}

// decodeAccountNotification extracts the notification's slot and raw
// account bytes, decoding the first element of the (data, encoding) pair
// Solana's JSON-RPC wire format reports for base64-encoded accounts.
func decodeAccountNotification(raw json.RawMessage) (slot uint64, data []byte, err error) {
	var v accountNotificationValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, nil, fmt.Errorf("mirror: parse account notification: %w", err)
	}
	if len(v.Value.Data) == 0 {
		return 0, nil, fmt.Errorf("mirror: account notification carried no data")
	}
	data, err = base64.StdEncoding.DecodeString(v.Value.Data[0])
	if err != nil {
		return 0, nil, fmt.Errorf("mirror: decode account data: %w", err)
	}
	return v.Context.Slot, data, nil
}
