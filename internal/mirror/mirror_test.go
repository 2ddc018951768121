package mirror_test

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pricepub/pricepub/internal/acct"
)

func pk(b byte) acct.Pubkey {
	var raw [32]byte
	raw[0] = b
	p, err := acct.PubkeyFromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return p
}

// accountNotification wraps raw on-chain account bytes the way an
// account_subscribe notification's "params.result" field does.
func accountNotification(slot uint64, data []byte) json.RawMessage {
	payload := fmt.Sprintf(`{"context":{"slot":%d},"value":{"data":["%s","base64"],"lamports":1,"owner":""}}`,
		slot, base64.StdEncoding.EncodeToString(data))
	return json.RawMessage(payload)
}
