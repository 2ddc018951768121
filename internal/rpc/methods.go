package rpc

import "github.com/pricepub/pricepub/internal/acct"

// Commitment is the confirmation level a signature_subscribe or
// get_account_info call asks the node to wait for before answering.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

type encodingConfig struct {
	Encoding   string     `json:"encoding,omitempty"`
	Commitment Commitment `json:"commitment,omitempty"`
}

// GetMinimumBalanceForRentExemptionParams builds params for the
// rent-exemption query an account of dataLen bytes requires.
func GetMinimumBalanceForRentExemptionParams(dataLen int) []any {
	return []any{dataLen}
}

// GetRecentBlockhashParams builds params for fetching the current
// blockhash transactions must reference.
func GetRecentBlockhashParams() []any {
	return []any{}
}

// GetAccountInfoParams builds params for a one-shot account fetch, base64
// encoded, at the given commitment.
func GetAccountInfoParams(pub acct.Pubkey, commitment Commitment) []any {
	return []any{pub.String(), encodingConfig{Encoding: "base64", Commitment: commitment}}
}

// GetBlockParams builds params for fetching block data at slot.
func GetBlockParams(slot uint64) []any {
	return []any{slot}
}

// SendTransactionParams builds params for submitting a base64-encoded
// signed transaction.
func SendTransactionParams(txBase64 string) []any {
	return []any{txBase64, map[string]string{"encoding": "base64"}}
}

// SlotSubscribeParams builds params for the slot-change subscription the
// scheduler and blockhash refresh both depend on.
func SlotSubscribeParams() []any {
	return []any{}
}

// ProgramSubscribeParams builds params for subscribing to every account
// owned by programID. Nothing in the daemon calls it; the root mapping
// account comes from configuration.
func ProgramSubscribeParams(programID acct.Pubkey) []any {
	return []any{programID.String(), encodingConfig{Encoding: "base64"}}
}

// AccountSubscribeParams builds params for subscribing to updates on a
// single account (a mapping, product or price account already discovered).
func AccountSubscribeParams(pub acct.Pubkey, commitment Commitment) []any {
	return []any{pub.String(), encodingConfig{Encoding: "base64", Commitment: commitment}}
}

// SignatureSubscribeParams builds params for watching a submitted
// transaction's signature reach the requested commitment.
func SignatureSubscribeParams(sig acct.Signature, commitment Commitment) []any {
	return []any{sig.String(), map[string]Commitment{"commitment": commitment}}
}
