package wire

import (
	"bytes"
	"fmt"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/codec"
)

// Transaction is a length-prefixed signatures array followed by the signed
// message: a length-prefixed signatures array (slots reserved and later
// filled), then the message with its own length-prefixed instructions
// array.
type Transaction struct {
	Signatures []acct.Signature
	Message    *Message
}

// Build compiles instrs into an unsigned Transaction with reserved
// (zero) signature slots, one per required signer in the compiled message.
func Build(payer acct.Pubkey, recentBlockhash [32]byte, instrs []Instruction) (*Transaction, error) {
	msg, err := CompileMessage(payer, recentBlockhash, instrs)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]acct.Signature, msg.NumRequiredSignatures),
		Message:    msg,
	}, nil
}

// Sign signs tx's message with every keypair in signers whose public key
// occupies a reserved signature slot, writing the raw 64-byte signature
// into that slot. Returns perr-free error if a signer's key is not amongst
// the compiled message's signer accounts, or if the message cannot be
// serialized.
func Sign(tx *Transaction, signers []*acct.Keypair) error {
	msgBytes, err := tx.Message.Marshal()
	if err != nil {
		return err
	}
	for _, kp := range signers {
		slot := -1
		for i := 0; i < int(tx.Message.NumRequiredSignatures); i++ {
			if tx.Message.AccountKeys[i] == kp.Pub {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fmt.Errorf("wire: sign_failed: signer %s is not a required signer of this message", kp.Pub)
		}
		tx.Signatures[slot] = kp.Sign(msgBytes)
	}
	return nil
}

// Marshal serializes the full transaction: shortvec signature count, each
// 64-byte signature, then the message bytes.
func (tx *Transaction) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	sigLen, err := codec.EncodeShortVec(len(tx.Signatures))
	if err != nil {
		return nil, err
	}
	buf.Write(sigLen)
	for _, s := range tx.Signatures {
		buf.Write(s[:])
	}
	msgBytes, err := tx.Message.Marshal()
	if err != nil {
		return nil, err
	}
	buf.Write(msgBytes)
	return buf.Bytes(), nil
}

// Base64 renders the fully signed transaction for the send_transaction RPC
// params array. Binary payloads always travel as base64 in RPC params.
func (tx *Transaction) Base64() (string, error) {
	raw, err := tx.Marshal()
	if err != nil {
		return "", err
	}
	return codec.Base64Encode(raw), nil
}
