// Package codec implements the wire-boundary encodings this daemon needs:
// base58 for keys and signatures, base64 for binary RPC payloads, and the
// chain's shortvec (compact-u16) length-prefix varint.
package codec

import "github.com/mr-tron/base58"

// Base58Encode renders raw bytes (a pubkey or signature) as base58 text, the
// only key/signature text form that ever crosses the RPC boundary.
func Base58Encode(b []byte) string {
	return base58.Encode(b)
}

// Base58Decode parses base58 text back into raw bytes.
func Base58Decode(s string) ([]byte, error) {
	return base58.Decode(s)
}
