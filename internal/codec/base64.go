package codec

import "encoding/base64"

// Base64Encode renders raw bytes (an account payload or transaction) as
// standard base64 text for the RPC JSON boundary.
func Base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Base64Decode parses base64 text back into raw bytes.
func Base64Decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
