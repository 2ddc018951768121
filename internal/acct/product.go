package acct

import "fmt"

const ProductFixedSize = HeaderSize + 32

// Product mirrors an on-chain product account: a magic/version header, the
// address of the first price account in its chain, and a flat attribute
// dictionary. Attributes are encoded as a sequence of pascal-strings:
// (len byte, key bytes, len byte, value bytes), repeated to the end of
// the account payload.
type Product struct {
	Header     header
	FirstPrice Pubkey
	Attrs      map[string]string
}

// DecodeProduct parses raw account bytes into a Product. Rejects on magic/
// version mismatch, short read, or a missing required "symbol" attribute.
func DecodeProduct(data []byte) (*Product, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Type != AccountTypeProduct {
		return nil, fmt.Errorf("acct: expected product account, got type %d", h.Type)
	}
	if len(data) < ProductFixedSize {
		return nil, fmt.Errorf("acct: short read decoding product fixed fields: %d bytes", len(data))
	}
	firstPrice, err := PubkeyFromBytes(data[16:48])
	if err != nil {
		return nil, err
	}

	attrs, err := decodeAttrDict(data[ProductFixedSize:])
	if err != nil {
		return nil, err
	}
	if _, ok := attrs["symbol"]; !ok {
		return nil, fmt.Errorf("acct: product account missing required %q attribute", "symbol")
	}

	return &Product{Header: h, FirstPrice: firstPrice, Attrs: attrs}, nil
}

// HasFirstPrice reports whether this product has at least one price
// account.
func (p *Product) HasFirstPrice() bool {
	return p.FirstPrice != ZeroPubkey
}

// Symbol is a convenience accessor for the required "symbol" attribute.
func (p *Product) Symbol() string {
	return p.Attrs["symbol"]
}

func decodeAttrDict(data []byte) (map[string]string, error) {
	attrs := make(map[string]string)
	off := 0
	for off < len(data) {
		keyLen := int(data[off])
		off++
		if keyLen == 0 {
			break // padding / end of populated attrs
		}
		if off+keyLen > len(data) {
			return nil, fmt.Errorf("acct: short read decoding attribute key at offset %d", off)
		}
		key := string(data[off : off+keyLen])
		off += keyLen

		if off >= len(data) {
			return nil, fmt.Errorf("acct: short read decoding attribute value length for key %q", key)
		}
		valLen := int(data[off])
		off++
		if off+valLen > len(data) {
			return nil, fmt.Errorf("acct: short read decoding attribute value for key %q", key)
		}
		attrs[key] = string(data[off : off+valLen])
		off += valLen
	}
	return attrs, nil
}
