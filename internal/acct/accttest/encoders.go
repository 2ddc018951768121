// Package accttest builds raw on-chain account bytes for tests and mock RPC
// fixtures, keeping the layout knowledge in one place (internal/acct's
// exported size constants) instead of duplicating it across every test
// package that needs well-formed mapping/product/price bytes.
package accttest

import (
	"encoding/binary"

	"github.com/pricepub/pricepub/internal/acct"
)

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func putU64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }
func putI64(b []byte, off int, v int64)  { binary.LittleEndian.PutUint64(b[off:], uint64(v)) }

func putHeader(b []byte, typ acct.AccountType) {
	putU32(b, 0, acct.Magic)
	putU32(b, 4, acct.Version)
	putU32(b, 8, uint32(typ))
	putU32(b, 12, uint32(len(b)))
}

// EncodeMapping builds raw bytes for a mapping account.
func EncodeMapping(products []acct.Pubkey, next acct.Pubkey) []byte {
	size := acct.MappingFixedSize + len(products)*32
	b := make([]byte, size)
	putHeader(b, acct.AccountTypeMapping)
	putU32(b, 16, uint32(len(products)))
	copy(b[24:56], next[:])
	off := acct.MappingFixedSize
	for _, p := range products {
		copy(b[off:off+32], p[:])
		off += 32
	}
	return b
}

// EncodeProduct builds raw bytes for a product account.
func EncodeProduct(firstPrice acct.Pubkey, attrs map[string]string) []byte {
	var attrBytes []byte
	for k, v := range attrs {
		attrBytes = append(attrBytes, byte(len(k)))
		attrBytes = append(attrBytes, []byte(k)...)
		attrBytes = append(attrBytes, byte(len(v)))
		attrBytes = append(attrBytes, []byte(v)...)
	}
	b := make([]byte, acct.ProductFixedSize+len(attrBytes))
	putHeader(b, acct.AccountTypeProduct)
	copy(b[16:48], firstPrice[:])
	copy(b[acct.ProductFixedSize:], attrBytes)
	return b
}

// EncodePrice builds raw bytes for a price account.
func EncodePrice(priceType acct.PriceType, exponent int32, agg acct.Quote, twap, twac int64,
	prevSlot uint64, prevPrice int64, prevConf uint64, validSlot uint64,
	next acct.Pubkey, comps []acct.Component) []byte {

	size := acct.PriceFixedSize + len(comps)*acct.ComponentSize
	b := make([]byte, size)
	putHeader(b, acct.AccountTypePrice)
	putU32(b, 16, uint32(priceType))
	putU32(b, 20, uint32(exponent))
	putU32(b, 24, uint32(len(comps)))

	off := 32
	encodeQuoteInto(b[off:off+acct.QuoteSize], agg)
	off += acct.QuoteSize
	putI64(b, off, twap)
	off += 8
	putI64(b, off, twac)
	off += 8
	putU64(b, off, prevSlot)
	off += 8
	putI64(b, off, prevPrice)
	off += 8
	putU64(b, off, prevConf)
	off += 8
	putU64(b, off, validSlot)
	off += 8
	copy(b[off:off+32], next[:])
	off += 32

	for _, c := range comps {
		copy(b[off:off+32], c.Pub[:])
		encodeQuoteInto(b[off+32:off+acct.ComponentSize], c.Quote)
		off += acct.ComponentSize
	}
	return b
}

func encodeQuoteInto(b []byte, q acct.Quote) {
	putI64(b, 0, q.Price)
	putU64(b, 8, q.Conf)
	putU32(b, 16, uint32(q.Status))
	putU64(b, 24, q.PubSlot)
}
