package acct

import (
	"encoding/binary"
	"fmt"
)

// Quote is an (aggregate or per-publisher component) price tuple: an
// integer price, a confidence interval, a trading status, and the slot the
// quote was published at.
type Quote struct {
	Price   int64
	Conf    uint64
	Status  PriceStatus
	PubSlot uint64
}

const QuoteSize = 8 + 8 + 4 + 4 + 8 // price, conf, status, pad, pub_slot

func decodeQuote(data []byte) Quote {
	return Quote{
		Price:   int64(binary.LittleEndian.Uint64(data[0:8])),
		Conf:    binary.LittleEndian.Uint64(data[8:16]),
		Status:  PriceStatus(binary.LittleEndian.Uint32(data[16:20])),
		PubSlot: binary.LittleEndian.Uint64(data[24:32]),
	}
}

// Component is a single publisher's contribution to a price account.
type Component struct {
	Pub   Pubkey
	Quote Quote
}

const ComponentSize = 32 + QuoteSize

const PriceFixedSize = HeaderSize + // magic/version/type/size
	4 + 4 + 4 + 4 + // price_type, exponent, num, unused
	QuoteSize + // aggregate
	8 + 8 + // twap, twac
	8 + 8 + 8 + // prev_slot, prev_price, prev_conf
	8 + // valid_slot
	32 // next

// Price mirrors an on-chain price account: the aggregate quote, rolling
// TWAP/TWAC, previous-aggregate bookkeeping, and up to NumComp publisher
// components.
type Price struct {
	Header     header
	PriceType  PriceType
	Exponent   int32
	Aggregate  Quote
	Twap       int64
	Twac       int64
	PrevSlot   uint64
	PrevPrice  int64
	PrevConf   uint64
	ValidSlot  uint64
	Next       Pubkey
	Components []Component
}

// DecodePrice parses raw account bytes into a Price. Rejects on magic/
// version mismatch, short read, or a declared component count exceeding
// NumComp.
func DecodePrice(data []byte) (*Price, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Type != AccountTypePrice {
		return nil, fmt.Errorf("acct: expected price account, got type %d", h.Type)
	}
	if len(data) < PriceFixedSize {
		return nil, fmt.Errorf("acct: short read decoding price fixed fields: %d bytes", len(data))
	}

	priceType := PriceType(binary.LittleEndian.Uint32(data[16:20]))
	exponent := int32(binary.LittleEndian.Uint32(data[20:24]))
	num := binary.LittleEndian.Uint32(data[24:28])
	if num > NumComp {
		return nil, fmt.Errorf("acct: price num %d exceeds N_COMP %d", num, NumComp)
	}

	off := 32
	aggregate := decodeQuote(data[off : off+QuoteSize])
	off += QuoteSize

	twap := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	twac := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8

	prevSlot := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	prevPrice := int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	prevConf := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8

	validSlot := binary.LittleEndian.Uint64(data[off : off+8])
	off += 8

	next, err := PubkeyFromBytes(data[off : off+32])
	if err != nil {
		return nil, err
	}
	off += 32

	need := off + int(num)*ComponentSize
	if len(data) < need {
		return nil, fmt.Errorf("acct: short read decoding price components: need %d have %d", need, len(data))
	}
	comps := make([]Component, 0, num)
	for i := uint32(0); i < num; i++ {
		pub, err := PubkeyFromBytes(data[off : off+32])
		if err != nil {
			return nil, err
		}
		q := decodeQuote(data[off+32 : off+ComponentSize])
		comps = append(comps, Component{Pub: pub, Quote: q})
		off += ComponentSize
	}

	return &Price{
		Header:     h,
		PriceType:  priceType,
		Exponent:   exponent,
		Aggregate:  aggregate,
		Twap:       twap,
		Twac:       twac,
		PrevSlot:   prevSlot,
		PrevPrice:  prevPrice,
		PrevConf:   prevConf,
		ValidSlot:  validSlot,
		Next:       next,
		Components: comps,
	}, nil
}

// HasNext reports whether this price account chains to another price
// account for the same product.
func (p *Price) HasNext() bool {
	return p.Next != ZeroPubkey
}

// IndexOf returns the index of pub within the component array, or -1 if
// pub does not currently hold a component slot.
func (p *Price) IndexOf(pub Pubkey) int {
	for i, c := range p.Components {
		if c.Pub == pub {
			return i
		}
	}
	return -1
}
