package acct

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the common (magic, version, type, size) account header
// every mirrored account leads with.
const HeaderSize = 16

// header is the parsed common leading fields of any mirrored account.
type header struct {
	Magic   uint32
	Version uint32
	Type    AccountType
	Size    uint32
}

func decodeHeader(data []byte) (header, error) {
	if len(data) < HeaderSize {
		return header{}, fmt.Errorf("acct: short read decoding header: %d bytes", len(data))
	}
	h := header{
		Magic:   binary.LittleEndian.Uint32(data[0:4]),
		Version: binary.LittleEndian.Uint32(data[4:8]),
		Type:    AccountType(binary.LittleEndian.Uint32(data[8:12])),
		Size:    binary.LittleEndian.Uint32(data[12:16]),
	}
	if h.Magic != Magic {
		return header{}, fmt.Errorf("acct: magic mismatch: got %#x want %#x", h.Magic, Magic)
	}
	if h.Version != Version {
		return header{}, fmt.Errorf("acct: version mismatch: got %d want %d", h.Version, Version)
	}
	return h, nil
}

// MappingFixedSize covers the header, num/unused and next-mapping fields
// that precede the product address table.
const MappingFixedSize = HeaderSize + 4 + 4 + 32

// Mapping mirrors an on-chain mapping account: a count, an ordered product
// address table up to MapTableSize, and an optional next mapping address
// (zero = terminal).
type Mapping struct {
	Header   header
	Num      uint32
	Next     Pubkey
	Products []Pubkey
}

// DecodeMapping parses raw account bytes into a Mapping. It rejects on
// short read, magic mismatch, version mismatch, or a declared count
// exceeding MapTableSize.
func DecodeMapping(data []byte) (*Mapping, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Type != AccountTypeMapping {
		return nil, fmt.Errorf("acct: expected mapping account, got type %d", h.Type)
	}
	if len(data) < MappingFixedSize {
		return nil, fmt.Errorf("acct: short read decoding mapping fixed fields: %d bytes", len(data))
	}
	num := binary.LittleEndian.Uint32(data[16:20])
	if num > MapTableSize {
		return nil, fmt.Errorf("acct: mapping num %d exceeds table size %d", num, MapTableSize)
	}
	next, err := PubkeyFromBytes(data[24:56])
	if err != nil {
		return nil, err
	}

	need := MappingFixedSize + int(num)*32
	if len(data) < need {
		return nil, fmt.Errorf("acct: short read decoding mapping product table: need %d have %d", need, len(data))
	}
	products := make([]Pubkey, 0, num)
	off := MappingFixedSize
	for i := uint32(0); i < num; i++ {
		pk, err := PubkeyFromBytes(data[off : off+32])
		if err != nil {
			return nil, err
		}
		products = append(products, pk)
		off += 32
	}

	return &Mapping{Header: h, Num: num, Next: next, Products: products}, nil
}

// HasNext reports whether the mapping chains to another mapping account.
func (m *Mapping) HasNext() bool {
	return m.Next != ZeroPubkey
}
