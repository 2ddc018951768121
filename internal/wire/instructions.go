package wire

import (
	"bytes"
	"encoding/binary"

	"github.com/pricepub/pricepub/internal/acct"
)

// Cmd enumerates every program-specific instruction the on-chain oracle
// program accepts. Every command is a little-endian
// (version uint32, cmd int32, payload) tuple; version is always
// acct.Version (PC_VERSION).
type Cmd int32

const (
	CmdInitMapping Cmd = iota + 1
	CmdAddMapping
	CmdAddProduct
	CmdUpdProduct
	CmdAddPrice
	CmdInitPrice
	CmdAddPublisher
	CmdDelPublisher
	CmdUpdPrice
	CmdTransfer
	CmdInitTest
	CmdUpdTest
	CmdSetMinPub
)

func header(cmd Cmd, payload []byte) []byte {
	var buf bytes.Buffer
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], acct.Version)
	buf.Write(tmp[:])
	binary.LittleEndian.PutUint32(tmp[:], uint32(cmd))
	buf.Write(tmp[:])
	buf.Write(payload)
	return buf.Bytes()
}

func putU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func putI32(buf *bytes.Buffer, v int32) { putU32(buf, uint32(v)) }

func putU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func putI64(buf *bytes.Buffer, v int64) { putU64(buf, uint64(v)) }

// EncodeInitMapping encodes the init_mapping instruction payload: no
// fields beyond the command header, it simply marks a freshly
// create_account'd account as the head mapping account.
func EncodeInitMapping() []byte {
	return header(CmdInitMapping, nil)
}

// EncodeAddMapping encodes add_mapping: no payload fields, the accounts
// list carries the current tail mapping and the new mapping account.
func EncodeAddMapping() []byte {
	return header(CmdAddMapping, nil)
}

// EncodeAddProduct encodes add_product: no payload fields, the accounts
// list carries the mapping and the new product account.
func EncodeAddProduct() []byte {
	return header(CmdAddProduct, nil)
}

// EncodeUpdProduct encodes upd_product: a flat attribute dictionary
// replacing the product account's current attributes, same pascal-string
// encoding internal/acct uses to decode it.
func EncodeUpdProduct(attrs map[string]string) []byte {
	var p bytes.Buffer
	for k, v := range attrs {
		p.WriteByte(byte(len(k)))
		p.WriteString(k)
		p.WriteByte(byte(len(v)))
		p.WriteString(v)
	}
	return header(CmdUpdProduct, p.Bytes())
}

// EncodeAddPrice encodes add_price: the price exponent and price type for
// the new price account being linked into the product's price chain.
func EncodeAddPrice(exponent int32, priceType acct.PriceType) []byte {
	var p bytes.Buffer
	putI32(&p, exponent)
	putU32(&p, uint32(priceType))
	return header(CmdAddPrice, p.Bytes())
}

// EncodeInitPrice encodes init_price: re-initializes exponent/price-type on
// an existing price account.
func EncodeInitPrice(exponent int32, priceType acct.PriceType) []byte {
	var p bytes.Buffer
	putI32(&p, exponent)
	putU32(&p, uint32(priceType))
	return header(CmdInitPrice, p.Bytes())
}

// EncodeAddPublisher encodes add_publisher: grants pub permission to
// contribute a component quote to the target price account.
func EncodeAddPublisher(pub acct.Pubkey) []byte {
	var p bytes.Buffer
	p.Write(pub[:])
	return header(CmdAddPublisher, p.Bytes())
}

// EncodeDelPublisher encodes del_publisher: revokes pub's permission.
func EncodeDelPublisher(pub acct.Pubkey) []byte {
	var p bytes.Buffer
	p.Write(pub[:])
	return header(CmdDelPublisher, p.Bytes())
}

// EncodeUpdPrice encodes upd_price: the publisher's quote for the current
// slot (status, price, confidence interval, and the slot it was observed
// at).
func EncodeUpdPrice(status acct.PriceStatus, price int64, conf uint64, pubSlot uint64) []byte {
	var p bytes.Buffer
	putU32(&p, uint32(status))
	putU32(&p, 0) // unused/padding, keeps the payload 8-byte aligned
	putI64(&p, price)
	putU64(&p, conf)
	putU64(&p, pubSlot)
	return header(CmdUpdPrice, p.Bytes())
}

// EncodeTransfer encodes transfer: move lamports between two accounts the
// publisher controls.
func EncodeTransfer(lamports uint64) []byte {
	var p bytes.Buffer
	putU64(&p, lamports)
	return header(CmdTransfer, p.Bytes())
}

// EncodeInitTest encodes init_test: seeds a throwaway test account used by
// the admin test harness.
func EncodeInitTest() []byte {
	return header(CmdInitTest, nil)
}

// EncodeUpdTest encodes upd_test: writes bytes into a throwaway test
// account.
func EncodeUpdTest(data []byte) []byte {
	return header(CmdUpdTest, data)
}

// EncodeSetMinPub encodes set_min_pub: sets the minimum publisher quorum
// the on-chain aggregation requires for a price account.
func EncodeSetMinPub(minPub uint8) []byte {
	var p bytes.Buffer
	p.WriteByte(minPub)
	return header(CmdSetMinPub, p.Bytes())
}
