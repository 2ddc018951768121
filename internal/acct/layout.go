package acct

// Magic numbers, version and fixed-size table bounds for the three mirrored
// account kinds: mapping, product and price. Values match the deployed
// on-chain program's field widths; this repo does not invent new constants
// for an existing on-chain format.
const (
	// Magic is the 4-byte magic number every mirrored account must match.
	Magic uint32 = 0xa1b2c3d4
	// Version is the expected account-layout version (PC_VERSION).
	Version uint32 = 2

	// MapTableSize is the maximum number of product addresses a single
	// mapping account can hold (PC_MAP_TABLE_SIZE).
	MapTableSize = 640
	// NumComp is the maximum number of publisher components a price
	// account can hold (N_COMP).
	NumComp = 32
	// ProductAttrSize is the byte length of a product account's flat
	// attribute dictionary blob.
	ProductAttrSize = 464
)

// AccountType discriminates the three account kinds by their header.
type AccountType uint32

const (
	AccountTypeUnknown AccountType = 0
	AccountTypeMapping AccountType = 1
	AccountTypeProduct AccountType = 2
	AccountTypePrice   AccountType = 3
)

// PriceType discriminates the pricing model a price account implements.
type PriceType uint32

const (
	PriceTypeUnknown PriceType = 0
	PriceTypePrice   PriceType = 1
)

// PriceStatus is the on-chain trading status of an aggregate or component
// price.
type PriceStatus uint32

const (
	PriceStatusUnknown PriceStatus = 0
	PriceStatusTrading PriceStatus = 1
	PriceStatusHalted  PriceStatus = 2
	PriceStatusAuction PriceStatus = 3
)

func (s PriceStatus) String() string {
	switch s {
	case PriceStatusTrading:
		return "trading"
	case PriceStatusHalted:
		return "halted"
	case PriceStatusAuction:
		return "auction"
	default:
		return "unknown"
	}
}

// ParsePriceStatus parses the wire-form status name back into PriceStatus,
// the inverse of String, used by the publish path when a local publisher
// reports a string status.
func ParsePriceStatus(s string) PriceStatus {
	switch s {
	case "trading":
		return PriceStatusTrading
	case "halted":
		return PriceStatusHalted
	case "auction":
		return PriceStatusAuction
	default:
		return PriceStatusUnknown
	}
}
