// Package wire is the binary transaction builder and Ed25519 signing path.
// It must be bit-exact: the on-chain program accepts only this layout, so
// every length prefix and field offset here matches the deployed wire
// format exactly.
package wire

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/codec"
)

// AccountMeta describes one account referenced by an instruction: its
// address and whether the instruction requires it to sign and/or be
// writable.
type AccountMeta struct {
	Pubkey     acct.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one program call: a target program id, the accounts it
// touches, and an opaque data payload (the little-endian
// (version, cmd, payload) tuple instructions.go encodes).
type Instruction struct {
	ProgramID acct.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// compiledAccount is the merged view of an account across every
// instruction in a transaction, used to compute the account ordering and
// message header fields.
type compiledAccount struct {
	pubkey     acct.Pubkey
	isSigner   bool
	isWritable bool
}

// compileAccounts merges per-instruction account metadata across all
// instructions (keeping the payer first and always a signer+writable) and
// returns them ordered: signer+writable, signer+readonly, writable,
// readonly, the ordering the message header's (num_signers,
// num_readonly_signed, num_readonly_unsigned) triple encodes.
func compileAccounts(payer acct.Pubkey, instrs []Instruction) []compiledAccount {
	merged := map[acct.Pubkey]*compiledAccount{
		payer: {pubkey: payer, isSigner: true, isWritable: true},
	}
	var order []acct.Pubkey
	order = append(order, payer)

	touch := func(pk acct.Pubkey, signer, writable bool) {
		c, ok := merged[pk]
		if !ok {
			c = &compiledAccount{pubkey: pk}
			merged[pk] = c
			order = append(order, pk)
		}
		c.isSigner = c.isSigner || signer
		c.isWritable = c.isWritable || writable
	}

	for _, in := range instrs {
		for _, am := range in.Accounts {
			touch(am.Pubkey, am.IsSigner, am.IsWritable)
		}
		touch(in.ProgramID, false, false)
	}

	accounts := make([]compiledAccount, 0, len(order))
	for _, pk := range order {
		accounts = append(accounts, *merged[pk])
	}

	// Stable partition into the four required buckets, preserving
	// first-seen order within each bucket (payer lands first because it
	// was inserted first and is signer+writable).
	sort.SliceStable(accounts, func(i, j int) bool {
		return bucketOf(accounts[i]) < bucketOf(accounts[j])
	})
	return accounts
}

func bucketOf(a compiledAccount) int {
	switch {
	case a.isSigner && a.isWritable:
		return 0
	case a.isSigner && !a.isWritable:
		return 1
	case !a.isSigner && a.isWritable:
		return 2
	default:
		return 3
	}
}

// Message is the signable portion of a transaction: header, account table,
// recent blockhash and compiled instructions.
type Message struct {
	NumRequiredSignatures       byte
	NumReadonlySignedAccounts   byte
	NumReadonlyUnsignedAccounts byte
	AccountKeys                 []acct.Pubkey
	RecentBlockhash             [32]byte
	Instructions                []compiledInstruction
}

type compiledInstruction struct {
	ProgramIdx byte
	Accounts   []byte
	Data       []byte
}

// CompileMessage builds the Message for instrs, paid for and signed first
// by payer, against recentBlockhash.
func CompileMessage(payer acct.Pubkey, recentBlockhash [32]byte, instrs []Instruction) (*Message, error) {
	if len(instrs) == 0 {
		return nil, fmt.Errorf("wire: no instructions to compile")
	}
	accounts := compileAccounts(payer, instrs)

	index := make(map[acct.Pubkey]byte, len(accounts))
	keys := make([]acct.Pubkey, len(accounts))
	var numSigners, numReadonlySigned, numReadonlyUnsigned byte
	for i, a := range accounts {
		if i > 255 {
			return nil, fmt.Errorf("wire: too many accounts to index in a byte: %d", len(accounts))
		}
		index[a.pubkey] = byte(i)
		keys[i] = a.pubkey
		if a.isSigner {
			numSigners++
			if !a.isWritable {
				numReadonlySigned++
			}
		} else if !a.isWritable {
			numReadonlyUnsigned++
		}
	}

	compiled := make([]compiledInstruction, 0, len(instrs))
	for _, in := range instrs {
		progIdx, ok := index[in.ProgramID]
		if !ok {
			return nil, fmt.Errorf("wire: program id %s not present in compiled accounts", in.ProgramID)
		}
		accIdxs := make([]byte, 0, len(in.Accounts))
		for _, am := range in.Accounts {
			idx, ok := index[am.Pubkey]
			if !ok {
				return nil, fmt.Errorf("wire: account %s not present in compiled accounts", am.Pubkey)
			}
			accIdxs = append(accIdxs, idx)
		}
		compiled = append(compiled, compiledInstruction{
			ProgramIdx: progIdx,
			Accounts:   accIdxs,
			Data:       in.Data,
		})
	}

	return &Message{
		NumRequiredSignatures:       numSigners,
		NumReadonlySignedAccounts:   numReadonlySigned,
		NumReadonlyUnsignedAccounts: numReadonlyUnsigned,
		AccountKeys:                 keys,
		RecentBlockhash:             recentBlockhash,
		Instructions:                compiled,
	}, nil
}

// Marshal serializes the message starting at the header, exactly the bytes
// the chain's program validates and the bytes Ed25519 signing covers.
func (m *Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(m.NumRequiredSignatures)
	buf.WriteByte(m.NumReadonlySignedAccounts)
	buf.WriteByte(m.NumReadonlyUnsignedAccounts)

	accLen, err := codec.EncodeShortVec(len(m.AccountKeys))
	if err != nil {
		return nil, err
	}
	buf.Write(accLen)
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}

	buf.Write(m.RecentBlockhash[:])

	instrLen, err := codec.EncodeShortVec(len(m.Instructions))
	if err != nil {
		return nil, err
	}
	buf.Write(instrLen)
	for _, in := range m.Instructions {
		buf.WriteByte(in.ProgramIdx)

		idxLen, err := codec.EncodeShortVec(len(in.Accounts))
		if err != nil {
			return nil, err
		}
		buf.Write(idxLen)
		buf.Write(in.Accounts)

		dataLen, err := codec.EncodeShortVec(len(in.Data))
		if err != nil {
			return nil, err
		}
		buf.Write(dataLen)
		buf.Write(in.Data)
	}

	return buf.Bytes(), nil
}
