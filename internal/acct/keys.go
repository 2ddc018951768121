// Package acct defines the key material and on-chain account layouts that
// make up this daemon's data model: mapping, product and price accounts
// chained by address, plus the Ed25519 key/signature types every other
// package builds on.
package acct

import (
	"crypto/ed25519"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/pricepub/pricepub/internal/codec"
)

// Pubkey is a 32-byte Ed25519 public key / on-chain account address.
// It is an alias of solana-go's PublicKey so base58 rendering and equality follow
// the existing convention for Solana address values.
type Pubkey = solana.PublicKey

// ZeroPubkey is the all-zero address used as a "no next account" / "no
// mapping configured" sentinel throughout the chain graph.
var ZeroPubkey Pubkey

// PubkeyFromBytes builds a Pubkey from a 32-byte slice.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	if len(b) != solana.PublicKeyLength {
		return ZeroPubkey, fmt.Errorf("acct: pubkey must be %d bytes, got %d", solana.PublicKeyLength, len(b))
	}
	return solana.PublicKeyFromBytes(b), nil
}

// PubkeyFromBase58 decodes a base58-rendered pubkey.
func PubkeyFromBase58(s string) (Pubkey, error) {
	raw, err := codec.Base58Decode(s)
	if err != nil {
		return ZeroPubkey, err
	}
	return PubkeyFromBytes(raw)
}

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

// String renders the signature as base58 text.
func (s Signature) String() string {
	return codec.Base58Encode(s[:])
}

// SignatureFromBase58 decodes a base58-rendered signature.
func SignatureFromBase58(s string) (Signature, error) {
	var out Signature
	raw, err := codec.Base58Decode(s)
	if err != nil {
		return out, err
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("acct: signature must be %d bytes, got %d", len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// Keypair is the 64-byte (32 private seed + 32 public) Ed25519 key material
// loaded from a key-store file. The decompressed ed25519.PrivateKey is
// cached at load time so the signing path never re-parses it per message.
type Keypair struct {
	Priv ed25519.PrivateKey
	Pub  Pubkey
}

// NewKeypairFromSeed64 builds a Keypair from the raw 64-byte
// (seed||pubkey) layout used by the standard Solana CLI key-pair file.
func NewKeypairFromSeed64(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("acct: keypair must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(append([]byte(nil), raw...))
	pub, err := PubkeyFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Keypair{Priv: priv, Pub: pub}, nil
}

// Sign signs msg and returns the raw 64-byte signature.
func (k *Keypair) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.Priv, msg))
	return sig
}
