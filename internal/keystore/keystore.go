// Package keystore loads Ed25519 key pairs from the on-disk key-store
// directory layout: a fixed set of well-known files (publish, mapping,
// program, params) plus per-account files indexed by base58 pubkey, each
// holding a raw JSON byte array of the 64-byte (seed||pubkey) key material.
package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pricepub/pricepub/internal/acct"
)

const (
	publishKeyFile = "publish_key_pair.json"
	mappingKeyFile = "mapping_key_pair.json"
	programKeyFile = "program_key.json"
	paramsKeyFile  = "params_key.json"
)

// Store resolves key-pair files within a single directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir; the directory is not required to
// exist until a Load call actually needs a file from it.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// PublishKeypair loads publish_key_pair.json, the key this daemon signs
// upd_price transactions with.
func (s *Store) PublishKeypair() (*acct.Keypair, error) {
	return s.loadKeypair(publishKeyFile)
}

// MappingKeypair loads mapping_key_pair.json, used only by the admin
// one-shot tooling that creates and extends mapping accounts.
func (s *Store) MappingKeypair() (*acct.Keypair, error) {
	return s.loadKeypair(mappingKeyFile)
}

// ProgramKeypair loads program_key.json, the oracle program's own account
// key pair (needed only when deploying or upgrading the program).
func (s *Store) ProgramKeypair() (*acct.Keypair, error) {
	return s.loadKeypair(programKeyFile)
}

// ParamsKeypair loads params_key.json, holding the program's immutable
// parameters account key pair.
func (s *Store) ParamsKeypair() (*acct.Keypair, error) {
	return s.loadKeypair(paramsKeyFile)
}

// AccountKeypair loads the key pair for an arbitrary account, stored in a
// file named after the account's own base58 address.
func (s *Store) AccountKeypair(pub acct.Pubkey) (*acct.Keypair, error) {
	return s.loadKeypair(pub.String() + ".json")
}

func (s *Store) loadKeypair(name string) (*acct.Keypair, error) {
	path := filepath.Join(s.dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}

	// The file is a JSON array of small integers ([12, 34, ...]), the
	// standard Solana CLI key-pair format, not a base64 string, so it
	// must be decoded element by element rather than via []byte's
	// built-in base64 unmarshaling.
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", path, err)
	}
	keyBytes := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 0xff {
			return nil, fmt.Errorf("keystore: %s: byte %d out of range: %d", path, i, v)
		}
		keyBytes[i] = byte(v)
	}

	kp, err := acct.NewKeypairFromSeed64(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("keystore: %s: %w", path, err)
	}
	return kp, nil
}
