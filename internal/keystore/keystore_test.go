package keystore_test

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/keystore"
)

func writeKeypairFile(t *testing.T, dir, name string, priv ed25519.PrivateKey) {
	t.Helper()
	ints := make([]int, len(priv))
	for i, b := range priv {
		ints[i] = int(b)
	}
	body, err := json.Marshal(ints)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), body, 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestPublishKeypairRoundTripsRawBytes(t *testing.T) {
	dir := t.TempDir()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	writeKeypairFile(t, dir, "publish_key_pair.json", priv)

	store := keystore.New(dir)
	kp, err := store.PublishKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if string(kp.Priv) != string(priv) {
		t.Fatal("expected loaded private key to match the written bytes")
	}
	wantPub, err := acct.PubkeyFromBytes(pub)
	if err != nil {
		t.Fatal(err)
	}
	if !kp.Pub.Equals(wantPub) {
		t.Fatal("expected loaded pubkey to match the generated public key")
	}
}

func TestAccountKeypairIndexedByAddress(t *testing.T) {
	dir := t.TempDir()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	expected, err := acct.NewKeypairFromSeed64(priv)
	if err != nil {
		t.Fatal(err)
	}
	store := keystore.New(dir)

	if _, err := store.AccountKeypair(expected.Pub); err == nil {
		t.Fatal("expected missing account key file to error")
	}

	// Write the file under the address it resolves to, mirroring how the
	// daemon indexes per-account key files by the account's own base58
	// address.
	writeKeypairFile(t, dir, expected.Pub.String()+".json", priv)

	kp, err := store.AccountKeypair(expected.Pub)
	if err != nil {
		t.Fatal(err)
	}
	if kp.Pub.String() != expected.Pub.String() {
		t.Fatal("expected loaded key's pubkey to match the file name's address")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	store := keystore.New(t.TempDir())
	if _, err := store.MappingKeypair(); err == nil {
		t.Fatal("expected missing mapping key file to error")
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "program_key.json"), []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	store := keystore.New(dir)
	if _, err := store.ProgramKeypair(); err == nil {
		t.Fatal("expected malformed key file to error")
	}
}
