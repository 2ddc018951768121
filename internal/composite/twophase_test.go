package composite_test

import (
	"context"
	"testing"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/composite"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/rpc/rpctest"
	"github.com/pricepub/pricepub/internal/wire"
)

func testKeypair(t *testing.T, seed byte) *acct.Keypair {
	t.Helper()
	raw := make([]byte, 64)
	raw[0] = seed
	// bytes 32..64 are treated as the public key half of the seed format;
	// fill with a distinct pattern so different seeds produce different
	// payer identities in compiled messages.
	for i := 32; i < 64; i++ {
		raw[i] = seed
	}
	kp, err := acct.NewKeypairFromSeed64(raw)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestTwoPhaseHappyPath(t *testing.T) {
	payer := testKeypair(t, 1)
	target := testKeypair(t, 2)
	m := rpctest.NewMock()

	blockhash := [32]byte{0x11}
	createInstr := func() ([]wire.Instruction, error) {
		return []wire.Instruction{{
			ProgramID: acct.ZeroPubkey,
			Accounts: []wire.AccountMeta{
				{Pubkey: payer.Pub, IsSigner: true, IsWritable: true},
				{Pubkey: target.Pub, IsSigner: true, IsWritable: true},
			},
			Data: []byte{0x01},
		}}, nil
	}
	followUpInstr := func() ([]wire.Instruction, error) {
		return []wire.Instruction{{
			ProgramID: acct.ZeroPubkey,
			Accounts: []wire.AccountMeta{
				{Pubkey: payer.Pub, IsSigner: true, IsWritable: true},
				{Pubkey: target.Pub, IsSigner: true, IsWritable: true},
			},
			Data: wire.EncodeInitMapping(),
		}}, nil
	}

	tp := composite.New(m, payer, []*acct.Keypair{target}, func() [32]byte { return blockhash },
		rpc.CommitmentFinalized, createInstr, followUpInstr)

	var done bool
	tp.OnDone(func(*composite.TwoPhase) { done = true })
	tp.OnFail(func(_ *composite.TwoPhase, err error) { t.Fatalf("unexpected failure: %v", err) })

	sig1 := acct.Signature{0xaa}
	m.SetResponse(rpc.MethodSendTransaction, sig1.String())
	ctx := context.Background()
	if err := tp.Start(ctx); err != nil {
		t.Fatal(err)
	}
	firstSub := tp.SignatureSubscriptionID()
	if firstSub == 0 {
		t.Fatal("expected a signature subscription id after Start")
	}

	sig2 := acct.Signature{0xbb}
	m.SetResponse(rpc.MethodSendTransaction, sig2.String())
	if err := tp.HandleSignatureNotification(ctx, nil); err != nil {
		t.Fatal(err)
	}
	secondSub := tp.SignatureSubscriptionID()
	if secondSub == firstSub {
		t.Fatal("expected a new subscription id for the follow-up phase")
	}
	if done {
		t.Fatal("should not be done until the follow-up signature confirms")
	}

	if err := tp.HandleSignatureNotification(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if !done {
		t.Fatal("expected onDone to fire after follow-up confirmation")
	}
}
