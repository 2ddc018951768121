package publish_test

import (
	"context"
	"testing"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/publish"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/rpc/rpctest"
)

func testKeypair(t *testing.T, seed byte) *acct.Keypair {
	t.Helper()
	raw := make([]byte, 64)
	raw[0] = seed
	for i := 32; i < 64; i++ {
		raw[i] = seed
	}
	kp, err := acct.NewKeypairFromSeed64(raw)
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func newTestRequest(t *testing.T, m *rpctest.Mock) *publish.Request {
	t.Helper()
	publisher := testKeypair(t, 7)
	price := testKeypair(t, 9).Pub
	blockhash := [32]byte{0x22}
	var slot uint64 = 100
	return publish.NewRequest(m, price, acct.ZeroPubkey, publisher,
		func() [32]byte { return blockhash }, func() uint64 { return slot },
		rpc.CommitmentConfirmed, &publish.Stats{})
}

func TestUpdateSendsImmediatelyWhenIdle(t *testing.T) {
	m := rpctest.NewMock()
	req := newTestRequest(t, m)

	sig := acct.Signature{0x01}
	m.SetResponse(rpc.MethodSendTransaction, sig.String())

	q := publish.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading}
	if err := req.Update(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	if req.SignatureSubscriptionID() == 0 {
		t.Fatal("expected a signature subscription id after sending")
	}
	if m.CallCount(rpc.MethodSendTransaction) != 1 {
		t.Fatalf("expected one send_transaction call, got %d", m.CallCount(rpc.MethodSendTransaction))
	}
}

func TestUpdateCoalescesWhileInFlight(t *testing.T) {
	m := rpctest.NewMock()
	req := newTestRequest(t, m)

	sig1 := acct.Signature{0x01}
	m.SetResponse(rpc.MethodSendTransaction, sig1.String())
	ctx := context.Background()

	first := publish.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading}
	if err := req.Update(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := publish.Quote{Price: 200, Conf: 2, Status: acct.PriceStatusTrading}
	third := publish.Quote{Price: 300, Conf: 3, Status: acct.PriceStatusTrading}
	if err := req.Update(ctx, second); err != nil {
		t.Fatal(err)
	}
	if err := req.Update(ctx, third); err != nil {
		t.Fatal(err)
	}
	if req.CoalesceCount() != 2 {
		t.Fatalf("expected 2 coalesced updates, got %d", req.CoalesceCount())
	}
	if m.CallCount(rpc.MethodSendTransaction) != 1 {
		t.Fatalf("coalesced updates must not send a transaction, got %d calls",
			m.CallCount(rpc.MethodSendTransaction))
	}

	sig2 := acct.Signature{0x02}
	m.SetResponse(rpc.MethodSendTransaction, sig2.String())
	if err := req.HandleSignatureNotification(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if m.CallCount(rpc.MethodSendTransaction) != 2 {
		t.Fatalf("expected the coalesced (latest) quote to send once the first confirmed, got %d calls",
			m.CallCount(rpc.MethodSendTransaction))
	}
	if req.SignatureSubscriptionID() == 0 {
		t.Fatal("expected a new signature subscription id for the coalesced send")
	}
}

func TestHandleSignatureNotificationClearsInFlightWithNothingPending(t *testing.T) {
	m := rpctest.NewMock()
	req := newTestRequest(t, m)

	sig := acct.Signature{0x01}
	m.SetResponse(rpc.MethodSendTransaction, sig.String())
	ctx := context.Background()

	if err := req.Update(ctx, publish.Quote{Price: 1, Conf: 1, Status: acct.PriceStatusTrading}); err != nil {
		t.Fatal(err)
	}
	if err := req.HandleSignatureNotification(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if m.CallCount(rpc.MethodSendTransaction) != 1 {
		t.Fatalf("expected no further send without a coalesced update, got %d calls",
			m.CallCount(rpc.MethodSendTransaction))
	}

	// a fresh Update after confirmation should send right away, not coalesce.
	m.SetResponse(rpc.MethodSendTransaction, sig.String())
	if err := req.Update(ctx, publish.Quote{Price: 2, Conf: 1, Status: acct.PriceStatusTrading}); err != nil {
		t.Fatal(err)
	}
	if m.CallCount(rpc.MethodSendTransaction) != 2 {
		t.Fatalf("expected the post-confirmation update to send immediately, got %d calls",
			m.CallCount(rpc.MethodSendTransaction))
	}
}

func TestStatsRecordRecvAndHitRate(t *testing.T) {
	s := &publish.Stats{}
	s.RecordRecv(105, 10, 50) // no-op: nothing sent yet
	if s.NumRecv != 0 || s.NumAgg != 0 {
		t.Fatal("RecordRecv before any RecordSent must be a no-op")
	}

	s.RecordSent()
	s.RecordRecv(105, 10, 100)
	if s.NumAgg != 1 || s.NumRecv != 1 {
		t.Fatalf("expected first recv to count both agg and recv, got agg=%d recv=%d", s.NumAgg, s.NumRecv)
	}

	// same agg/pub slot again must not double count.
	s.RecordRecv(106, 10, 100)
	if s.NumAgg != 1 || s.NumRecv != 1 {
		t.Fatalf("unchanged slots must not increment counters, got agg=%d recv=%d", s.NumAgg, s.NumRecv)
	}

	s.RecordSent()
	s.RecordRecv(140, 11, 101)
	if s.NumAgg != 2 || s.NumRecv != 2 {
		t.Fatalf("expected second distinct slot pair to count, got agg=%d recv=%d", s.NumAgg, s.NumRecv)
	}
	hist := s.Histogram()
	if hist[31] == 0 {
		t.Fatal("expected the 140-101=39 slot gap to land in the overflow bucket 31")
	}

	if rate := s.HitRate(); rate <= 0 || rate > 100 {
		t.Fatalf("expected a hit rate in (0, 100], got %f", rate)
	}
}
