package supervisor_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/acct/accttest"
	"github.com/pricepub/pricepub/internal/codec"
	"github.com/pricepub/pricepub/internal/log"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/rpc/rpctest"
	"github.com/pricepub/pricepub/internal/supervisor"
)

func pk(b byte) acct.Pubkey {
	var raw [32]byte
	raw[0] = b
	p, err := acct.PubkeyFromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return p
}

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

func accountNotification(slot uint64, data []byte) json.RawMessage {
	payload := fmt.Sprintf(`{"context":{"slot":%d},"value":{"data":["%s","base64"],"lamports":1,"owner":""}}`,
		slot, base64.StdEncoding.EncodeToString(data))
	return json.RawMessage(payload)
}

func queueBlockhash(m *rpctest.Mock, b byte) {
	var raw [32]byte
	raw[0] = b
	m.SetResponse(rpc.MethodGetRecentBlockhash, map[string]any{
		"value": map[string]any{"blockhash": codec.Base58Encode(raw[:])},
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestBootstrapCompletesWithoutMappingConfigured(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x01)
	publisher := testKeypair(t, 1)

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	bctx, bcancel := context.WithTimeout(ctx, time.Second)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err != nil {
		t.Fatalf("expected bootstrap without a mapping key to complete, got %v", err)
	}
	want := supervisor.StatusConnected | supervisor.StatusHasBlockhash
	if sup.Status()&want != want {
		t.Fatalf("expected connected|has_blockhash, got %v", sup.Status())
	}
}

func TestBootstrapWaitsForMappingSubscriptionDebt(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x02)
	publisher := testKeypair(t, 2)
	mappingAccount := pk(10)

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
		MappingAccount: mappingAccount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	bctx, bcancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err == nil {
		t.Fatal("expected bootstrap to block until the mapping mirror reports in")
	}

	mm, ok := findMapping(sup, mappingAccount)
	if !ok {
		t.Fatal("expected the mapping account to already be tracked")
	}
	raw := accttest.EncodeMapping(nil, acct.ZeroPubkey)
	m.Notify(mm, accountNotification(1, raw))

	bctx2, bcancel2 := context.WithTimeout(ctx, time.Second)
	defer bcancel2()
	if err := sup.Bootstrap(bctx2); err != nil {
		t.Fatalf("expected bootstrap to complete once the mapping subscription reports in, got %v", err)
	}
	if sup.Status()&supervisor.StatusHasMapping == 0 {
		t.Fatal("expected HAS_MAPPING to be set")
	}
}

func findMapping(sup *supervisor.Supervisor, pub acct.Pubkey) (int64, bool) {
	for _, mm := range sup.Registry().Mappings() {
		if mm.Pubkey() == pub {
			return mm.SubscriptionID(), true
		}
	}
	return 0, false
}

func TestUpdatePricePublishesAndRecordsSent(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x03)
	publisher := testKeypair(t, 3)
	priceAccount := pk(20)

	sig := acct.Signature{}
	sig[0] = 0xAB
	m.SetResponse(rpc.MethodSendTransaction, sig.String())

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	bctx, bcancel := context.WithTimeout(ctx, time.Second)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err != nil {
		t.Fatal(err)
	}

	if err := sup.Registry().AddPrice(ctx, priceAccount); err != nil {
		t.Fatal(err)
	}
	pm, ok := sup.Registry().Price(priceAccount)
	if !ok {
		t.Fatal("expected price mirror to be tracked")
	}

	comps := []acct.Component{
		{Pub: publisher.Pub, Quote: acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}},
	}
	agg := acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}
	raw := accttest.EncodePrice(acct.PriceTypePrice, -5, agg, 0, 0, 0, 0, 0, 1, acct.ZeroPubkey, comps)
	m.Notify(pm.SubscriptionID(), accountNotification(1, raw))

	waitFor(t, pm.HasPublisher)

	if err := sup.UpdatePrice(ctx, priceAccount, 12345, 7, acct.PriceStatusTrading); err != nil {
		t.Fatalf("expected UpdatePrice to succeed, got %v", err)
	}
	if got := pm.Stats().NumSent; got != 1 {
		t.Fatalf("expected NumSent=1 after one UpdatePrice call, got %d", got)
	}
	if got := m.CallCount(rpc.MethodSendTransaction); got != 1 {
		t.Fatalf("expected exactly one send_transaction call, got %d", got)
	}
}

func TestUpdatePriceUnknownAccountIsPrecondition(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x04)
	publisher := testKeypair(t, 4)

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	bctx, bcancel := context.WithTimeout(ctx, time.Second)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err != nil {
		t.Fatal(err)
	}

	if err := sup.UpdatePrice(ctx, pk(99), 1, 1, acct.PriceStatusTrading); err == nil {
		t.Fatal("expected UpdatePrice against an untracked account to fail")
	}
}

func TestReconnectRestoresHasMappingWithoutCallerReAdding(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x05)
	publisher := testKeypair(t, 5)
	mappingAccount := pk(11)

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
		MappingAccount: mappingAccount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	// connect()'s very first two Subscribe calls are deterministic:
	// slot_subscribe gets id 1, the single configured mapping's
	// account_subscribe gets id 2. Wait for the account_subscribe call to
	// land in the mock (its own mutex makes this poll race-free) before
	// notifying subscription 2 directly, rather than reading the registry
	// concurrently with connect() still running on the loop goroutine.
	const firstMappingSubID = int64(2)
	waitFor(t, func() bool { return m.CallCount(rpc.MethodAccountSubscribe) >= 1 })
	raw := accttest.EncodeMapping(nil, acct.ZeroPubkey)
	m.Notify(firstMappingSubID, accountNotification(1, raw))

	bctx, bcancel := context.WithTimeout(ctx, time.Second)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err != nil {
		t.Fatal(err)
	}
	if sup.ConnState() != "connected" {
		t.Fatalf("expected connected before disconnect, got %s", sup.ConnState())
	}
	if mm, ok := findMapping(sup, mappingAccount); !ok || mm != firstMappingSubID {
		t.Fatalf("expected mapping subscription id %d, got %d (tracked=%v)", firstMappingSubID, mm, ok)
	}

	queueBlockhash(m, 0x06)
	m.Disconnect()

	waitFor(t, func() bool { return sup.ConnState() == "wait" })
	if sup.Status()&supervisor.StatusHasMapping != 0 {
		t.Fatal("expected HAS_MAPPING to be cleared on disconnect")
	}

	m.Reconnect()
	waitFor(t, func() bool { return sup.ConnState() == "connected" })

	// reconnect()'s slot_subscribe gets id 3, its Resubscribe of the one
	// tracked mapping gets id 4. Safe to read now that ConnState flipping
	// to "connected" only happens after reconnect() has returned.
	const secondMappingSubID = int64(4)
	newSubID, ok := findMapping(sup, mappingAccount)
	if !ok || newSubID != secondMappingSubID {
		t.Fatalf("expected mapping to still be tracked under a fresh subscription id %d, got %d (tracked=%v)",
			secondMappingSubID, newSubID, ok)
	}
	m.Notify(newSubID, accountNotification(1, raw))

	waitFor(t, func() bool { return sup.Status()&supervisor.StatusHasMapping != 0 })
}

func TestReconnectHasMappingStaysDownUntilEveryMirrorReNotifies(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x09)
	publisher := testKeypair(t, 9)
	mappingAccount := pk(12)
	price1 := pk(30)
	price2 := pk(31)

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
		MappingAccount: mappingAccount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	// Track the mapping account plus two price accounts before any of them
	// notify, so all three contribute to the subscription debt from the
	// start: HAS_MAPPING must not set until every one of them has reported
	// in, not just the mapping mirror alone.
	waitFor(t, func() bool { return m.CallCount(rpc.MethodAccountSubscribe) >= 1 })
	if err := sup.Registry().AddPrice(ctx, price1); err != nil {
		t.Fatal(err)
	}
	if err := sup.Registry().AddPrice(ctx, price2); err != nil {
		t.Fatal(err)
	}

	mappingSubID, ok := findMapping(sup, mappingAccount)
	if !ok {
		t.Fatal("expected the mapping account to already be tracked")
	}
	p1, ok := sup.Registry().Price(price1)
	if !ok {
		t.Fatal("expected price1 to be tracked")
	}
	p2, ok := sup.Registry().Price(price2)
	if !ok {
		t.Fatal("expected price2 to be tracked")
	}

	mappingRaw := accttest.EncodeMapping(nil, acct.ZeroPubkey)
	comps := []acct.Component{
		{Pub: publisher.Pub, Quote: acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}},
	}
	agg := acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}
	priceRaw := accttest.EncodePrice(acct.PriceTypePrice, -5, agg, 0, 0, 0, 0, 0, 1, acct.ZeroPubkey, comps)

	m.Notify(mappingSubID, accountNotification(1, mappingRaw))
	m.Notify(p1.SubscriptionID(), accountNotification(1, priceRaw))
	waitFor(t, p1.HasPublisher)
	if sup.Status()&supervisor.StatusHasMapping != 0 {
		t.Fatal("expected HAS_MAPPING to stay clear until the last price mirror reports in")
	}

	m.Notify(p2.SubscriptionID(), accountNotification(1, priceRaw))
	waitFor(t, func() bool { return sup.Status()&supervisor.StatusHasMapping != 0 })

	// Disconnect and reconnect: every one of the three tracked mirrors must
	// re-incur its share of the debt, so HAS_MAPPING must go back down and
	// only come back up once all three have re-notified, not just the
	// first one (or two) to do so.
	queueBlockhash(m, 0x0A)
	m.Disconnect()
	waitFor(t, func() bool { return sup.ConnState() == "wait" })
	if sup.Status()&supervisor.StatusHasMapping != 0 {
		t.Fatal("expected HAS_MAPPING to be cleared on disconnect")
	}

	m.Reconnect()
	waitFor(t, func() bool { return sup.ConnState() == "connected" })

	// Safe to read fresh subscription ids now: ConnState only flips to
	// "connected" after reconnect() (and its Resubscribe call) has returned.
	newMappingSubID, ok := findMapping(sup, mappingAccount)
	if !ok {
		t.Fatal("expected the mapping account to still be tracked after reconnect")
	}
	newP1SubID := p1.SubscriptionID()
	newP2SubID := p2.SubscriptionID()

	m.Notify(newMappingSubID, accountNotification(2, mappingRaw))
	m.Notify(newP1SubID, accountNotification(2, priceRaw))
	// Give the two notifications time to clear the inbox and dispatch
	// before checking the flag stays down; there's no positive signal to
	// wait on here since a third, still-missing notification is exactly
	// what keeps HAS_MAPPING from setting.
	time.Sleep(50 * time.Millisecond)
	if sup.Status()&supervisor.StatusHasMapping != 0 {
		t.Fatal("expected HAS_MAPPING to stay clear until the last of three re-subscribed mirrors reports in")
	}

	m.Notify(newP2SubID, accountNotification(2, priceRaw))
	waitFor(t, func() bool { return sup.Status()&supervisor.StatusHasMapping != 0 })
}

func TestUpdatePriceCoalescesWhileTransactionInFlight(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x07)
	publisher := testKeypair(t, 6)
	priceAccount := pk(21)

	sig := acct.Signature{}
	sig[0] = 0xCD
	m.SetResponse(rpc.MethodSendTransaction, sig.String())

	sup := supervisor.New(supervisor.Config{
		Transport:      m,
		Logger:         log.Nop(),
		Commitment:     rpc.CommitmentConfirmed,
		Publisher:      publisher.Pub,
		PublishKeypair: publisher,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	bctx, bcancel := context.WithTimeout(ctx, time.Second)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err != nil {
		t.Fatal(err)
	}

	if err := sup.Registry().AddPrice(ctx, priceAccount); err != nil {
		t.Fatal(err)
	}
	pm, ok := sup.Registry().Price(priceAccount)
	if !ok {
		t.Fatal("expected price mirror to be tracked")
	}

	comps := []acct.Component{
		{Pub: publisher.Pub, Quote: acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}},
	}
	agg := acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}
	raw := accttest.EncodePrice(acct.PriceTypePrice, -5, agg, 0, 0, 0, 0, 0, 1, acct.ZeroPubkey, comps)
	m.Notify(pm.SubscriptionID(), accountNotification(1, raw))
	waitFor(t, pm.HasPublisher)

	// The first call sends a transaction and leaves it in flight: no
	// signature_subscribe notification has been pushed yet, so a second
	// call for the same account must fold into the pending payload rather
	// than issue a second send_transaction.
	if err := sup.UpdatePrice(ctx, priceAccount, 100, 1, acct.PriceStatusTrading); err != nil {
		t.Fatal(err)
	}
	if err := sup.UpdatePrice(ctx, priceAccount, 200, 2, acct.PriceStatusTrading); err != nil {
		t.Fatal(err)
	}

	if got := m.CallCount(rpc.MethodSendTransaction); got != 1 {
		t.Fatalf("expected the second UpdatePrice to coalesce rather than send, got %d send_transaction calls", got)
	}
	if got := pm.Request().CoalesceCount(); got != 1 {
		t.Fatalf("expected CoalesceCount=1, got %d", got)
	}

	// Confirming the in-flight transaction's signature must flush the
	// coalesced quote as its own transaction.
	m.Notify(pm.Request().SignatureSubscriptionID(), accountNotification(2, nil))
	waitFor(t, func() bool { return m.CallCount(rpc.MethodSendTransaction) == 2 })
}

func TestSchedulerSpreadsScheduledPublishesOverTheInterval(t *testing.T) {
	m := rpctest.NewMock()
	queueBlockhash(m, 0x08)
	publisher := testKeypair(t, 8)

	sig := acct.Signature{}
	sig[0] = 0xEF
	// one queued result per send: two seeding UpdatePrice calls plus the two
	// scheduled sends.
	for i := 0; i < 4; i++ {
		m.SetResponse(rpc.MethodSendTransaction, sig.String())
	}

	sup := supervisor.New(supervisor.Config{
		Transport:       m,
		Logger:          log.Nop(),
		Commitment:      rpc.CommitmentConfirmed,
		Publisher:       publisher.Pub,
		PublishKeypair:  publisher,
		PublishInterval: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	bctx, bcancel := context.WithTimeout(ctx, time.Second)
	defer bcancel()
	if err := sup.Bootstrap(bctx); err != nil {
		t.Fatal(err)
	}

	// pk(seed) zeroes every byte but the first, so Phase's little-endian
	// read of bytes [0:8) reduces to the seed itself and bytes [16:24)
	// reduce to zero: phase == seed. early gets phase 2 (the very front of
	// the interval) and late gets phase 900 % 256 = 132, about 13% of the
	// way through it.
	early := pk(2)
	late := pk(900 % 256)
	accounts := []acct.Pubkey{early, late}

	for _, acc := range accounts {
		if err := sup.Registry().AddPrice(ctx, acc); err != nil {
			t.Fatal(err)
		}
	}
	earlyMirror, _ := sup.Registry().Price(early)
	lateMirror, _ := sup.Registry().Price(late)

	comps := []acct.Component{
		{Pub: publisher.Pub, Quote: acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}},
	}
	agg := acct.Quote{Price: 100, Conf: 1, Status: acct.PriceStatusTrading, PubSlot: 1}
	priceRaw := accttest.EncodePrice(acct.PriceTypePrice, -5, agg, 0, 0, 0, 0, 0, 1, acct.ZeroPubkey, comps)
	m.Notify(earlyMirror.SubscriptionID(), accountNotification(1, priceRaw))
	m.Notify(lateMirror.SubscriptionID(), accountNotification(1, priceRaw))
	waitFor(t, earlyMirror.HasPublisher)
	waitFor(t, lateMirror.HasPublisher)

	// Seed both accounts' last-known quote and clear their in-flight
	// transactions so the scheduled round below actually sends rather
	// than coalesces.
	if err := sup.UpdatePrice(ctx, early, 10, 1, acct.PriceStatusTrading); err != nil {
		t.Fatal(err)
	}
	if err := sup.UpdatePrice(ctx, late, 10, 1, acct.PriceStatusTrading); err != nil {
		t.Fatal(err)
	}
	m.Notify(earlyMirror.Request().SignatureSubscriptionID(), accountNotification(2, nil))
	m.Notify(lateMirror.Request().SignatureSubscriptionID(), accountNotification(2, nil))
	waitFor(t, func() bool { return m.CallCount(rpc.MethodSendTransaction) == 2 })

	// A fresh slot starts a publish round at t=0; the scheduler's
	// schedulerTick poll then walks the phase-sorted schedule and should
	// fire the low-phase account's scheduled refresh well before the
	// high-phase one's, rather than both firing together. No mapping is
	// configured, so connect()'s very first Subscribe call (slot_subscribe)
	// deterministically gets id 1.
	const slotSubID = int64(1)
	m.Notify(slotSubID, json.RawMessage(`{"slot":2}`))

	waitFor(t, func() bool { return m.CallCount(rpc.MethodSendTransaction) == 3 })
	if got := m.CallCount(rpc.MethodSendTransaction); got != 3 {
		t.Fatalf("expected only the low-phase account to have a scheduled send so far, got %d", got)
	}

	waitFor(t, func() bool { return m.CallCount(rpc.MethodSendTransaction) == 4 })
}
