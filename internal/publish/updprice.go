package publish

import (
	"context"
	"encoding/json"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/perr"
	"github.com/pricepub/pricepub/internal/request"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/wire"
)

// Quote is the (price, confidence, status) triple a local publisher
// reports for one price account.
type Quote struct {
	Price  int64
	Conf   uint64
	Status acct.PriceStatus
}

// Request is the embedded update_price singleton a price mirror owns: at
// most one upd_price transaction is ever outstanding for a given price
// account. A second Update call while one is awaiting signature
// confirmation overwrites the pending payload instead of queuing a second
// transaction.
type Request struct {
	request.Base

	transport    rpc.Transport
	priceAccount acct.Pubkey
	programID    acct.Pubkey
	publisher    *acct.Keypair
	blockhash    func() [32]byte
	slot         func() uint64
	commitment   rpc.Commitment
	stats        *Stats

	inFlight      bool
	pending       *Quote
	coalesceCount uint64
	sigSubID      int64
	sigCh         <-chan json.RawMessage
}

// NewRequest builds the update_price singleton for one price account.
func NewRequest(transport rpc.Transport, priceAccount, programID acct.Pubkey, publisher *acct.Keypair,
	blockhash func() [32]byte, slot func() uint64, commitment rpc.Commitment, stats *Stats) *Request {
	return &Request{
		transport:    transport,
		priceAccount: priceAccount,
		programID:    programID,
		publisher:    publisher,
		blockhash:    blockhash,
		slot:         slot,
		commitment:   commitment,
		stats:        stats,
	}
}

// Accepts implements request.Dispatchable.
func (r *Request) Accepts(k request.Kind) bool {
	return k == request.KindSignatureNotification
}

// SignatureSubscriptionID returns the subscription id of the in-flight
// transaction's signature watch, or 0 if none is outstanding.
func (r *Request) SignatureSubscriptionID() int64 { return r.sigSubID }

// Channel returns the notification channel for the in-flight transaction's
// signature subscription. Its identity changes every time a new
// transaction is sent (the initial send, or a coalesced follow-up), so
// callers must re-fetch it after Update or HandleSignatureNotification
// issues a new subscription.
func (r *Request) Channel() <-chan json.RawMessage { return r.sigCh }

// CoalesceCount reports how many Update calls were folded into a pending
// payload instead of producing a new transaction.
func (r *Request) CoalesceCount() uint64 { return r.coalesceCount }

// Update submits q immediately if no transaction is in flight, or
// coalesces it into the pending payload (overwriting any previously
// coalesced quote) if one is.
func (r *Request) Update(ctx context.Context, q Quote) error {
	if r.inFlight {
		r.pending = &q
		r.coalesceCount++
		return nil
	}
	return r.send(ctx, q)
}

func (r *Request) send(ctx context.Context, q Quote) error {
	data := wire.EncodeUpdPrice(q.Status, q.Price, q.Conf, r.slot())
	instr := wire.Instruction{
		ProgramID: r.programID,
		Accounts: []wire.AccountMeta{
			{Pubkey: r.priceAccount, IsSigner: false, IsWritable: true},
			{Pubkey: r.publisher.Pub, IsSigner: true, IsWritable: false},
		},
		Data: data,
	}

	tx, err := wire.Build(r.publisher.Pub, r.blockhash(), []wire.Instruction{instr})
	if err != nil {
		return r.fail(perr.Protocol("compile upd_price transaction", err))
	}
	if err := wire.Sign(tx, []*acct.Keypair{r.publisher}); err != nil {
		return r.fail(perr.Wrap(perr.KindProtocol, perr.NonRetryable, "sign upd_price transaction", err))
	}
	txB64, err := tx.Base64()
	if err != nil {
		return r.fail(perr.Protocol("encode upd_price transaction", err))
	}

	raw, err := r.transport.Call(ctx, rpc.MethodSendTransaction, rpc.SendTransactionParams(txB64))
	if err != nil {
		return r.fail(perr.Transport("send_transaction failed", err))
	}
	var sigStr string
	if err := json.Unmarshal(raw, &sigStr); err != nil {
		return r.fail(perr.Protocol("parse send_transaction result", err))
	}
	sig, err := acct.SignatureFromBase58(sigStr)
	if err != nil {
		return r.fail(perr.Protocol("parse transaction signature", err))
	}

	subID, notifyCh, err := r.transport.Subscribe(ctx, rpc.MethodSignatureSubscribe,
		rpc.SignatureSubscribeParams(sig, r.commitment))
	if err != nil {
		return r.fail(perr.Transport("signature_subscribe failed", err))
	}

	r.sigSubID = subID
	r.sigCh = notifyCh
	r.inFlight = true
	r.stats.RecordSent()
	return nil
}

// HandleSignatureNotification clears the in-flight flag and, if a quote
// was coalesced while waiting, sends it as the next transaction.
func (r *Request) HandleSignatureNotification(ctx context.Context, _ json.RawMessage) error {
	r.inFlight = false
	r.sigSubID = 0
	if r.pending == nil {
		return nil
	}
	q := *r.pending
	r.pending = nil
	return r.send(ctx, q)
}

func (r *Request) fail(err error) error {
	r.inFlight = false
	return err
}
