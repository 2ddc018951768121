// Package composite implements the per-operation state machines that
// drive a multi-instruction on-chain operation to completion: submit an
// instruction, wait for its signature to reach the configured commitment,
// submit the next instruction, wait again, then report done.
package composite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/perr"
	"github.com/pricepub/pricepub/internal/request"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/wire"
)

// InstructionBuilder produces the instructions for one phase of a
// composite operation. Called lazily so a later phase can reference state
// only known once an earlier phase confirmed (e.g. a newly created
// account's address).
type InstructionBuilder func() ([]wire.Instruction, error)

// TwoPhase drives the canonical create_account -> signature ->
// follow-up instruction -> signature -> done sequence shared by
// init_mapping, add_mapping, add_product, add_price, init_test and
// transfer. It is a single resettable object: request.Base's state is
// reset between phases rather than allocating a second state machine per
// phase, mirroring how the on-chain client reuses one embedded singleton
// request per operation slot instead of allocating per invocation.
type TwoPhase struct {
	request.Base

	transport  rpc.Transport
	payer      *acct.Keypair
	signers    []*acct.Keypair
	blockhash  func() [32]byte
	commitment rpc.Commitment

	create   InstructionBuilder
	followUp InstructionBuilder

	phase    int // 0 = create, 1 = follow-up
	sigSubID int64
	sigCh    <-chan json.RawMessage

	onDone func(*TwoPhase)
	onFail func(*TwoPhase, error)
}

// New builds a TwoPhase ready to Start. payer funds and signs every
// transaction; signers are merged with payer (deduplication happens at
// wire.Build/Sign time via account identity).
func New(transport rpc.Transport, payer *acct.Keypair, signers []*acct.Keypair,
	blockhash func() [32]byte, commitment rpc.Commitment,
	create, followUp InstructionBuilder) *TwoPhase {
	return &TwoPhase{
		transport:  transport,
		payer:      payer,
		signers:    signers,
		blockhash:  blockhash,
		commitment: commitment,
		create:     create,
		followUp:   followUp,
	}
}

// OnDone registers a callback fired once the follow-up instruction's
// signature confirms.
func (t *TwoPhase) OnDone(f func(*TwoPhase)) { t.onDone = f }

// OnFail registers a callback fired when either phase fails.
func (t *TwoPhase) OnFail(f func(*TwoPhase, error)) { t.onFail = f }

// SignatureSubscriptionID returns the subscription id the supervisor
// should route signature_subscribe notifications to this object by, valid
// only once Start or the internal follow-up submission has run.
func (t *TwoPhase) SignatureSubscriptionID() int64 { return t.sigSubID }

// Channel returns the notification channel for the current phase's
// signature subscription, for the supervisor's dispatch loop to fan into
// its own single-goroutine notification stream. The channel changes
// identity across the create->follow-up phase handoff, so callers must
// re-fetch it after HandleSignatureNotification advances the phase.
func (t *TwoPhase) Channel() <-chan json.RawMessage { return t.sigCh }

// Accepts implements request.Dispatchable.
func (t *TwoPhase) Accepts(k request.Kind) bool {
	return k == request.KindSignatureNotification
}

// Start submits the create-phase instructions and subscribes to its
// signature.
func (t *TwoPhase) Start(ctx context.Context) error {
	if t.Base.State() != request.StatePending {
		return fmt.Errorf("composite: Start called twice")
	}
	return t.submitPhase(ctx, t.create)
}

func (t *TwoPhase) submitPhase(ctx context.Context, build InstructionBuilder) error {
	if err := t.Base.Transition(request.StateReady); err != nil {
		return t.fail(err)
	}

	instrs, err := build()
	if err != nil {
		return t.fail(perr.Precondition(fmt.Sprintf("build instructions failed: %v", err)))
	}

	tx, err := wire.Build(t.payer.Pub, t.blockhash(), instrs)
	if err != nil {
		return t.fail(perr.Protocol("compile transaction", err))
	}
	signers := append([]*acct.Keypair{t.payer}, t.signers...)
	if err := wire.Sign(tx, signers); err != nil {
		return t.fail(perr.Wrap(perr.KindProtocol, perr.NonRetryable, "sign transaction", err))
	}
	txB64, err := tx.Base64()
	if err != nil {
		return t.fail(perr.Protocol("encode transaction", err))
	}

	raw, err := t.transport.Call(ctx, rpc.MethodSendTransaction, rpc.SendTransactionParams(txB64))
	if err != nil {
		return t.fail(perr.Transport("send_transaction failed", err))
	}
	var sig acct.Signature
	var sigStr string
	if err := json.Unmarshal(raw, &sigStr); err != nil {
		return t.fail(perr.Protocol("parse send_transaction result", err))
	}
	sig, err = acct.SignatureFromBase58(sigStr)
	if err != nil {
		return t.fail(perr.Protocol("parse transaction signature", err))
	}

	if err := t.Base.Transition(request.StateSubmitted); err != nil {
		return t.fail(err)
	}

	subID, notifyCh, err := t.transport.Subscribe(ctx, rpc.MethodSignatureSubscribe,
		rpc.SignatureSubscribeParams(sig, t.commitment))
	if err != nil {
		return t.fail(perr.Transport("signature_subscribe failed", err))
	}
	t.sigSubID = subID
	t.sigCh = notifyCh

	if err := t.Base.Transition(request.StateSubscribedSignature); err != nil {
		return t.fail(err)
	}
	return nil
}

// HandleSignatureNotification advances the state machine on a confirmed
// signature: the create phase moves on to the follow-up instruction; the
// follow-up phase completes the operation.
func (t *TwoPhase) HandleSignatureNotification(ctx context.Context, _ json.RawMessage) error {
	if err := t.Base.Transition(request.StateConfirmed); err != nil {
		return t.fail(err)
	}

	if t.phase == 0 {
		if err := t.Base.Transition(request.StateDone); err != nil {
			return t.fail(err)
		}
		t.phase = 1
		t.Base.Reset()
		return t.submitPhase(ctx, t.followUp)
	}

	if err := t.Base.Transition(request.StateDone); err != nil {
		return t.fail(err)
	}
	if t.onDone != nil {
		t.onDone(t)
	}
	return nil
}

func (t *TwoPhase) fail(err error) error {
	t.Base.Fail(err)
	if t.onFail != nil {
		t.onFail(t, err)
	}
	return err
}
