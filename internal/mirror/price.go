package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/perr"
	"github.com/pricepub/pricepub/internal/publish"
	"github.com/pricepub/pricepub/internal/request"
	"github.com/pricepub/pricepub/internal/rpc"
)

// noPublisherIndex marks a PriceMirror whose publisher identity does not
// appear among the account's current components.
const noPublisherIndex = -1

// PriceMirror subscribes to one price account, tracks this publisher's
// component slot within it, and owns the publish.Request/publish.Stats
// pair that drives update_price once a publisher slot is found.
type PriceMirror struct {
	transport    rpc.Transport
	pubkey       acct.Pubkey
	commitment   rpc.Commitment
	publisher    acct.Pubkey
	log          *zap.Logger
	onNextPrice  func(acct.Pubkey)
	onSubscribed func()
	newRequest   func() *publish.Request

	subID      int64
	ch         <-chan json.RawMessage
	data       *acct.Price
	pubIdx     int
	pubSlot    uint64
	chained    bool
	subscribed bool

	stats *publish.Stats
	req   *publish.Request
}

// NewPriceMirror builds a price mirror for pubkey. publisher is this
// daemon's publishing identity, used to locate its component slot.
// newRequest lazily builds the publish.Request the first time that slot is
// found, mirroring the "publish identity not yet authorized" precondition.
// onSubscribed fires once, the first time an initialized snapshot arrives,
// after any chained next-price address has already been reported.
func NewPriceMirror(transport rpc.Transport, pubkey acct.Pubkey, commitment rpc.Commitment, publisher acct.Pubkey,
	stats *publish.Stats, newRequest func() *publish.Request, log *zap.Logger,
	onNextPrice func(acct.Pubkey), onSubscribed func()) *PriceMirror {
	return &PriceMirror{
		transport:    transport,
		pubkey:       pubkey,
		commitment:   commitment,
		publisher:    publisher,
		stats:        stats,
		newRequest:   newRequest,
		log:          log,
		onNextPrice:  onNextPrice,
		onSubscribed: onSubscribed,
		pubIdx:       noPublisherIndex,
	}
}

// Pubkey returns the mirrored price account's address.
func (p *PriceMirror) Pubkey() acct.Pubkey { return p.pubkey }

// SubscriptionID returns the account_subscribe id notifications arrive
// under, 0 before Subscribe has run.
func (p *PriceMirror) SubscriptionID() int64 { return p.subID }

// HasPublisher reports whether the publishing identity currently holds a
// component slot on this price account.
func (p *PriceMirror) HasPublisher() bool { return p.pubIdx != noPublisherIndex }

// Stats returns the publish counters and latency histogram for this price
// account.
func (p *PriceMirror) Stats() *publish.Stats { return p.stats }

// Aggregate returns the current aggregate quote, the zero Quote before the
// first notification arrives.
func (p *PriceMirror) Aggregate() acct.Quote {
	if p.data == nil {
		return acct.Quote{}
	}
	return p.data.Aggregate
}

// Accepts implements request.Dispatchable for account_subscribe traffic;
// signature_subscribe traffic for an in-flight publish is routed directly
// to Request()'s own Accepts/HandleSignatureNotification.
func (p *PriceMirror) Accepts(k request.Kind) bool { return k == request.KindAccountNotification }

// Subscribe issues the account_subscribe call for this price account.
func (p *PriceMirror) Subscribe(ctx context.Context) error {
	subID, ch, err := p.transport.Subscribe(ctx, rpc.MethodAccountSubscribe,
		rpc.AccountSubscribeParams(p.pubkey, p.commitment))
	if err != nil {
		return perr.Transport("price account_subscribe failed", err)
	}
	p.subID = subID
	p.ch = ch
	return nil
}

// Channel returns the notification channel for the current subscription.
func (p *PriceMirror) Channel() <-chan json.RawMessage { return p.ch }

// Resubscribe re-issues the subscription after a reconnect. The chained
// next-price callback, subscribed flag and publisher slot are recomputed
// from the next notification; an in-flight publish request is left
// untouched since its own signature subscription is tracked independently.
func (p *PriceMirror) Resubscribe(ctx context.Context) error {
	p.data = nil
	p.chained = false
	p.subscribed = false
	return p.Subscribe(ctx)
}

// Request returns the update_price singleton for this price account,
// building it lazily the first time a publisher component slot is found.
// Returns nil if this publisher is not yet authorized on the account.
func (p *PriceMirror) Request() *publish.Request {
	if p.req == nil && p.HasPublisher() {
		p.req = p.newRequest()
	}
	return p.req
}

// Update submits a new quote through this price account's publish request.
// Returns a precondition error if the publishing identity does not hold a
// component slot yet.
func (p *PriceMirror) Update(ctx context.Context, price int64, conf uint64, status acct.PriceStatus) error {
	req := p.Request()
	if req == nil {
		return perr.Precondition(fmt.Sprintf("update_price attempted before publisher authorized on %s", p.pubkey))
	}
	return req.Update(ctx, publish.Quote{Price: price, Conf: conf, Status: status})
}

// HandleAccountNotification decodes a fresh price account snapshot,
// recomputes the publisher component slot, counts a dropped subscription
// update when the aggregate pub_slot this mirror last saw is below the new
// snapshot's valid_slot, and
// records latency/hit-rate statistics for this publisher's own
// contribution.
func (p *PriceMirror) HandleAccountNotification(_ context.Context, raw json.RawMessage) error {
	currSlot, data, err := decodeAccountNotification(raw)
	if err != nil {
		return perr.Protocol("parse price account notification", err)
	}
	pr, err := acct.DecodePrice(data)
	if err != nil {
		return perr.Integrity(fmt.Sprintf("decode price account %s: %v", p.pubkey, err))
	}

	p.data = pr

	if pr.Aggregate.PubSlot == 0 {
		// account created but not yet initialized on chain.
		return nil
	}

	if !p.subscribed {
		if pr.HasNext() && !p.chained {
			p.chained = true
			if p.onNextPrice != nil {
				p.onNextPrice(pr.Next)
			}
		}
		p.subscribed = true
		if p.onSubscribed != nil {
			p.onSubscribed()
		}
	}

	p.pubIdx = pr.IndexOf(p.publisher)

	if p.pubSlot != pr.Aggregate.PubSlot || p.pubSlot == 0 {
		if p.pubSlot != 0 && p.pubSlot < pr.ValidSlot {
			p.stats.RecordSubDrop()
		}
		p.pubSlot = pr.Aggregate.PubSlot

		if p.pubIdx != noPublisherIndex {
			p.stats.RecordRecv(currSlot, pr.Aggregate.PubSlot, pr.Components[p.pubIdx].Quote.PubSlot)
		}
	}
	return nil
}
