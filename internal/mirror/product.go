package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/perr"
	"github.com/pricepub/pricepub/internal/request"
	"github.com/pricepub/pricepub/internal/rpc"
)

// ProductMirror subscribes to one product account and, the first time its
// header's first_price field names a price account, reports it once.
type ProductMirror struct {
	transport  rpc.Transport
	pubkey     acct.Pubkey
	commitment rpc.Commitment
	log        *zap.Logger

	onFirstPrice func(acct.Pubkey)
	onSubscribed func()

	subID                int64
	ch                   <-chan json.RawMessage
	data                 *acct.Product
	subscribedFirstPrice bool
	subscribed           bool
}

// NewProductMirror builds a product mirror for pubkey. onFirstPrice fires
// once, the first time the product's first_price address resolves to a
// non-zero account. onSubscribed fires once, the first time any
// notification is processed, mirroring del_map_sub's "this subscription's
// bootstrap debt is paid" signal.
func NewProductMirror(transport rpc.Transport, pubkey acct.Pubkey, commitment rpc.Commitment, log *zap.Logger,
	onFirstPrice func(acct.Pubkey), onSubscribed func()) *ProductMirror {
	return &ProductMirror{
		transport:    transport,
		pubkey:       pubkey,
		commitment:   commitment,
		log:          log,
		onFirstPrice: onFirstPrice,
		onSubscribed: onSubscribed,
	}
}

// Pubkey returns the mirrored product account's address.
func (p *ProductMirror) Pubkey() acct.Pubkey { return p.pubkey }

// SubscriptionID returns the account_subscribe id notifications arrive
// under, 0 before Subscribe has run.
func (p *ProductMirror) SubscriptionID() int64 { return p.subID }

// Symbol returns the product's symbol attribute, "" before the first
// notification arrives.
func (p *ProductMirror) Symbol() string {
	if p.data == nil {
		return ""
	}
	return p.data.Symbol()
}

// Accepts implements request.Dispatchable.
func (p *ProductMirror) Accepts(k request.Kind) bool { return k == request.KindAccountNotification }

// Subscribe issues the account_subscribe call for this product account.
func (p *ProductMirror) Subscribe(ctx context.Context) error {
	subID, ch, err := p.transport.Subscribe(ctx, rpc.MethodAccountSubscribe,
		rpc.AccountSubscribeParams(p.pubkey, p.commitment))
	if err != nil {
		return perr.Transport("product account_subscribe failed", err)
	}
	p.subID = subID
	p.ch = ch
	return nil
}

// Channel returns the notification channel for the current subscription.
func (p *ProductMirror) Channel() <-chan json.RawMessage { return p.ch }

// Resubscribe re-issues the subscription after a reconnect.
func (p *ProductMirror) Resubscribe(ctx context.Context) error {
	p.data = nil
	p.subscribedFirstPrice = false
	p.subscribed = false
	return p.Subscribe(ctx)
}

// HandleAccountNotification decodes a fresh product account snapshot and,
// the first time a first_price address resolves, reports it once so the
// caller can start a PriceMirror for it.
func (p *ProductMirror) HandleAccountNotification(_ context.Context, raw json.RawMessage) error {
	_, data, err := decodeAccountNotification(raw)
	if err != nil {
		return perr.Protocol("parse product account notification", err)
	}
	prod, err := acct.DecodeProduct(data)
	if err != nil {
		return perr.Integrity(fmt.Sprintf("decode product account %s: %v", p.pubkey, err))
	}
	p.data = prod

	if !p.subscribedFirstPrice && prod.HasFirstPrice() {
		p.subscribedFirstPrice = true
		if p.onFirstPrice != nil {
			p.onFirstPrice(prod.FirstPrice)
		}
	}
	if !p.subscribed {
		p.subscribed = true
		if p.onSubscribed != nil {
			p.onSubscribed()
		}
	}
	return nil
}
