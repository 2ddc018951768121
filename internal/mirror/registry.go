package mirror

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/publish"
	"github.com/pricepub/pricepub/internal/rpc"
)

// AccountWatcher is handed every account_subscribe id this registry issues,
// synchronously, right after the subscribe call succeeds. A caller (the
// supervisor's dispatch loop) uses it to spawn a forwarder goroutine for
// the channel and to route future notifications on that id to handle.
type AccountWatcher func(id int64, ch <-chan json.RawMessage, handle func(context.Context, json.RawMessage) error)

// Registry discovers and owns every mapping, product and price mirror
// reachable from the root mapping account, deduplicating by address the
// way a deployed client's add_mapping/add_product/add_price do. onSubAdded
// fires once per subscription issued; onSubDone fires once per mapping,
// product or price mirror when it processes its first snapshot (for a price
// mirror, its first initialized one, after reporting any chained next-price
// address). Together these let a caller track how many
// subscription "debts" are still outstanding during bootstrap.
type Registry struct {
	transport  rpc.Transport
	commitment rpc.Commitment
	publisher  acct.Pubkey
	log        *zap.Logger

	newPublishRequest func(priceAccount acct.Pubkey, stats *publish.Stats) *publish.Request

	onSubAdded   func()
	onSubDone    func()
	onWatchable  AccountWatcher
	onPriceAdded func(*PriceMirror)

	mappings map[acct.Pubkey]*MappingMirror
	products map[acct.Pubkey]*ProductMirror
	prices   map[acct.Pubkey]*PriceMirror
}

// NewRegistry builds an empty registry. newPublishRequest constructs the
// publish.Request for a given price account the first time this
// publisher's component slot is found on it. onWatchable may be nil (tests
// that never dispatch notifications through a supervisor have no need for
// it); when set, it fires once per successful (re)subscribe for every
// mapping, product and price mirror this registry tracks.
func NewRegistry(transport rpc.Transport, commitment rpc.Commitment, publisher acct.Pubkey, log *zap.Logger,
	newPublishRequest func(priceAccount acct.Pubkey, stats *publish.Stats) *publish.Request,
	onSubAdded, onSubDone func(), onWatchable AccountWatcher) *Registry {
	// newPublishRequest receives the same *publish.Stats the resulting
	// mirror exposes via Stats(), so RecordSent and RecordRecv/RecordSubDrop
	// land on one shared counter set per price account.
	return &Registry{
		transport:         transport,
		commitment:        commitment,
		publisher:         publisher,
		log:               log,
		newPublishRequest: newPublishRequest,
		onSubAdded:        onSubAdded,
		onSubDone:         onSubDone,
		onWatchable:       onWatchable,
		mappings:          make(map[acct.Pubkey]*MappingMirror),
		products:          make(map[acct.Pubkey]*ProductMirror),
		prices:            make(map[acct.Pubkey]*PriceMirror),
	}
}

// OnPriceAdded registers a callback fired once per newly tracked price
// mirror, right after it is registered and before its account_subscribe
// call is issued. A caller (the
// supervisor) uses it to enroll the mirror in the publish scheduler
// without the registry needing to know the scheduler exists.
func (r *Registry) OnPriceAdded(f func(*PriceMirror)) {
	r.onPriceAdded = f
}

func (r *Registry) notifyWatchable(id int64, ch <-chan json.RawMessage, handle func(context.Context, json.RawMessage) error) {
	if r.onWatchable != nil {
		r.onWatchable(id, ch, handle)
	}
}

// Mappings returns every tracked mapping mirror.
func (r *Registry) Mappings() []*MappingMirror {
	out := make([]*MappingMirror, 0, len(r.mappings))
	for _, m := range r.mappings {
		out = append(out, m)
	}
	return out
}

// Products returns every tracked product mirror.
func (r *Registry) Products() []*ProductMirror {
	out := make([]*ProductMirror, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p)
	}
	return out
}

// Prices returns every tracked price mirror.
func (r *Registry) Prices() []*PriceMirror {
	out := make([]*PriceMirror, 0, len(r.prices))
	for _, p := range r.prices {
		out = append(out, p)
	}
	return out
}

// Price looks up a tracked price mirror by its account address.
func (r *Registry) Price(pub acct.Pubkey) (*PriceMirror, bool) {
	p, ok := r.prices[pub]
	return p, ok
}

// AddMapping starts mirroring the mapping account at pub, a no-op if it is
// already tracked.
func (r *Registry) AddMapping(ctx context.Context, pub acct.Pubkey) error {
	if _, ok := r.mappings[pub]; ok {
		return nil
	}
	mm := NewMappingMirror(r.transport, pub, r.commitment, r.log,
		func(productPub acct.Pubkey) {
			if err := r.AddProduct(ctx, productPub); err != nil {
				r.warn("add_product failed", err)
			}
		},
		func(nextPub acct.Pubkey) {
			if err := r.AddMapping(ctx, nextPub); err != nil {
				r.warn("add_mapping (chained) failed", err)
			}
		},
		r.subDone)
	r.mappings[pub] = mm
	r.notifyAdded()
	if err := mm.Subscribe(ctx); err != nil {
		return err
	}
	r.notifyWatchable(mm.SubscriptionID(), mm.Channel(), mm.HandleAccountNotification)
	return nil
}

// AddProduct starts mirroring the product account at pub, a no-op if it is
// already tracked.
func (r *Registry) AddProduct(ctx context.Context, pub acct.Pubkey) error {
	if _, ok := r.products[pub]; ok {
		return nil
	}
	pm := NewProductMirror(r.transport, pub, r.commitment, r.log,
		func(pricePub acct.Pubkey) {
			if err := r.AddPrice(ctx, pricePub); err != nil {
				r.warn("add_price failed", err)
			}
		},
		r.subDone)
	r.products[pub] = pm
	r.notifyAdded()
	if err := pm.Subscribe(ctx); err != nil {
		return err
	}
	r.notifyWatchable(pm.SubscriptionID(), pm.Channel(), pm.HandleAccountNotification)
	return nil
}

// AddPrice starts mirroring the price account at pub, a no-op if it is
// already tracked.
func (r *Registry) AddPrice(ctx context.Context, pub acct.Pubkey) error {
	if _, ok := r.prices[pub]; ok {
		return nil
	}
	stats := &publish.Stats{}
	pm := NewPriceMirror(r.transport, pub, r.commitment, r.publisher, stats,
		func() *publish.Request { return r.newPublishRequest(pub, stats) },
		r.log,
		func(nextPub acct.Pubkey) {
			if err := r.AddPrice(ctx, nextPub); err != nil {
				r.warn("add_price (chained) failed", err)
			}
		},
		r.subDone)
	r.prices[pub] = pm
	r.notifyAdded()
	if r.onPriceAdded != nil {
		r.onPriceAdded(pm)
	}
	if err := pm.Subscribe(ctx); err != nil {
		return err
	}
	r.notifyWatchable(pm.SubscriptionID(), pm.Channel(), pm.HandleAccountNotification)
	return nil
}

// Resubscribe re-issues every tracked mapping, product and price
// subscription, the way a reconnect resets and resubmits every known
// account instead of rebuilding the registry from scratch. Every reissued
// subscription gets a fresh id, so onWatchable fires again for each one.
// It also calls notifyAdded for each mirror, the same debt-incurring call
// AddMapping/AddProduct/AddPrice make on first discovery, so HAS_MAPPING is
// only re-earned once every re-subscribed account has reported in again
// rather than as soon as the first one does.
func (r *Registry) Resubscribe(ctx context.Context) error {
	for _, m := range r.mappings {
		r.notifyAdded()
		if err := m.Resubscribe(ctx); err != nil {
			return err
		}
		r.notifyWatchable(m.SubscriptionID(), m.Channel(), m.HandleAccountNotification)
	}
	for _, p := range r.products {
		r.notifyAdded()
		if err := p.Resubscribe(ctx); err != nil {
			return err
		}
		r.notifyWatchable(p.SubscriptionID(), p.Channel(), p.HandleAccountNotification)
	}
	for _, p := range r.prices {
		r.notifyAdded()
		if err := p.Resubscribe(ctx); err != nil {
			return err
		}
		r.notifyWatchable(p.SubscriptionID(), p.Channel(), p.HandleAccountNotification)
	}
	return nil
}

func (r *Registry) notifyAdded() {
	if r.onSubAdded != nil {
		r.onSubAdded()
	}
}

func (r *Registry) subDone() {
	if r.onSubDone != nil {
		r.onSubDone()
	}
}

func (r *Registry) warn(msg string, err error) {
	if r.log != nil {
		r.log.Warn(msg, zap.Error(err))
	}
}
