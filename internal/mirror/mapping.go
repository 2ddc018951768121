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

// MappingMirror subscribes to one mapping account and reports newly
// appearing product addresses and, whenever a snapshot names one, the next
// mapping account in the chain.
type MappingMirror struct {
	transport  rpc.Transport
	pubkey     acct.Pubkey
	commitment rpc.Commitment
	log        *zap.Logger

	onProduct     func(acct.Pubkey)
	onNextMapping func(acct.Pubkey)
	onSubscribed  func()

	subID      int64
	ch         <-chan json.RawMessage
	data       *acct.Mapping
	subscribed bool
}

// NewMappingMirror builds a mapping mirror for pubkey. onProduct fires once
// per newly discovered product address; onNextMapping fires on every
// snapshot whose next-mapping address is non-zero, whether or not the table
// is full (the registry deduplicates repeats). onSubscribed fires once,
// the first time any notification is processed, mirroring del_map_sub's
// "this subscription's bootstrap debt is paid" signal.
func NewMappingMirror(transport rpc.Transport, pubkey acct.Pubkey, commitment rpc.Commitment, log *zap.Logger,
	onProduct, onNextMapping func(acct.Pubkey), onSubscribed func()) *MappingMirror {
	return &MappingMirror{
		transport:     transport,
		pubkey:        pubkey,
		commitment:    commitment,
		log:           log,
		onProduct:     onProduct,
		onNextMapping: onNextMapping,
		onSubscribed:  onSubscribed,
	}
}

// Pubkey returns the mirrored mapping account's address.
func (m *MappingMirror) Pubkey() acct.Pubkey { return m.pubkey }

// SubscriptionID returns the account_subscribe id notifications arrive
// under, 0 before Subscribe has run.
func (m *MappingMirror) SubscriptionID() int64 { return m.subID }

// Accepts implements request.Dispatchable.
func (m *MappingMirror) Accepts(k request.Kind) bool { return k == request.KindAccountNotification }

// Subscribe issues the account_subscribe call for this mapping account.
func (m *MappingMirror) Subscribe(ctx context.Context) error {
	subID, ch, err := m.transport.Subscribe(ctx, rpc.MethodAccountSubscribe,
		rpc.AccountSubscribeParams(m.pubkey, m.commitment))
	if err != nil {
		return perr.Transport("mapping account_subscribe failed", err)
	}
	m.subID = subID
	m.ch = ch
	return nil
}

// Channel returns the notification channel for the current subscription,
// for a caller (the supervisor's dispatch loop) to fan into its own
// single-goroutine notification stream.
func (m *MappingMirror) Channel() <-chan json.RawMessage { return m.ch }

// Resubscribe re-issues the subscription, the way a reconnect resubmits
// every known mapping account's subscription from scratch.
func (m *MappingMirror) Resubscribe(ctx context.Context) error {
	m.data = nil
	m.subscribed = false
	return m.Subscribe(ctx)
}

// HandleAccountNotification decodes a fresh mapping account snapshot,
// reporting every product address appended since the last snapshot and, if
// the next-mapping address is non-zero, the chained next mapping account.
func (m *MappingMirror) HandleAccountNotification(_ context.Context, raw json.RawMessage) error {
	_, data, err := decodeAccountNotification(raw)
	if err != nil {
		return perr.Protocol("parse mapping account notification", err)
	}
	mp, err := acct.DecodeMapping(data)
	if err != nil {
		return perr.Integrity(fmt.Sprintf("decode mapping account %s: %v", m.pubkey, err))
	}

	prevNum := 0
	if m.data != nil {
		prevNum = len(m.data.Products)
	}
	m.data = mp

	for i := prevNum; i < len(mp.Products); i++ {
		if m.onProduct != nil {
			m.onProduct(mp.Products[i])
		}
	}
	if mp.Next != acct.ZeroPubkey && m.onNextMapping != nil {
		m.onNextMapping(mp.Next)
	}
	if !m.subscribed {
		m.subscribed = true
		if m.onSubscribed != nil {
			m.onSubscribed()
		}
	}
	return nil
}
