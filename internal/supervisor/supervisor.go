// Package supervisor is the single-owner event loop: one goroutine mutates
// every mirror, the scheduler, and the status bitmap, the way pc::manager's
// poll loop is the sole mutator of its process state. Everything else, the
// RPC client's read loop and the per-subscription forwarder goroutines this
// package spawns, only relays bytes onto a fan-in channel the loop drains.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pricepub/pricepub/internal/acct"
	"github.com/pricepub/pricepub/internal/codec"
	"github.com/pricepub/pricepub/internal/mirror"
	"github.com/pricepub/pricepub/internal/perr"
	"github.com/pricepub/pricepub/internal/publish"
	"github.com/pricepub/pricepub/internal/request"
	"github.com/pricepub/pricepub/internal/rpc"
	"github.com/pricepub/pricepub/internal/scheduler"
)

// BlockhashTimeoutSlots is how many slots elapse between recent-blockhash
// refreshes (BLOCKHASH_TIMEOUT).
const BlockhashTimeoutSlots = 100

// reconnectPoll is how often the loop checks transport.ConnectionStatus()
// while waiting out a reconnect; the actual backoff timing belongs to the
// transport's own WebSocket channel, not to this package.
const reconnectPoll = 250 * time.Millisecond

// schedulerTick is this loop's poll granularity for the publish schedule,
// the Go analogue of the original engine's per-iteration readiness poll.
// It must be well under the smallest phase/Fraction slice a configured
// publish interval can produce, or fired price accounts bunch together
// instead of spreading across the interval.
const schedulerTick = 5 * time.Millisecond

// frame is one dispatched notification, tagged by kind and subscription id
// so the loop can route it to the right mirror or publish request without
// holding a type switch over every possible payload shape.
type frame struct {
	kind  request.Kind
	subID int64
	raw   json.RawMessage
}

// Config bundles everything Bootstrap/Run need beyond the transport itself.
type Config struct {
	Transport       rpc.Transport
	Logger          *zap.Logger
	Commitment      rpc.Commitment
	Publisher       acct.Pubkey
	ProgramID       acct.Pubkey
	PublishKeypair  *acct.Keypair
	MappingAccount  acct.Pubkey // acct.ZeroPubkey means no mapping key configured
	PublishInterval time.Duration
}

// publishCmd marshals an external update_price call into the loop
// goroutine: a caller on another goroutine can never touch a mirror or
// the scheduler directly, only hand a quote to the loop through this
// channel and wait for its result.
type publishCmd struct {
	account acct.Pubkey
	quote   publish.Quote
	result  chan error
}

// Supervisor is the connection supervisor: status bitmap, bootstrap gate,
// reconnect reaction, and the scheduler-driven publish loop.
type Supervisor struct {
	cfg Config
	log *zap.Logger

	status statusBitmap
	conn   connBox

	registry  *mirror.Registry
	scheduler *scheduler.Scheduler

	inbox           chan frame
	cmds            chan publishCmd
	accountHandlers map[int64]func(context.Context, json.RawMessage) error
	sigHandlers     map[int64]func(context.Context, json.RawMessage) error

	blockhash     [32]byte
	blockhashSeen bool
	slot          uint64
	slotSubID     int64
	blockhashDue  uint64 // slot at which the next refresh is due

	pubBase time.Time
	isPub   bool
	pubIdx  int

	lastQuote map[acct.Pubkey]publish.Quote

	pendingSubs int
	bootstrapCh chan struct{}
	gate        Status

	runCtx context.Context
}

// New builds a Supervisor. Run must be called to drive the event loop;
// Bootstrap blocks on the first Run iterations reaching the configured
// readiness gate.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PublishInterval <= 0 {
		cfg.PublishInterval = 293 * time.Millisecond
	}

	s := &Supervisor{
		cfg:             cfg,
		log:             cfg.Logger,
		scheduler:       scheduler.New(),
		inbox:           make(chan frame, 256),
		cmds:            make(chan publishCmd),
		accountHandlers: make(map[int64]func(context.Context, json.RawMessage) error),
		sigHandlers:     make(map[int64]func(context.Context, json.RawMessage) error),
		lastQuote:       make(map[acct.Pubkey]publish.Quote),
		bootstrapCh:     make(chan struct{}),
		gate:            bootstrapGate(cfg.MappingAccount != acct.ZeroPubkey),
		runCtx:          context.Background(),
	}

	s.registry = mirror.NewRegistry(cfg.Transport, cfg.Commitment, cfg.Publisher, cfg.Logger,
		func(priceAccount acct.Pubkey, stats *publish.Stats) *publish.Request {
			return publish.NewRequest(cfg.Transport, priceAccount, cfg.ProgramID, cfg.PublishKeypair,
				s.Blockhash, s.Slot, cfg.Commitment, stats)
		},
		s.onSubAdded, s.onSubDone, s.onWatchable)
	s.registry.OnPriceAdded(s.scheduler.Add)
	return s
}

// Blockhash returns the most recently cached recent-blockhash; builders
// read it at transaction-build time, matching the "single value cell, last
// writer wins" shared-resource policy.
func (s *Supervisor) Blockhash() [32]byte { return s.blockhash }

// Slot returns the most recently observed slot.
func (s *Supervisor) Slot() uint64 { return s.slot }

// Status returns the current status bitmap, safe to poll from outside the
// loop goroutine.
func (s *Supervisor) Status() Status { return s.status.value() }

// ConnState returns the supervisor's connectivity state as a string
// ("disconnected", "wait", "connected"), for a test driving a reconnect
// scenario to assert on the wait state directly rather than inferring it
// from the status bitmap alone.
func (s *Supervisor) ConnState() string { return s.conn.get().String() }

// UpdatePrice implements the downstream update_price contract: it
// marshals onto the loop goroutine rather than touching any mirror
// directly, since mirrors are exclusively loop-owned. Returns a
// precondition error if account names no tracked price mirror or the
// publisher holds no component slot on it yet.
func (s *Supervisor) UpdatePrice(ctx context.Context, account acct.Pubkey, price int64, conf uint64, status acct.PriceStatus) error {
	cmd := publishCmd{
		account: account,
		quote:   publish.Quote{Price: price, Conf: conf, Status: status},
		result:  make(chan error, 1),
	}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bootstrap blocks until the status bitmap reaches this daemon's readiness
// gate (RPC_CONNECTED|HAS_BLOCK_HASH, plus HAS_MAPPING if a mapping key is
// configured) or ctx is cancelled. Run must already be running in another
// goroutine.
func (s *Supervisor) Bootstrap(ctx context.Context) error {
	select {
	case <-s.bootstrapCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) checkBootstrap() {
	select {
	case <-s.bootstrapCh:
		return // already signaled
	default:
	}
	if s.status.has(s.gate) {
		close(s.bootstrapCh)
	}
}

// Run drives the single event loop until ctx is cancelled or an
// unrecoverable error occurs. All mirror, scheduler and status-bitmap
// mutation happens on this goroutine only.
func (s *Supervisor) Run(ctx context.Context) error {
	s.runCtx = ctx

	if err := s.connect(ctx); err != nil {
		return err
	}

	disconnected := s.cfg.Transport.Disconnected()
	var reconnectTicker *time.Ticker
	var reconnectTickC <-chan time.Time
	publishTicker := time.NewTicker(schedulerTick)
	defer publishTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fr := <-s.inbox:
			s.dispatch(ctx, fr)

		case cmd := <-s.cmds:
			cmd.result <- s.handleUpdatePrice(ctx, cmd)

		case <-disconnected:
			s.log.Warn("rpc transport disconnected")
			s.status.clear()
			s.conn.set(connWait)
			disconnected = s.cfg.Transport.Disconnected()
			reconnectTicker = time.NewTicker(reconnectPoll)
			reconnectTickC = reconnectTicker.C

		case <-reconnectTickC:
			if !s.cfg.Transport.ConnectionStatus() {
				continue
			}
			reconnectTicker.Stop()
			reconnectTickC = nil
			if err := s.reconnect(ctx); err != nil {
				s.log.Error("reconnect resubscribe failed", zap.Error(err))
				continue
			}
			s.conn.set(connConnected)

		case <-publishTicker.C:
			if s.isPub {
				s.firePublishRound(ctx)
			}
		}
	}
}

// connect performs the initial bootstrap dial sequence: slot_subscribe,
// get_recent_blockhash, and (if configured) the root mapping subscription.
func (s *Supervisor) connect(ctx context.Context) error {
	s.status.set(StatusConnected)
	s.conn.set(connConnected)

	if err := s.subscribeSlots(ctx); err != nil {
		return err
	}
	if err := s.refreshBlockhash(ctx); err != nil {
		return err
	}
	if s.cfg.MappingAccount != acct.ZeroPubkey {
		if err := s.registry.AddMapping(ctx, s.cfg.MappingAccount); err != nil {
			return perr.Transport("initial add_mapping failed", err)
		}
	}
	s.checkBootstrap()
	return nil
}

// reconnect re-subscribes to slots, refreshes the blockhash, and resets
// every tracked mirror's subscription from scratch, matching the "clear
// the bitmap, then re-earn every flag" decision for HAS_MAPPING.
func (s *Supervisor) reconnect(ctx context.Context) error {
	s.status.set(StatusConnected)
	s.pendingSubs = 0

	if err := s.subscribeSlots(ctx); err != nil {
		return err
	}
	if err := s.refreshBlockhash(ctx); err != nil {
		return err
	}
	if err := s.registry.Resubscribe(ctx); err != nil {
		return err
	}
	s.checkBootstrap()
	return nil
}

func (s *Supervisor) subscribeSlots(ctx context.Context) error {
	subID, ch, err := s.cfg.Transport.Subscribe(ctx, rpc.MethodSlotSubscribe, rpc.SlotSubscribeParams())
	if err != nil {
		return perr.Transport("slot_subscribe failed", err)
	}
	s.slotSubID = subID
	s.accountHandlers[subID] = s.handleSlotNotification
	go forwardMany(ctx, subID, ch, request.KindSlotNotification, s.inbox)
	return nil
}

func (s *Supervisor) refreshBlockhash(ctx context.Context) error {
	raw, err := s.cfg.Transport.Call(ctx, rpc.MethodGetRecentBlockhash, rpc.GetRecentBlockhashParams())
	if err != nil {
		return perr.Transport("get_recent_blockhash failed", err)
	}
	hash, err := parseBlockhashResult(raw)
	if err != nil {
		return perr.Protocol("parse get_recent_blockhash result", err)
	}
	s.blockhash = hash
	s.blockhashSeen = true
	s.status.set(StatusHasBlockhash)
	s.blockhashDue = s.slot + BlockhashTimeoutSlots
	s.checkBootstrap()
	return nil
}

// onSubAdded and onSubDone implement the subscription-debt counter: every
// AddMapping/AddProduct/AddPrice call increments the debt; every mirror's
// first successfully-processed notification decrements it. Reaching zero
// sets HAS_MAPPING, mirroring del_map_sub's "bootstrap debt fully paid"
// signal in the original client rather than gating on the mapping mirror
// alone.
func (s *Supervisor) onSubAdded() {
	s.pendingSubs++
}

func (s *Supervisor) onSubDone() {
	s.pendingSubs--
	if s.pendingSubs <= 0 && !s.status.has(StatusHasMapping) {
		s.status.set(StatusHasMapping)
		s.checkBootstrap()
	}
}

// onWatchable spawns a forwarder for every subscription the registry
// issues and routes future notifications on that id back to the mirror
// that owns it.
func (s *Supervisor) onWatchable(id int64, ch <-chan json.RawMessage, handle func(context.Context, json.RawMessage) error) {
	s.accountHandlers[id] = handle
	go forwardMany(s.runCtx, id, ch, request.KindAccountNotification, s.inbox)
}

func (s *Supervisor) dispatch(ctx context.Context, fr frame) {
	switch fr.kind {
	case request.KindSlotNotification:
		s.handleSlotFrame(ctx, fr.raw)
	case request.KindAccountNotification:
		h, ok := s.accountHandlers[fr.subID]
		if !ok {
			return
		}
		if err := h(ctx, fr.raw); err != nil {
			s.log.Warn("account notification handler failed", zap.Int64("subscription", fr.subID), zap.Error(err))
		}
	case request.KindSignatureNotification:
		h, ok := s.sigHandlers[fr.subID]
		if !ok {
			return
		}
		delete(s.sigHandlers, fr.subID)
		if err := h(ctx, fr.raw); err != nil {
			s.log.Warn("signature notification handler failed", zap.Int64("subscription", fr.subID), zap.Error(err))
		}
	}
}

func (s *Supervisor) handleSlotNotification(_ context.Context, raw json.RawMessage) error {
	s.handleSlotFrame(context.Background(), raw)
	return nil
}

// handleSlotFrame applies the monotone slot filter, drives the publish
// scheduler's round trigger, and refreshes the blockhash every
// BlockhashTimeoutSlots slots.
func (s *Supervisor) handleSlotFrame(ctx context.Context, raw json.RawMessage) {
	slot, err := parseSlotResult(raw)
	if err != nil {
		s.log.Warn("parse slot_subscribe notification failed", zap.Error(err))
		return
	}
	if slot <= s.slot && s.slot != 0 {
		return
	}
	s.slot = slot

	if s.scheduler.Len() > 0 {
		s.pubBase = time.Now()
		s.isPub = true
		s.pubIdx = 0
	}

	if s.blockhashSeen && slot >= s.blockhashDue {
		if err := s.refreshBlockhash(ctx); err != nil {
			s.log.Warn("periodic blockhash refresh failed", zap.Error(err))
		}
	}
}

// firePublishRound walks the schedule from the round cursor, firing
// update_price for every price account whose phase has come due given the
// elapsed time since pubBase, using the phase-hashed spread from
// scheduler.Round rather than firing every price account at once.
func (s *Supervisor) firePublishRound(ctx context.Context) {
	elapsed := time.Since(s.pubBase)
	interval := s.cfg.PublishInterval

	nextIdx, fired := s.scheduler.Round(s.pubIdx, func(phase uint64) bool {
		target := interval * time.Duration(phase) / time.Duration(scheduler.Fraction)
		return elapsed >= target
	})
	s.pubIdx = nextIdx
	if s.pubIdx >= s.scheduler.Len() {
		s.isPub = false
	}

	for _, pm := range fired {
		q, ok := s.lastQuote[pm.Pubkey()]
		if !ok {
			continue // nothing pushed to publish for this account yet
		}
		if err := s.publish(ctx, pm, q); err != nil {
			s.log.Warn("scheduled update_price failed", zap.Stringer("price_account", pm.Pubkey()), zap.Error(err))
		}
	}
}

func (s *Supervisor) handleUpdatePrice(ctx context.Context, cmd publishCmd) error {
	pm, ok := s.registry.Price(cmd.account)
	if !ok {
		return perr.Precondition(fmt.Sprintf("unknown price account %s", cmd.account))
	}
	s.lastQuote[cmd.account] = cmd.quote
	return s.publish(ctx, pm, cmd.quote)
}

// publish issues an update_price call through pm's embedded request and,
// if a transaction was actually sent, re-registers the signature watch.
// req's subscription id and channel change identity on every send, so the
// watch must be refreshed rather than fetched once.
func (s *Supervisor) publish(ctx context.Context, pm *mirror.PriceMirror, q publish.Quote) error {
	err := pm.Update(ctx, q.Price, q.Conf, q.Status)
	if req := pm.Request(); req != nil {
		s.watchSignature(ctx, req)
	}
	return err
}

func (s *Supervisor) watchSignature(ctx context.Context, req *publish.Request) {
	id := req.SignatureSubscriptionID()
	if id == 0 {
		return
	}
	if _, already := s.sigHandlers[id]; already {
		return
	}
	ch := req.Channel()
	s.sigHandlers[id] = func(ctx context.Context, raw json.RawMessage) error {
		err := req.HandleSignatureNotification(ctx, raw)
		s.watchSignature(ctx, req)
		return err
	}
	go forwardOnce(ctx, id, ch, request.KindSignatureNotification, s.inbox)
}

// Registry exposes the mirror registry for read-only inspection (product
// listing, price lookup) by a caller such as the local JSON-RPC surface.
func (s *Supervisor) Registry() *mirror.Registry { return s.registry }

func forwardMany(ctx context.Context, id int64, ch <-chan json.RawMessage, kind request.Kind, inbox chan<- frame) {
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				return
			}
			select {
			case inbox <- frame{kind: kind, subID: id, raw: raw}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// forwardOnce relays exactly one notification then exits, for a
// signature_subscribe watch whose confirmation is terminal by
// construction: a signature account never notifies twice, so ranging
// over its channel like forwardMany would leak a parked goroutine for
// the rest of the daemon's lifetime.
func forwardOnce(ctx context.Context, id int64, ch <-chan json.RawMessage, kind request.Kind, inbox chan<- frame) {
	select {
	case raw, ok := <-ch:
		if !ok {
			return
		}
		select {
		case inbox <- frame{kind: kind, subID: id, raw: raw}:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

func parseSlotResult(raw json.RawMessage) (uint64, error) {
	var v struct {
		Slot uint64 `json:"slot"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v.Slot, nil
}

func parseBlockhashResult(raw json.RawMessage) ([32]byte, error) {
	var v struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	var out [32]byte
	if err := json.Unmarshal(raw, &v); err != nil {
		return out, err
	}
	decoded, err := codec.Base58Decode(v.Value.Blockhash)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, fmt.Errorf("supervisor: blockhash must decode to 32 bytes, got %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}
