package core

import (
	"fmt"
	"sort"
	"time"

	"ammsim/internal/auction"
	"ammsim/internal/event"
	"ammsim/internal/ledger"
	"ammsim/internal/observability"
	"ammsim/internal/state"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Engine is the single-threaded market simulation core. It is not safe for
// concurrent use; the Sequencer owns it in a running service.
type Engine struct {
	sequence       int64
	hasher         *StateHasher
	balanceTracker *ledger.BalanceTracker
	journalGen     *ledger.JournalGenerator
	validator      *ledger.InvariantValidator
	tokens         *state.TokenRegistry
	pools          *state.PoolLedger
	fees           *state.FeePolicyResolver
	positions      *state.PositionManager
	activity       *state.ActivityLog
	stats          state.PlayerStats
	challenges     []state.Challenge
	auction        *auction.Auction
	idempotency    *IdempotencyChecker
	metrics        *observability.Metrics
	logger         zerolog.Logger

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput
}

// EngineConfig wires the engine's optional collaborators.
type EngineConfig struct {
	// PersistChan receives every output with a blocking send. Optional.
	PersistChan chan<- CoreOutput
	// PublishChan receives outputs with a non-blocking send. Optional.
	PublishChan chan<- CoreOutput

	DBChecker           DBIdempotencyChecker
	IdempotencyCapacity int
	Metrics             *observability.Metrics
	Logger              *zerolog.Logger
}

// CoreOutput is emitted for every applied intent.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
}

// Result is returned to the caller of an applied intent. Exactly one of the
// payload fields is set, matching the intent type.
type Result struct {
	Sequence   int64               `json:"sequence"`
	EventType  string              `json:"event_type"`
	StateHash  string              `json:"state_hash"`
	Swap       *SwapResult         `json:"swap,omitempty"`
	Liquidity  *LiquidityResult    `json:"liquidity,omitempty"`
	Withdrawal *WithdrawalResult   `json:"withdrawal,omitempty"`
	Token      *state.Token        `json:"token,omitempty"`
	Pool       *state.Pool         `json:"pool,omitempty"`
	Bid        *auction.Bid        `json:"bid,omitempty"`
	Settlement *auction.Settlement `json:"settlement,omitempty"`
	Auction    *auction.Auction    `json:"auction,omitempty"`
}

// NewEngine builds an engine from seed data. The seed is applied as the
// genesis batch at sequence 0; the first intent gets sequence 1.
func NewEngine(seed SeedData, cfg EngineConfig) (*Engine, error) {
	logger := observability.NewLogger("engine")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	tracker := ledger.NewBalanceTracker()
	e := &Engine{
		hasher:         NewStateHasher(),
		balanceTracker: tracker,
		journalGen:     ledger.NewJournalGenerator(),
		validator:      ledger.NewInvariantValidator(tracker),
		tokens:         state.NewTokenRegistry(),
		pools:          state.NewPoolLedger(),
		fees:           state.NewFeePolicyResolver(),
		positions:      state.NewPositionManager(),
		activity:       state.NewActivityLog(),
		idempotency:    NewIdempotencyChecker(cfg.IdempotencyCapacity, cfg.DBChecker),
		metrics:        cfg.Metrics,
		logger:         logger,
		persistChan:    cfg.PersistChan,
		publishChan:    cfg.PublishChan,
	}

	if err := e.applySeed(seed); err != nil {
		return nil, fmt.Errorf("apply seed: %w", err)
	}
	return e, nil
}

func (c *Engine) applySeed(seed SeedData) error {
	batch := c.journalGen.Begin(0, "genesis", time.Unix(0, 0).UTC())

	for _, st := range seed.Tokens {
		tok := state.Token{
			ID:        state.TokenIDFromSymbol(st.Symbol),
			Name:      st.Name,
			Symbol:    st.Symbol,
			IsBase:    st.IsBase,
			CreatedBy: state.ProvenanceSystem,
		}
		if err := c.tokens.Register(tok, true); err != nil {
			return err
		}
	}

	for _, sp := range seed.Pools {
		a, ok := c.tokens.Get(state.TokenIDFromSymbol(sp.TokenA))
		if !ok {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, sp.TokenA)
		}
		b, ok := c.tokens.Get(state.TokenIDFromSymbol(sp.TokenB))
		if !ok {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, sp.TokenB)
		}
		hook := sp.Hook
		if hook == "" {
			hook = state.HookCustom
		}
		if !hook.Valid() {
			return fmt.Errorf("pool %s-%s: unknown hook %q", a.Symbol, b.Symbol, hook)
		}
		pool := state.Pool{
			ID:         state.PoolID(a.Symbol, b.Symbol),
			TokenA:     a.ID,
			TokenB:     b.ID,
			ReserveA:   sp.ReserveA,
			ReserveB:   sp.ReserveB,
			BaseFeeBps: sp.BaseFeeBps,
			Hook: state.Hook{
				Kind:     hook,
				FeeRange: state.FeeRange{MinBps: sp.MinFeeBps, MaxBps: sp.MaxFeeBps},
			},
			CreatedBy: state.ProvenanceSystem,
		}
		if err := c.pools.Insert(pool); err != nil {
			return err
		}
		c.journalGen.PoolSeed(batch, pool.ID, pool.TokenA, pool.TokenB, pool.ReserveA, pool.ReserveB)
	}

	assets := make([]string, 0, len(seed.Inventory))
	for asset := range seed.Inventory {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		if _, ok := c.tokens.Get(asset); !ok {
			return fmt.Errorf("%w: inventory %s", ErrTokenNotFound, asset)
		}
		c.journalGen.Mint(batch, ledger.PlayerHolder(PlayerID), asset, seed.Inventory[asset])
	}

	if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		return err
	}

	c.challenges = append([]state.Challenge(nil), seed.Challenges...)
	c.stats = state.PlayerStats{Reputation: seed.Reputation}
	state.EvaluateChallenges(c.challenges, c.stats)

	var d digestBuilder
	d.accounts(batch, c.balanceTracker)
	c.hasher.ComputeHash(0, d.buf)
	c.sequence = 1
	return nil
}

// ProcessEvent is the main processing pipeline. On error the engine state is
// unchanged and nothing is emitted.
func (c *Engine) ProcessEvent(evt event.Event) (*Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()

	if !c.stamped(evt) {
		c.reject(eventType, ErrUnstampedIntent)
		return nil, ErrUnstampedIntent
	}

	// Step 1: Idempotency check (two-tier)
	if dup, tier := c.idempotency.IsDuplicate(eventType, idempotencyKey); dup {
		if c.metrics != nil {
			c.metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		}
		c.reject(eventType, ErrDuplicateIntent)
		return nil, fmt.Errorf("%w: %s", ErrDuplicateIntent, idempotencyKey)
	}

	// Step 2: Dispatch. Handlers validate fully before mutating anything.
	batch := c.journalGen.Begin(c.sequence, idempotencyKey, evt.EventTimestamp())
	result, err := c.dispatchEvent(evt, batch)
	if err != nil {
		c.reject(eventType, err)
		c.logger.Debug().Err(err).Str("event_type", eventType).Str("request_id", idempotencyKey).Msg("intent rejected")
		return nil, err
	}

	// Step 3: Validate and apply the batch
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
	}
	if err := c.balanceTracker.ApplyBatch(batch); err != nil {
		panic(fmt.Sprintf("FATAL: apply batch failed: %v", err))
	}

	// Step 4: Post-checks
	if err := c.postCheckInvariants(evt, batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 5: Derived state
	state.EvaluateChallenges(c.challenges, c.stats)

	// Step 6: State hash chain
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, c.computeStateDigest(evt, batch))

	result.Sequence = c.sequence
	result.EventType = eventType
	result.StateHash = EncodeHash(stateHash)

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal intent %s: %v", eventType, err))
	}
	resultBytes, err := json.Marshal(result)
	if err != nil {
		panic(fmt.Sprintf("FATAL: marshal result %s: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		PoolID:         evt.PoolID(),
		Timestamp:      evt.EventTimestamp(),
		Payload:        payload,
		Result:         resultBytes,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	// Step 7: Emit. Persist is a blocking send (backpressure); publish drops when full.
	c.emit(CoreOutput{Envelope: envelope, Batch: batch})

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.sequence++

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.Size()))
		for _, j := range batch.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}

	return result, nil
}

func (c *Engine) stamped(evt event.Event) bool {
	return evt.IdempotencyKey() != uuid.Nil.String() && !evt.EventTimestamp().IsZero()
}

func (c *Engine) reject(eventType string, err error) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, RejectReason(err)).Inc()
	}
}

func (c *Engine) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.publishChan != nil {
		select {
		case c.publishChan <- output:
		default:
			// Dropped; subscribers can rebuild from the event log.
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}
}

func (c *Engine) dispatchEvent(evt event.Event, batch *ledger.Batch) (*Result, error) {
	switch e := evt.(type) {
	case *event.Swap:
		return c.handleSwap(e, batch)
	case *event.NPCSwap:
		return c.handleNPCSwap(e, batch)
	case *event.AddLiquidity:
		return c.handleAddLiquidity(e, batch)
	case *event.RemoveLiquidity:
		return c.handleRemoveLiquidity(e, batch)
	case *event.CreateToken:
		return c.handleCreateToken(e, batch)
	case *event.CreatePool:
		return c.handleCreatePool(e, batch)
	case *event.PlaceBid:
		return c.handlePlaceBid(e, batch)
	case *event.AdvanceAuctionBlock:
		return c.handleAdvanceAuctionBlock(e, batch)
	case *event.StartAuction:
		return c.handleStartAuction(e, batch)
	case *event.ResetAuction:
		return c.handleResetAuction(e, batch)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownIntent, evt)
	}
}

// postCheckInvariants validates invariants after batch application
func (c *Engine) postCheckInvariants(evt event.Event, batch *ledger.Batch) error {
	if err := c.validator.ValidateTouchedNonNegative(batch); err != nil {
		return fmt.Errorf("post-check balances: %w", err)
	}

	for _, poolID := range c.touchedPools(evt, batch) {
		pool, ok := c.pools.Get(poolID)
		if !ok {
			continue
		}
		if err := pool.Validate(); err != nil {
			return fmt.Errorf("post-check reserves: %w", err)
		}
		if err := c.validator.ValidatePoolMirror(pool.ID, pool.TokenA, pool.TokenB, pool.ReserveA, pool.ReserveB); err != nil {
			return fmt.Errorf("post-check pool accounts: %w", err)
		}
		if c.metrics != nil {
			c.metrics.PoolReserve.WithLabelValues(pool.ID, pool.TokenA).Set(pool.ReserveA)
			c.metrics.PoolReserve.WithLabelValues(pool.ID, pool.TokenB).Set(pool.ReserveB)
		}
	}

	// Periodic global zero-sum check
	if c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global balance (at seq %d): %w", c.sequence, err)
		}
	}
	return nil
}

// touchedPools returns the pools an intent read or wrote, sorted.
func (c *Engine) touchedPools(evt event.Event, batch *ledger.Batch) []string {
	seen := make(map[string]struct{})
	if id := evt.PoolID(); id != nil {
		seen[*id] = struct{}{}
	}
	for _, j := range batch.Journals {
		for _, k := range [2]ledger.AccountKey{j.DebitAccount, j.CreditAccount} {
			if k.Scope == ledger.AccountScopePool {
				seen[k.EntityID] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// computeStateDigest creates canonical bytes for the state hash
func (c *Engine) computeStateDigest(evt event.Event, batch *ledger.Batch) []byte {
	var d digestBuilder
	d.str(evt.EventType().String())
	d.accounts(batch, c.balanceTracker)

	for _, poolID := range c.touchedPools(evt, batch) {
		if pool, ok := c.pools.Get(poolID); ok {
			d.pool(pool)
		}
	}

	if c.auction != nil {
		d.str(c.auction.ID.String())
		d.i64(int64(c.auction.CurrentBlock))
	}
	d.i64(int64(c.stats.Reputation))
	return d.buf
}

// === Read accessors ===

// GetSequence returns the next sequence number to assign.
func (c *Engine) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Engine) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// Pool returns a copy of one pool.
func (c *Engine) Pool(poolID string) (state.Pool, bool) {
	return c.pools.Get(poolID)
}

// Pools returns every pool in creation order.
func (c *Engine) Pools() []state.Pool {
	return c.pools.All()
}

// Balance returns the player's balance of one token.
func (c *Engine) Balance(tokenID string) float64 {
	return c.balanceTracker.GetPlayerBalance(PlayerID, tokenID)
}

// Stats returns the player's counters.
func (c *Engine) Stats() state.PlayerStats {
	return c.stats
}

// Activity returns the NPC activity log, newest first.
func (c *Engine) Activity() []state.ActivityEntry {
	return c.activity.Entries()
}

// AttachOutputs connects the output channels. Replay runs before this so
// recovered intents are not emitted twice.
func (c *Engine) AttachOutputs(persist, publish chan<- CoreOutput) {
	c.persistChan = persist
	c.publishChan = publish
}

// AttachDBChecker enables the Postgres dedup tier. Replay runs without it
// because every replayed intent is already in the log.
func (c *Engine) AttachDBChecker(db DBIdempotencyChecker) {
	c.idempotency.dbChecker = db
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (c *Engine) WarmLRU(keys []string) {
	c.idempotency.Warm(keys)
}

// ValidateGlobalBalance runs the zero-sum check on demand.
func (c *Engine) ValidateGlobalBalance() error {
	return c.validator.ValidateGlobalBalance()
}
