package server

import (
	"context"
	"errors"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/countdown"
	"ammsim/internal/ingestion"
	"ammsim/internal/observability"
	"ammsim/internal/projection"
	"ammsim/internal/query"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultPageSize = 50

// EngineReader serves consistent reads of the engine. *core.Sequencer
// satisfies it.
type EngineReader interface {
	Snapshot(ctx context.Context) (*core.Snapshot, error)
	Quote(ctx context.Context, poolID, tokenIn string, amountIn float64) (core.SwapResult, error)
}

// IntentSubmitter decodes and applies a raw intent. *ingestion.IntentService
// satisfies it.
type IntentSubmitter interface {
	SubmitRaw(ctx context.Context, source, eventType, msgID string, data []byte) (*core.Result, error)
}

// EventStore is the Postgres read side. *query.QueryService satisfies it.
type EventStore interface {
	GetEvents(ctx context.Context, poolID string, limit int, beforeSequence int64) ([]query.EventEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// LedgerStore serves projected balances and journal history.
// *query.QueryService satisfies it.
type LedgerStore interface {
	GetBalances(ctx context.Context, accountPrefix string) ([]query.BalanceResponse, error)
	GetJournalHistory(ctx context.Context, accountPrefix string, limit int, beforeSequence int64) ([]query.JournalHistoryEntry, error)
}

// SwapStore serves recent swaps per pool.
type SwapStore interface {
	QueryByPool(ctx context.Context, poolID string, limit int) ([]projection.SwapRecord, error)
}

// Snapshotter takes an on-demand state snapshot.
type Snapshotter interface {
	Take(ctx context.Context) error
}

type historyStore struct {
	history *projection.SwapHistory
}

// HistorySwapStore serves swaps from the in-memory history.
func HistorySwapStore(h *projection.SwapHistory) SwapStore {
	return historyStore{history: h}
}

func (s historyStore) QueryByPool(_ context.Context, poolID string, limit int) ([]projection.SwapRecord, error) {
	return s.history.QueryByPool(poolID, limit), nil
}

// Deps holds the collaborators of the simulator service. Events, Ledger,
// Snapshots and Rebuild are nil when running without Postgres; the calls that need
// them return Unavailable.
type Deps struct {
	Intents   IntentSubmitter
	Engine    EngineReader
	Swaps     SwapStore
	Events    EventStore
	Ledger    LedgerStore
	Snapshots Snapshotter
	Rebuild   func(ctx context.Context) error
	Countdown *countdown.Timer

	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// SimulatorService implements SimulatorServer over the sequencer and the
// read side.
type SimulatorService struct {
	deps Deps
}

func NewSimulatorService(deps Deps) *SimulatorService {
	return &SimulatorService{deps: deps}
}

var _ SimulatorServer = (*SimulatorService)(nil)

func (s *SimulatorService) SubmitIntent(ctx context.Context, req *SubmitIntentRequest) (*SubmitIntentResponse, error) {
	return s.submit(ctx, ingestion.SourceGRPC, req)
}

func (s *SimulatorService) submit(ctx context.Context, source string, req *SubmitIntentRequest) (resp *SubmitIntentResponse, err error) {
	defer s.observe("SubmitIntent", time.Now(), &err)

	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	payload := []byte(req.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	res, err := s.deps.Intents.SubmitRaw(ctx, source, req.EventType, req.MsgID, payload)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SubmitIntentResponse{Result: res}, nil
}

func (s *SimulatorService) GetSnapshot(ctx context.Context, _ *Empty) (snap *core.Snapshot, err error) {
	defer s.observe("GetSnapshot", time.Now(), &err)

	snap, err = s.deps.Engine.Snapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return snap, nil
}

func (s *SimulatorService) Quote(ctx context.Context, req *QuoteRequest) (resp *QuoteResponse, err error) {
	defer s.observe("Quote", time.Now(), &err)

	if req.PoolID == "" || req.TokenIn == "" {
		return nil, status.Error(codes.InvalidArgument, "pool_id and token_in are required")
	}
	q, err := s.deps.Engine.Quote(ctx, req.PoolID, req.TokenIn, req.AmountIn)
	if err != nil {
		return nil, toStatus(err)
	}
	return &QuoteResponse{Quote: q}, nil
}

func (s *SimulatorService) ListEvents(ctx context.Context, req *ListEventsRequest) (resp *ListEventsResponse, err error) {
	defer s.observe("ListEvents", time.Now(), &err)

	if s.deps.Events == nil {
		return nil, status.Error(codes.Unavailable, "event log requires postgres")
	}
	events, err := s.deps.Events.GetEvents(ctx, req.PoolID, pageSize(req.Limit), req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get events: %v", err)
	}
	return &ListEventsResponse{Events: events}, nil
}

func (s *SimulatorService) ListSwaps(ctx context.Context, req *ListSwapsRequest) (resp *ListSwapsResponse, err error) {
	defer s.observe("ListSwaps", time.Now(), &err)

	if req.PoolID == "" {
		return nil, status.Error(codes.InvalidArgument, "pool_id is required")
	}
	if s.deps.Swaps == nil {
		return nil, status.Error(codes.Unavailable, "swap history disabled")
	}
	swaps, err := s.deps.Swaps.QueryByPool(ctx, req.PoolID, pageSize(req.Limit))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list swaps: %v", err)
	}
	return &ListSwapsResponse{Swaps: swaps}, nil
}

func (s *SimulatorService) ListBalances(ctx context.Context, req *ListBalancesRequest) (resp *ListBalancesResponse, err error) {
	defer s.observe("ListBalances", time.Now(), &err)

	if s.deps.Ledger == nil {
		return nil, status.Error(codes.Unavailable, "balances require postgres")
	}
	balances, err := s.deps.Ledger.GetBalances(ctx, req.AccountPrefix)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get balances: %v", err)
	}
	return &ListBalancesResponse{Balances: balances}, nil
}

func (s *SimulatorService) ListJournal(ctx context.Context, req *ListJournalRequest) (resp *ListJournalResponse, err error) {
	defer s.observe("ListJournal", time.Now(), &err)

	if req.AccountPrefix == "" {
		return nil, status.Error(codes.InvalidArgument, "account_prefix is required")
	}
	if s.deps.Ledger == nil {
		return nil, status.Error(codes.Unavailable, "journal requires postgres")
	}
	entries, err := s.deps.Ledger.GetJournalHistory(ctx, req.AccountPrefix, pageSize(req.Limit), req.BeforeSequence)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get journal: %v", err)
	}
	return &ListJournalResponse{Entries: entries}, nil
}

func (s *SimulatorService) VerifyIntegrity(ctx context.Context, _ *Empty) (report *query.IntegrityReport, err error) {
	defer s.observe("VerifyIntegrity", time.Now(), &err)

	if s.deps.Events == nil {
		return nil, status.Error(codes.Unavailable, "integrity check requires postgres")
	}
	report, err = s.deps.Events.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	if !report.IsHealthy {
		s.deps.Logger.Warn().
			Ints64("hash_chain_breaks", report.HashChainBreaks).
			Ints64("sequence_gaps", report.SequenceGaps).
			Int("unbalanced_assets", len(report.UnbalancedAssets)).
			Msg("integrity check failed")
	}
	return report, nil
}

func (s *SimulatorService) TakeSnapshot(ctx context.Context, _ *Empty) (resp *Empty, err error) {
	defer s.observe("TakeSnapshot", time.Now(), &err)

	if s.deps.Snapshots == nil {
		return nil, status.Error(codes.Unavailable, "snapshots require postgres")
	}
	if err := s.deps.Snapshots.Take(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &Empty{}, nil
}

func (s *SimulatorService) RebuildProjections(ctx context.Context, _ *Empty) (resp *Empty, err error) {
	defer s.observe("RebuildProjections", time.Now(), &err)

	if s.deps.Rebuild == nil {
		return nil, status.Error(codes.Unavailable, "projections require postgres")
	}
	if err := s.deps.Rebuild(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &Empty{}, nil
}

func (s *SimulatorService) StartCountdown(ctx context.Context, req *StartCountdownRequest) (resp *CountdownResponse, err error) {
	defer s.observe("StartCountdown", time.Now(), &err)

	if s.deps.Countdown == nil {
		return nil, status.Error(codes.Unavailable, "countdown disabled")
	}
	if req.Name == "" && req.Seconds > 0 {
		return nil, status.Error(codes.InvalidArgument, "name is required")
	}
	s.deps.Countdown.Start(req.Name, req.Seconds)
	return s.countdown(), nil
}

func (s *SimulatorService) GetCountdown(ctx context.Context, _ *Empty) (resp *CountdownResponse, err error) {
	defer s.observe("GetCountdown", time.Now(), &err)

	if s.deps.Countdown == nil {
		return nil, status.Error(codes.Unavailable, "countdown disabled")
	}
	return s.countdown(), nil
}

func (s *SimulatorService) countdown() *CountdownResponse {
	ev, ok := s.deps.Countdown.Active()
	if !ok {
		return &CountdownResponse{}
	}
	return &CountdownResponse{Active: true, Event: &ev}
}

func (s *SimulatorService) observe(endpoint string, start time.Time, errp *error) {
	if s.deps.Metrics == nil {
		return
	}
	s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, status.Code(*errp).String()).Inc()
	s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return limit
}

// toStatus maps engine and ingestion errors to gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	var code codes.Code
	switch {
	case errors.Is(err, core.ErrDuplicateIntent):
		code = codes.AlreadyExists
	case errors.Is(err, ingestion.ErrUnknownEventType),
		errors.Is(err, ingestion.ErrEmptyPayload),
		errors.Is(err, ingestion.ErrMalformedIntent),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidSharePercent),
		errors.Is(err, core.ErrSameToken),
		errors.Is(err, core.ErrUnknownNPC),
		errors.Is(err, core.ErrTokenNotInPool):
		code = codes.InvalidArgument
	case errors.Is(err, core.ErrPoolNotFound),
		errors.Is(err, core.ErrTokenNotFound),
		errors.Is(err, core.ErrPositionNotFound):
		code = codes.NotFound
	case errors.Is(err, core.ErrPoolExists),
		errors.Is(err, core.ErrTokenExists):
		code = codes.AlreadyExists
	case errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrEmptyPool),
		errors.Is(err, core.ErrNoEligibleToken),
		errors.Is(err, core.ErrAuctionActive),
		errors.Is(err, core.ErrAuctionInactive),
		errors.Is(err, core.ErrNoBaseToken):
		code = codes.FailedPrecondition
	case errors.Is(err, core.ErrSequencerStopped):
		code = codes.Unavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
