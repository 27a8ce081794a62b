package server_test

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/countdown"
	"ammsim/internal/ingestion"
	"ammsim/internal/observability"
	"ammsim/internal/projection"
	"ammsim/internal/query"
	"ammsim/internal/server"
	"ammsim/internal/testutil"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fakeEvents struct {
	report *query.IntegrityReport
	err    error
}

func (f *fakeEvents) GetEvents(_ context.Context, poolID string, limit int, _ int64) ([]query.EventEntry, error) {
	return []query.EventEntry{{Sequence: 1, EventType: "Swap", PoolID: poolID}}, f.err
}

func (f *fakeEvents) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return f.report, f.err
}

type fakeLedger struct {
	prefixes []string
}

func (f *fakeLedger) GetBalances(_ context.Context, prefix string) ([]query.BalanceResponse, error) {
	f.prefixes = append(f.prefixes, prefix)
	return []query.BalanceResponse{{AccountPath: prefix + "usdc", Asset: "usdc", Balance: -10, AsOfSequence: 4}}, nil
}

func (f *fakeLedger) GetJournalHistory(_ context.Context, prefix string, limit int, before int64) ([]query.JournalHistoryEntry, error) {
	f.prefixes = append(f.prefixes, prefix)
	return []query.JournalHistoryEntry{{Sequence: before - 1, Asset: "usdc", Amount: float64(limit)}}, nil
}

type fakeSnapshotter struct{ taken int }

func (f *fakeSnapshotter) Take(context.Context) error {
	f.taken++
	return nil
}

type stack struct {
	srv     *server.GRPCServer
	history *projection.SwapHistory
	metrics *observability.Metrics
}

// newStack runs a sequencer over a fresh engine and wires a server to it.
// Applied swaps land in the in-memory history.
func newStack(t *testing.T, mutate func(*server.Deps)) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	publish := make(chan core.CoreOutput, 64)
	engine := testutil.NewEngine(t, nil)
	engine.AttachOutputs(nil, publish)

	history := projection.NewSwapHistory(50)
	go projection.NewProjectionWorker(nil, history, publish, zerolog.Nop()).Run(ctx)

	seq := core.NewSequencer(engine, 16, zerolog.Nop())
	go seq.Run(ctx)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	deps := server.Deps{
		Intents: ingestion.NewIntentService(seq, metrics, zerolog.Nop()),
		Engine:  seq,
		Swaps:   server.HistorySwapStore(history),
		Metrics: metrics,
		Logger:  zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &stack{
		srv:     server.NewGRPCServer("", "", deps),
		history: history,
		metrics: metrics,
	}
}

func (s *stack) dial(t *testing.T) *grpc.ClientConn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lis := bufconn.Listen(1 << 20)
	go s.srv.Serve(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (s *stack) http(t *testing.T) *httptest.Server {
	t.Helper()
	handler, err := s.srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func swapPayload(pool, tokenIn string, amount string) jsoniter.RawMessage {
	return jsoniter.RawMessage(`{"pool_id":"` + pool + `","token_in":"` + tokenIn + `","amount_in":` + amount + `}`)
}

// ============================================================================
// gRPC
// ============================================================================

func TestGRPC_SubmitSwapAndReadBack(t *testing.T) {
	s := newStack(t, nil)
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	resp, err := client.SubmitIntent(ctx, &server.SubmitIntentRequest{
		EventType: "Swap",
		Payload:   swapPayload("mango-usdc", "usdc", "10"),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Result)
	assert.Equal(t, int64(1), resp.Result.Sequence)
	require.NotNil(t, resp.Result.Swap)
	assert.Equal(t, "mango", resp.Result.Swap.TokenOut)

	snap, err := client.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Sequence)
	assert.Equal(t, resp.Result.StateHash, snap.StateHash)
	assert.InDelta(t, 990.0, snap.Inventory["usdc"], 1e-9)

	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.QueryRequests.WithLabelValues("SubmitIntent", "OK")))
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.IntentsReceived.WithLabelValues("grpc", "applied")))
}

func TestGRPC_QuoteDoesNotMutate(t *testing.T) {
	s := newStack(t, nil)
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	q, err := client.Quote(ctx, &server.QuoteRequest{PoolID: "mango-limon", TokenIn: "mango", AmountIn: 10})
	require.NoError(t, err)
	assert.InDelta(t, 100*9.9855/(100+9.9855), q.Quote.AmountOut, 1e-6)

	snap, err := client.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Sequence)
}

func TestGRPC_ErrorCodes(t *testing.T) {
	s := newStack(t, nil)
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	cases := []struct {
		name string
		req  *server.SubmitIntentRequest
		code codes.Code
	}{
		{"unknown type", &server.SubmitIntentRequest{EventType: "Deposit", Payload: jsoniter.RawMessage(`{}`)}, codes.InvalidArgument},
		{"npc intent", &server.SubmitIntentRequest{EventType: "NPCSwap", Payload: swapPayload("mango-usdc", "usdc", "1")}, codes.InvalidArgument},
		{"malformed", &server.SubmitIntentRequest{EventType: "Swap", Payload: jsoniter.RawMessage(`{"pool":"x"}`)}, codes.InvalidArgument},
		{"unknown pool", &server.SubmitIntentRequest{EventType: "Swap", Payload: swapPayload("kiwi-usdc", "usdc", "1")}, codes.NotFound},
		{"insufficient", &server.SubmitIntentRequest{EventType: "Swap", Payload: swapPayload("mango-usdc", "usdc", "5000")}, codes.FailedPrecondition},
		{"no auction", &server.SubmitIntentRequest{EventType: "AdvanceAuctionBlock"}, codes.FailedPrecondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SubmitIntent(ctx, tc.req)
			assert.Equal(t, tc.code, status.Code(err), "%v", err)
		})
	}

	_, err := client.Quote(ctx, &server.QuoteRequest{PoolID: "nope", TokenIn: "usdc", AmountIn: 1})
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = client.Quote(ctx, &server.QuoteRequest{TokenIn: "usdc", AmountIn: 1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPC_DuplicateMessageID(t *testing.T) {
	s := newStack(t, nil)
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	req := &server.SubmitIntentRequest{EventType: "Swap", MsgID: "client-42", Payload: swapPayload("mango-usdc", "usdc", "1")}
	_, err := client.SubmitIntent(ctx, req)
	require.NoError(t, err)

	_, err = client.SubmitIntent(ctx, req)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestGRPC_PostgresOnlyCallsUnavailableInMemoryMode(t *testing.T) {
	s := newStack(t, nil)
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	_, err := client.ListEvents(ctx, &server.ListEventsRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
	_, err = client.VerifyIntegrity(ctx)
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.Equal(t, codes.Unavailable, status.Code(client.TakeSnapshot(ctx)))
	assert.Equal(t, codes.Unavailable, status.Code(client.RebuildProjections(ctx)))
	_, err = client.ListBalances(ctx, &server.ListBalancesRequest{})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPC_LedgerReads(t *testing.T) {
	ledger := &fakeLedger{}
	s := newStack(t, func(d *server.Deps) { d.Ledger = ledger })
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	balances, err := client.ListBalances(ctx, &server.ListBalancesRequest{AccountPrefix: "player:player:"})
	require.NoError(t, err)
	require.Len(t, balances.Balances, 1)
	assert.Equal(t, "player:player:usdc", balances.Balances[0].AccountPath)
	assert.Equal(t, int64(4), balances.Balances[0].AsOfSequence)

	journal, err := client.ListJournal(ctx, &server.ListJournalRequest{AccountPrefix: "pool:mango-usdc:", BeforeSequence: 9})
	require.NoError(t, err)
	require.Len(t, journal.Entries, 1)
	assert.Equal(t, int64(8), journal.Entries[0].Sequence)
	assert.Equal(t, 50.0, journal.Entries[0].Amount, "default page size")

	_, err = client.ListJournal(ctx, &server.ListJournalRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.Equal(t, []string{"player:player:", "pool:mango-usdc:"}, ledger.prefixes)
}

func TestGRPC_AdminCalls(t *testing.T) {
	snaps := &fakeSnapshotter{}
	rebuilt := 0
	events := &fakeEvents{report: &query.IntegrityReport{IsHealthy: false, HashChainBreaks: []int64{3}}}
	s := newStack(t, func(d *server.Deps) {
		d.Events = events
		d.Snapshots = snaps
		d.Rebuild = func(context.Context) error { rebuilt++; return nil }
	})
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	report, err := client.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{3}, report.HashChainBreaks)

	list, err := client.ListEvents(ctx, &server.ListEventsRequest{PoolID: "mango-usdc"})
	require.NoError(t, err)
	require.Len(t, list.Events, 1)
	assert.Equal(t, "mango-usdc", list.Events[0].PoolID)

	require.NoError(t, client.TakeSnapshot(ctx))
	require.NoError(t, client.RebuildProjections(ctx))
	assert.Equal(t, 1, snaps.taken)
	assert.Equal(t, 1, rebuilt)

	events.err = errors.New("db down")
	_, err = client.ListEvents(ctx, &server.ListEventsRequest{})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestGRPC_HealthService(t *testing.T) {
	s := newStack(t, nil)
	resp, err := healthpb.NewHealthClient(s.dial(t)).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: server.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

// ============================================================================
// HTTP gateway
// ============================================================================

func TestHTTP_SubmitAndListSwaps(t *testing.T) {
	s := newStack(t, nil)
	ts := s.http(t)

	resp, err := http.Post(ts.URL+"/v1/intents/Swap", "application/json",
		strings.NewReader(`{"pool_id":"mango-usdc","token_in":"usdc","amount_in":10}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var submitted server.SubmitIntentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&submitted))
	assert.Equal(t, int64(1), submitted.Result.Sequence)

	// The projection worker is asynchronous.
	require.Eventually(t, func() bool {
		return len(s.history.QueryByPool("mango-usdc", 10)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	swapsResp, err := http.Get(ts.URL + "/v1/pools/mango-usdc/swaps?limit=5")
	require.NoError(t, err)
	defer swapsResp.Body.Close()
	require.Equal(t, http.StatusOK, swapsResp.StatusCode)

	var swaps server.ListSwapsResponse
	require.NoError(t, json.NewDecoder(swapsResp.Body).Decode(&swaps))
	require.Len(t, swaps.Swaps, 1)
	assert.Equal(t, core.PlayerID, swaps.Swaps[0].Trader)
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.IntentsReceived.WithLabelValues("http", "applied")))
}

func TestHTTP_IdempotencyHeader(t *testing.T) {
	s := newStack(t, nil)
	ts := s.http(t)

	post := func() int {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/intents/Swap",
			strings.NewReader(`{"pool_id":"mango-usdc","token_in":"usdc","amount_in":1}`))
		require.NoError(t, err)
		req.Header.Set(server.IdempotencyHeader, "retry-1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusConflict, post())
}

func TestHTTP_ErrorMapping(t *testing.T) {
	s := newStack(t, nil)
	ts := s.http(t)

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/v1/intents/Deposit", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/v1/intents/RemoveLiquidity", `{"pool_id":"mango-usdc","share_percent":50}`, http.StatusNotFound},
		{http.MethodGet, "/v1/quote?pool_id=mango-usdc&token_in=usdc&amount_in=abc", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/events?limit=x", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/events", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/v1/balances?account_prefix=player:", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/v1/journal", "", http.StatusBadRequest},
		{http.MethodGet, "/v1/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, ts.URL+tc.path, strings.NewReader(tc.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestHTTP_SnapshotQuoteAndHealth(t *testing.T) {
	s := newStack(t, func(d *server.Deps) {
		d.HealthChecker = observability.NewHealthChecker()
	})
	ts := s.http(t)

	resp, err := http.Get(ts.URL + "/v1/snapshot")
	require.NoError(t, err)
	var snap core.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	resp.Body.Close()
	assert.Len(t, snap.Pools, 3)
	assert.Len(t, snap.Tokens, 5)

	resp, err = http.Get(ts.URL + "/v1/quote?pool_id=mango-limon&token_in=mango&amount_in=10")
	require.NoError(t, err)
	var q server.QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&q))
	resp.Body.Close()
	assert.InDelta(t, 100*9.9855/(100+9.9855), q.Quote.AmountOut, 1e-6)

	resp, err = http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCountdown_GRPCAndHTTP(t *testing.T) {
	s := newStack(t, func(d *server.Deps) {
		d.Countdown = countdown.NewTimer(zerolog.Nop())
	})
	client := server.NewSimulatorClient(s.dial(t))
	ctx := context.Background()

	got, err := client.GetCountdown(ctx)
	require.NoError(t, err)
	assert.False(t, got.Active)

	got, err = client.StartCountdown(ctx, &server.StartCountdownRequest{Name: "flash-sale", Seconds: 30})
	require.NoError(t, err)
	require.True(t, got.Active)
	assert.Equal(t, 30, got.Event.Remaining)

	_, err = client.StartCountdown(ctx, &server.StartCountdownRequest{Seconds: 5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	ts := s.http(t)
	resp, err := http.Get(ts.URL + "/v1/countdown")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body server.CountdownResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Active)
	assert.Equal(t, "flash-sale", body.Event.Name)
}
