package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"ammsim/internal/ingestion"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxIntentBody bounds HTTP intent payloads.
const maxIntentBody = 64 << 10

// IdempotencyHeader carries a client message id. Retries with the same id
// map to the same request id and are deduplicated by the engine.
const IdempotencyHeader = "Idempotency-Key"

type route struct {
	method, pattern string
	handler         runtime.HandlerFunc
}

// NewGatewayMux exposes the simulator service as HTTP/JSON:
//
//	POST /v1/intents/{event_type}
//	GET  /v1/snapshot
//	GET  /v1/quote?pool_id=&token_in=&amount_in=
//	GET  /v1/events?pool_id=&limit=&before_sequence=
//	GET  /v1/pools/{pool_id}/swaps?limit=
//	GET  /v1/balances?account_prefix=
//	GET  /v1/journal?account_prefix=&limit=&before_sequence=
//	GET  /v1/integrity
//	POST /v1/admin/snapshot
//	POST /v1/admin/rebuild-projections
//	GET  /v1/countdown
//	POST /v1/countdown
func NewGatewayMux(svc *SimulatorService) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodPost, "/v1/intents/{event_type}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIntentBody))
			if err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			resp, err := svc.submit(r.Context(), ingestion.SourceHTTP, &SubmitIntentRequest{
				EventType: params["event_type"],
				MsgID:     r.Header.Get(IdempotencyHeader),
				Payload:   body,
			})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/snapshot", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			snap, err := svc.GetSnapshot(r.Context(), &Empty{})
			respond(w, snap, err)
		}},
		{http.MethodGet, "/v1/quote", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			q := r.URL.Query()
			amount, err := strconv.ParseFloat(q.Get("amount_in"), 64)
			if err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "invalid amount_in: %v", err))
				return
			}
			resp, err := svc.Quote(r.Context(), &QuoteRequest{
				PoolID:   q.Get("pool_id"),
				TokenIn:  q.Get("token_in"),
				AmountIn: amount,
			})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/events", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			q := r.URL.Query()
			limit, err := intParam(q.Get("limit"))
			if err != nil {
				writeError(w, err)
				return
			}
			before, err := intParam(q.Get("before_sequence"))
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.ListEvents(r.Context(), &ListEventsRequest{
				PoolID:         q.Get("pool_id"),
				Limit:          int(limit),
				BeforeSequence: before,
			})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/pools/{pool_id}/swaps", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			limit, err := intParam(r.URL.Query().Get("limit"))
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.ListSwaps(r.Context(), &ListSwapsRequest{PoolID: params["pool_id"], Limit: int(limit)})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/balances", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.ListBalances(r.Context(), &ListBalancesRequest{AccountPrefix: r.URL.Query().Get("account_prefix")})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/journal", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			q := r.URL.Query()
			limit, err := intParam(q.Get("limit"))
			if err != nil {
				writeError(w, err)
				return
			}
			before, err := intParam(q.Get("before_sequence"))
			if err != nil {
				writeError(w, err)
				return
			}
			resp, err := svc.ListJournal(r.Context(), &ListJournalRequest{
				AccountPrefix:  q.Get("account_prefix"),
				Limit:          int(limit),
				BeforeSequence: before,
			})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			report, err := svc.VerifyIntegrity(r.Context(), &Empty{})
			respond(w, report, err)
		}},
		{http.MethodPost, "/v1/admin/snapshot", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.TakeSnapshot(r.Context(), &Empty{})
			respond(w, resp, err)
		}},
		{http.MethodPost, "/v1/admin/rebuild-projections", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.RebuildProjections(r.Context(), &Empty{})
			respond(w, resp, err)
		}},
		{http.MethodGet, "/v1/countdown", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := svc.GetCountdown(r.Context(), &Empty{})
			respond(w, resp, err)
		}},
		{http.MethodPost, "/v1/countdown", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			var req StartCountdownRequest
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIntentBody)).Decode(&req); err != nil {
				writeError(w, status.Errorf(codes.InvalidArgument, "decode body: %v", err))
				return
			}
			resp, err := svc.StartCountdown(r.Context(), &req)
			respond(w, resp, err)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func intParam(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid integer %q", raw)
	}
	return v, nil
}

func respond(w http.ResponseWriter, body interface{}, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(toStatus(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	json.NewEncoder(w).Encode(errorBody{Code: st.Code().String(), Message: st.Message()})
}
