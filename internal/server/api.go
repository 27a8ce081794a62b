package server

import (
	"context"

	"ammsim/internal/core"
	"ammsim/internal/countdown"
	"ammsim/internal/projection"
	"ammsim/internal/query"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ammsim.v1.SimulatorService"

type Empty struct{}

type SubmitIntentRequest struct {
	EventType string              `json:"event_type"`
	MsgID     string              `json:"msg_id,omitempty"`
	Payload   jsoniter.RawMessage `json:"payload"`
}

type SubmitIntentResponse struct {
	Result *core.Result `json:"result"`
}

type QuoteRequest struct {
	PoolID   string  `json:"pool_id"`
	TokenIn  string  `json:"token_in"`
	AmountIn float64 `json:"amount_in"`
}

type QuoteResponse struct {
	Quote core.SwapResult `json:"quote"`
}

type ListEventsRequest struct {
	PoolID         string `json:"pool_id,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListEventsResponse struct {
	Events []query.EventEntry `json:"events"`
}

type ListSwapsRequest struct {
	PoolID string `json:"pool_id"`
	Limit  int    `json:"limit,omitempty"`
}

type ListSwapsResponse struct {
	Swaps []projection.SwapRecord `json:"swaps"`
}

type ListBalancesRequest struct {
	AccountPrefix string `json:"account_prefix,omitempty"`
}

type ListBalancesResponse struct {
	Balances []query.BalanceResponse `json:"balances"`
}

type ListJournalRequest struct {
	AccountPrefix  string `json:"account_prefix"`
	Limit          int    `json:"limit,omitempty"`
	BeforeSequence int64  `json:"before_sequence,omitempty"`
}

type ListJournalResponse struct {
	Entries []query.JournalHistoryEntry `json:"entries"`
}

type StartCountdownRequest struct {
	Name    string `json:"name"`
	Seconds int    `json:"seconds"`
}

type CountdownResponse struct {
	Active bool             `json:"active"`
	Event  *countdown.Event `json:"event,omitempty"`
}

// SimulatorServer is the server API of ammsim.v1.SimulatorService.
type SimulatorServer interface {
	SubmitIntent(context.Context, *SubmitIntentRequest) (*SubmitIntentResponse, error)
	GetSnapshot(context.Context, *Empty) (*core.Snapshot, error)
	Quote(context.Context, *QuoteRequest) (*QuoteResponse, error)
	ListEvents(context.Context, *ListEventsRequest) (*ListEventsResponse, error)
	ListSwaps(context.Context, *ListSwapsRequest) (*ListSwapsResponse, error)
	ListBalances(context.Context, *ListBalancesRequest) (*ListBalancesResponse, error)
	ListJournal(context.Context, *ListJournalRequest) (*ListJournalResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
	TakeSnapshot(context.Context, *Empty) (*Empty, error)
	RebuildProjections(context.Context, *Empty) (*Empty, error)
	StartCountdown(context.Context, *StartCountdownRequest) (*CountdownResponse, error)
	GetCountdown(context.Context, *Empty) (*CountdownResponse, error)
}

// SimulatorServiceDesc describes the service for grpc.Server.RegisterService.
var SimulatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SimulatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitIntent", SimulatorServer.SubmitIntent),
		unary("GetSnapshot", SimulatorServer.GetSnapshot),
		unary("Quote", SimulatorServer.Quote),
		unary("ListEvents", SimulatorServer.ListEvents),
		unary("ListSwaps", SimulatorServer.ListSwaps),
		unary("ListBalances", SimulatorServer.ListBalances),
		unary("ListJournal", SimulatorServer.ListJournal),
		unary("VerifyIntegrity", SimulatorServer.VerifyIntegrity),
		unary("TakeSnapshot", SimulatorServer.TakeSnapshot),
		unary("RebuildProjections", SimulatorServer.RebuildProjections),
		unary("StartCountdown", SimulatorServer.StartCountdown),
		unary("GetCountdown", SimulatorServer.GetCountdown),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ammsim/v1/simulator",
}

func unary[Req, Resp any](method string, call func(SimulatorServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SimulatorServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(SimulatorServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// SimulatorClient calls ammsim.v1.SimulatorService over the JSON codec.
type SimulatorClient struct {
	cc grpc.ClientConnInterface
}

func NewSimulatorClient(cc grpc.ClientConnInterface) *SimulatorClient {
	return &SimulatorClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, c *SimulatorClient, method string, in interface{}, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SimulatorClient) SubmitIntent(ctx context.Context, in *SubmitIntentRequest, opts ...grpc.CallOption) (*SubmitIntentResponse, error) {
	return invoke[SubmitIntentResponse](ctx, c, "SubmitIntent", in, opts)
}

func (c *SimulatorClient) GetSnapshot(ctx context.Context, opts ...grpc.CallOption) (*core.Snapshot, error) {
	return invoke[core.Snapshot](ctx, c, "GetSnapshot", &Empty{}, opts)
}

func (c *SimulatorClient) Quote(ctx context.Context, in *QuoteRequest, opts ...grpc.CallOption) (*QuoteResponse, error) {
	return invoke[QuoteResponse](ctx, c, "Quote", in, opts)
}

func (c *SimulatorClient) ListEvents(ctx context.Context, in *ListEventsRequest, opts ...grpc.CallOption) (*ListEventsResponse, error) {
	return invoke[ListEventsResponse](ctx, c, "ListEvents", in, opts)
}

func (c *SimulatorClient) ListSwaps(ctx context.Context, in *ListSwapsRequest, opts ...grpc.CallOption) (*ListSwapsResponse, error) {
	return invoke[ListSwapsResponse](ctx, c, "ListSwaps", in, opts)
}

func (c *SimulatorClient) ListBalances(ctx context.Context, in *ListBalancesRequest, opts ...grpc.CallOption) (*ListBalancesResponse, error) {
	return invoke[ListBalancesResponse](ctx, c, "ListBalances", in, opts)
}

func (c *SimulatorClient) ListJournal(ctx context.Context, in *ListJournalRequest, opts ...grpc.CallOption) (*ListJournalResponse, error) {
	return invoke[ListJournalResponse](ctx, c, "ListJournal", in, opts)
}

func (c *SimulatorClient) VerifyIntegrity(ctx context.Context, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	return invoke[query.IntegrityReport](ctx, c, "VerifyIntegrity", &Empty{}, opts)
}

func (c *SimulatorClient) TakeSnapshot(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[Empty](ctx, c, "TakeSnapshot", &Empty{}, opts)
	return err
}

func (c *SimulatorClient) RebuildProjections(ctx context.Context, opts ...grpc.CallOption) error {
	_, err := invoke[Empty](ctx, c, "RebuildProjections", &Empty{}, opts)
	return err
}

func (c *SimulatorClient) StartCountdown(ctx context.Context, in *StartCountdownRequest, opts ...grpc.CallOption) (*CountdownResponse, error) {
	return invoke[CountdownResponse](ctx, c, "StartCountdown", in, opts)
}

func (c *SimulatorClient) GetCountdown(ctx context.Context, opts ...grpc.CallOption) (*CountdownResponse, error) {
	return invoke[CountdownResponse](ctx, c, "GetCountdown", &Empty{}, opts)
}
