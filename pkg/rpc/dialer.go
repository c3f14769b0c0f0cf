// Package rpc is the concrete gRPC transport binding the Metrics/Ingester
// service contracts (pkg/metricspb) to network connections: a pooled,
// circuit-breaker-wrapped client dialer for modules/coordinator and
// pkg/walscanner, and a server constructor for modules/querier. The RPC
// message shapes themselves are an external contract; this
// package only owns getting bytes onto the wire.
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/prometheus/model/labels"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openobserve/promql-engine/pkg/metricspb"
	"github.com/openobserve/promql-engine/pkg/walscanner"
)

// breakerSettings mirrors pkg/walscanner's per-node circuit breaker
// tuning: trip after 5 consecutive failures, half-open after 30s. Dialer
// and IngesterDialer both guard their remote calls with one of these per
// node so a single down node can't be hammered by every concurrent query.
func breakerSettings(name string) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
}

// connPool dials each address at most once and reuses the connection,
// matching grpc.ClientConn's own intended lifecycle (long-lived, not
// per-call).
type connPool struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func newConnPool() *connPool {
	return &connPool{conns: make(map[string]*grpc.ClientConn)}
}

func (p *connPool) get(addr string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cc, ok := p.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	p.conns[addr] = cc
	return cc, nil
}

// Dialer implements coordinator.Dialer over real gRPC connections.
type Dialer struct {
	pool     *connPool
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewDialer() *Dialer {
	return &Dialer{pool: newConnPool(), breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (d *Dialer) breakerFor(addr string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(breakerSettings("querier:" + addr))
	d.breakers[addr] = cb
	return cb
}

// Dial returns a metricspb.MetricsClient guarded by a per-address circuit
// breaker, satisfying modules/coordinator.Dialer.
func (d *Dialer) Dial(_ context.Context, addr string) (metricspb.MetricsClient, error) {
	cc, err := d.pool.get(addr)
	if err != nil {
		return nil, err
	}
	return breakerClient{addr: addr, client: metricspb.NewMetricsClient(cc), breaker: d.breakerFor(addr)}, nil
}

type breakerClient struct {
	addr    string
	client  metricspb.MetricsClient
	breaker *gobreaker.CircuitBreaker
}

func (c breakerClient) Query(ctx context.Context, req *metricspb.MetricsQueryRequest, opts ...grpc.CallOption) (*metricspb.MetricsQueryResponse, error) {
	resp, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.Query(ctx, req, opts...)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*metricspb.MetricsQueryResponse), nil
}

// IngesterDialer implements pkg/walscanner.IngesterDialer over real gRPC
// connections to ingester nodes, translating matchers to the wire's JSON
// encoding (metricspb.RemoteScanRequest.MatchersJson).
type IngesterDialer struct {
	pool     *connPool
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewIngesterDialer() *IngesterDialer {
	return &IngesterDialer{pool: newConnPool(), breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (d *IngesterDialer) breakerFor(addr string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[addr]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(breakerSettings("ingester:" + addr))
	d.breakers[addr] = cb
	return cb
}

func (d *IngesterDialer) RemoteScan(ctx context.Context, node string, req walscanner.RemoteScanRequest) (walscanner.RemoteScanResult, error) {
	cc, err := d.pool.get(node)
	if err != nil {
		return walscanner.RemoteScanResult{}, err
	}
	client := metricspb.NewIngesterClient(cc)

	matchersJSON, err := marshalMatchers(req.Matchers)
	if err != nil {
		return walscanner.RemoteScanResult{}, err
	}

	breaker := d.breakerFor(node)
	result, err := breaker.Execute(func() (interface{}, error) {
		return client.RemoteScan(ctx, &metricspb.RemoteScanRequest{
			TraceId:       req.TraceID,
			OrgId:         req.Org,
			Stream:        req.Stream,
			Start:         req.Start,
			End:           req.End,
			MatchersJson:  matchersJSON,
			LabelSelector: req.LabelSelector,
		})
	})
	if err != nil {
		return walscanner.RemoteScanResult{}, err
	}

	resp := result.(*metricspb.RemoteScanResponse)
	return walscanner.RemoteScanResult{
		Series:       fromSeriesResultsRange(resp.Series),
		FilesScanned: int(resp.FilesScanned),
	}, nil
}

type matcherJSON struct {
	Type  int    `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

func marshalMatchers(matchers []*labels.Matcher) (string, error) {
	out := make([]matcherJSON, 0, len(matchers))
	for _, m := range matchers {
		out = append(out, matcherJSON{Type: int(m.Type), Name: m.Name, Value: m.Value})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
