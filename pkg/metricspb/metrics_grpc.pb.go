package metricspb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MetricsClient is the coordinator-side stub for the Metrics RPC service
// one Query call per querier sub-request.
type MetricsClient interface {
	Query(ctx context.Context, in *MetricsQueryRequest, opts ...grpc.CallOption) (*MetricsQueryResponse, error)
}

type metricsClient struct {
	cc grpc.ClientConnInterface
}

// NewMetricsClient wraps an established connection to one querier node.
func NewMetricsClient(cc grpc.ClientConnInterface) MetricsClient {
	return &metricsClient{cc: cc}
}

func (c *metricsClient) Query(ctx context.Context, in *MetricsQueryRequest, opts ...grpc.CallOption) (*MetricsQueryResponse, error) {
	out := new(MetricsQueryResponse)
	if err := c.cc.Invoke(ctx, "/metricspb.Metrics/Query", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MetricsServer is implemented by the querier process.
type MetricsServer interface {
	Query(context.Context, *MetricsQueryRequest) (*MetricsQueryResponse, error)
}

// UnimplementedMetricsServer may be embedded to satisfy MetricsServer for
// forward compatibility with new methods.
type UnimplementedMetricsServer struct{}

func (UnimplementedMetricsServer) Query(context.Context, *MetricsQueryRequest) (*MetricsQueryResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Query not implemented")
}

func RegisterMetricsServer(s grpc.ServiceRegistrar, srv MetricsServer) {
	s.RegisterService(&metricsServiceDesc, srv)
}

func metricsQueryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MetricsQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MetricsServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/metricspb.Metrics/Query"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MetricsServer).Query(ctx, req.(*MetricsQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var metricsServiceDesc = grpc.ServiceDesc{
	ServiceName: "metricspb.Metrics",
	HandlerType: (*MetricsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: metricsQueryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "metricspb/metrics.proto",
}

// IngesterClient is the querier-side stub for the ingester's RemoteScan
// flight-style RPC.
type IngesterClient interface {
	RemoteScan(ctx context.Context, in *RemoteScanRequest, opts ...grpc.CallOption) (*RemoteScanResponse, error)
}

type ingesterClient struct {
	cc grpc.ClientConnInterface
}

func NewIngesterClient(cc grpc.ClientConnInterface) IngesterClient {
	return &ingesterClient{cc: cc}
}

func (c *ingesterClient) RemoteScan(ctx context.Context, in *RemoteScanRequest, opts ...grpc.CallOption) (*RemoteScanResponse, error) {
	out := new(RemoteScanResponse)
	if err := c.cc.Invoke(ctx, "/metricspb.Ingester/RemoteScan", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// IngesterServer is implemented by the ingester process.
type IngesterServer interface {
	RemoteScan(context.Context, *RemoteScanRequest) (*RemoteScanResponse, error)
}

type UnimplementedIngesterServer struct{}

func (UnimplementedIngesterServer) RemoteScan(context.Context, *RemoteScanRequest) (*RemoteScanResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoteScan not implemented")
}

func RegisterIngesterServer(s grpc.ServiceRegistrar, srv IngesterServer) {
	s.RegisterService(&ingesterServiceDesc, srv)
}

func ingesterRemoteScanHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoteScanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IngesterServer).RemoteScan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/metricspb.Ingester/RemoteScan"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IngesterServer).RemoteScan(ctx, req.(*RemoteScanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var ingesterServiceDesc = grpc.ServiceDesc{
	ServiceName: "metricspb.Ingester",
	HandlerType: (*IngesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RemoteScan", Handler: ingesterRemoteScanHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "metricspb/metrics.proto",
}
