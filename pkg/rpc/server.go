package rpc

import (
	"google.golang.org/grpc"

	"github.com/openobserve/promql-engine/pkg/metricspb"
)

// NewServer wires a querier's metricspb.MetricsServer implementation onto
// a fresh grpc.Server, the server half of the Dialer/MetricsClient pair
// above.
func NewServer(querier metricspb.MetricsServer) *grpc.Server {
	s := grpc.NewServer()
	metricspb.RegisterMetricsServer(s, querier)
	return s
}
