// Package health is C8: system info and health, grounded on the teacher's
// cmd/store-server/main.go wiring of google.golang.org/grpc/health (a
// health.Server registered against the gRPC server, with the overall status
// set once from a Check taken when the server is built).
package health

import (
	"context"
	"database/sql"
	"sync"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Checker tracks liveness of the vector and graph Postgres connections and
// exposes it through a grpc/health Server, following the teacher's pattern
// of a single health.Server shared across every registered service.
type Checker struct {
	mu     sync.Mutex
	vector *sql.DB
	graph  *sql.DB
}

// New constructs a Checker over the (possibly shared) vector/graph DB
// handles.
func New(vector, graph *sql.DB) *Checker {
	return &Checker{vector: vector, graph: graph}
}

// Status is the system info snapshot surfaced by a health/status RPC or
// CLI command.
type Status struct {
	VectorStoreUp bool
	GraphStoreUp  bool
}

// Check pings both backing stores and reports their reachability.
func (c *Checker) Check(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{}
	if c.vector != nil {
		st.VectorStoreUp = c.vector.PingContext(ctx) == nil
	}
	if c.graph != nil {
		st.GraphStoreUp = c.graph.PingContext(ctx) == nil
	}
	return st
}

// ServingStatus maps a Status onto the grpc_health_v1 vocabulary: SERVING
// only when every backing store answers, NOT_SERVING otherwise (vector-only
// degraded mode still answers search per §4.6's fallback, but is not
// "fully serving").
func (st Status) ServingStatus() healthpb.HealthCheckResponse_ServingStatus {
	if st.VectorStoreUp && st.GraphStoreUp {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// NewGRPCHealthServer builds a grpc/health Server seeded with the current
// Check() result under the "" (overall) service name, matching the
// teacher's healthSrv.SetServingStatus("", ...) call in
// cmd/store-server/main.go.
func NewGRPCHealthServer(ctx context.Context, c *Checker) *grpchealth.Server {
	srv := grpchealth.NewServer()
	srv.SetServingStatus("", c.Check(ctx).ServingStatus())
	return srv
}
