package workloads

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/anypb"
)

// -------------------------------------------------------------------------
// BGP Route Injection
// -------------------------------------------------------------------------

const (
	defaultRouteCount = 100
	defaultNextHop    = "192.0.2.1"
	defaultBGPTimeout = 5 * time.Second
)

// BGPConfig parameterizes the route injector.
type BGPConfig struct {
	// GRPCAddr is the gobgpd API endpoint (e.g., "127.0.0.1:50051").
	GRPCAddr string

	// Timeout bounds one API call; zero selects 5s.
	Timeout time.Duration

	// Routes is the number of synthetic /24 prefixes announced out of
	// the 198.18.0.0/15 benchmarking range; zero selects 100.
	Routes int

	// NextHop is the next hop attribute on every announced path.
	NextHop string
}

// RouteInjector drives a local gobgpd through its gRPC API: on start it
// announces a block of benchmarking prefixes, on stop it withdraws
// them. The gobgpd instance owns the actual BGP sessions; this workload
// only feeds its RIB.
type RouteInjector struct {
	cfg BGPConfig
	log *slog.Logger
}

// NewRouteInjector creates the injector.
func NewRouteInjector(cfg BGPConfig, logger *slog.Logger) *RouteInjector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Routes <= 0 {
		cfg.Routes = defaultRouteCount
	}
	if cfg.NextHop == "" {
		cfg.NextHop = defaultNextHop
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBGPTimeout
	}

	return &RouteInjector{
		cfg: cfg,
		log: logger.With(slog.String("component", "bgp"), slog.String("addr", cfg.GRPCAddr)),
	}
}

// Name implements Workload.
func (r *RouteInjector) Name() string { return "bgp" }

// Run announces the route block, holds it until ctx is cancelled, then
// withdraws it. The withdraw runs on a fresh context so cancellation
// does not strand routes in the RIB.
func (r *RouteInjector) Run(ctx context.Context) error {
	conn, err := grpc.NewClient(
		r.cfg.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("create gobgp client to %s: %w", r.cfg.GRPCAddr, err)
	}
	defer conn.Close()

	api := apipb.NewGobgpApiClient(conn)

	announced, err := r.announce(ctx, api)
	if err != nil {
		r.withdraw(api, announced)
		return err
	}

	r.log.Info("routes announced", slog.Int("count", len(announced)))

	<-ctx.Done()

	r.withdraw(api, announced)
	r.log.Info("routes withdrawn", slog.Int("count", len(announced)))

	return ctx.Err()
}

// announce adds the synthetic prefixes one by one, returning the paths
// actually installed so a partial failure withdraws cleanly.
func (r *RouteInjector) announce(ctx context.Context, api apipb.GobgpApiClient) ([]*apipb.Path, error) {
	announced := make([]*apipb.Path, 0, r.cfg.Routes)

	for i := 0; i < r.cfg.Routes; i++ {
		path, err := r.benchmarkPath(i)
		if err != nil {
			return announced, err
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		_, err = api.AddPath(callCtx, &apipb.AddPathRequest{
			TableType: apipb.TableType_GLOBAL,
			Path:      path,
		})
		cancel()

		if err != nil {
			return announced, fmt.Errorf("add path %d: %w", i, err)
		}

		announced = append(announced, path)
	}

	return announced, nil
}

// withdraw removes previously announced paths on a background context.
func (r *RouteInjector) withdraw(api apipb.GobgpApiClient, paths []*apipb.Path) {
	for _, path := range paths {
		callCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		_, err := api.DeletePath(callCtx, &apipb.DeletePathRequest{
			TableType: apipb.TableType_GLOBAL,
			Path:      path,
		})
		cancel()

		if err != nil {
			r.log.Warn("withdraw failed", slog.Any("error", err))
		}
	}
}

// benchmarkPath builds the i-th /24 out of 198.18.0.0/15 (RFC 2544
// benchmarking range) as a gobgp API path.
func (r *RouteInjector) benchmarkPath(i int) (*apipb.Path, error) {
	prefix := fmt.Sprintf("198.%d.%d.0", 18+(i/256)%2, i%256)

	nlri, err := anypb.New(&apipb.IPAddressPrefix{Prefix: prefix, PrefixLen: 24})
	if err != nil {
		return nil, fmt.Errorf("encode nlri %s/24: %w", prefix, err)
	}

	origin, err := anypb.New(&apipb.OriginAttribute{Origin: 0})
	if err != nil {
		return nil, fmt.Errorf("encode origin attribute: %w", err)
	}

	nextHop, err := anypb.New(&apipb.NextHopAttribute{NextHop: r.cfg.NextHop})
	if err != nil {
		return nil, fmt.Errorf("encode next hop attribute: %w", err)
	}

	return &apipb.Path{
		Family: &apipb.Family{
			Afi:  apipb.Family_AFI_IP,
			Safi: apipb.Family_SAFI_UNICAST,
		},
		Nlri:   nlri,
		Pattrs: []*anypb.Any{origin, nextHop},
	}, nil
}
