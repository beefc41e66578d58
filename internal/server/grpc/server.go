// Package grpc hosts the gRPC server and the request admission pipeline.
// Business services register themselves through ServiceRegistrar callbacks.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Admitter decides whether an authenticated account may call an operation.
type Admitter interface {
	Admit(ctx context.Context, accountID, operation string) error
}

// ServiceRegistrar registers one service implementation on the server.
type ServiceRegistrar func(s grpc.ServiceRegistrar)

type GRPCServer struct {
	address    string
	logger     logging.Logger
	guard      Admitter
	jwtSecret  []byte
	publicOps  map[string]struct{}
	registrars []ServiceRegistrar
	health     *health.Server
	rejections *prometheus.CounterVec
}

func NewGRPCServer(cfg *config.Config, l logging.Logger, guard Admitter, registrars ...ServiceRegistrar) *GRPCServer {
	public := make(map[string]struct{}, len(cfg.PublicOperations))
	for _, op := range cfg.PublicOperations {
		public[op] = struct{}{}
	}
	return &GRPCServer{
		address:    cfg.EndpointAddrGRPC,
		logger:     l.With("module", "grpc_server"),
		guard:      guard,
		jwtSecret:  []byte(cfg.SecretKey),
		publicOps:  public,
		registrars: registrars,
		health:     health.NewServer(),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recordguard_admission_rejections_total",
			Help: "Requests refused by the admission pipeline by reason",
		}, []string{"reason"}),
	}
}

// Collectors returns the server's Prometheus collectors.
func (s *GRPCServer) Collectors() []prometheus.Collector {
	return []prometheus.Collector{s.rejections}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.accessTokenStreamInterceptor),
	)

	healthpb.RegisterHealthServer(srv, s.health)
	for _, register := range s.registrars {
		register(srv)
	}
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.newServer()
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.health.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}

// AddRegistrars appends service registrars. Call before Run.
func (s *GRPCServer) AddRegistrars(r ...ServiceRegistrar) {
	s.registrars = append(s.registrars, r...)
}
