// Package grpc serves the machine-client API: register, login, profile and
// redeem over gRPC with a JSON codec.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/licensekeeper/internal/logging"
	"github.com/dmitrijs2005/licensekeeper/internal/server/metrics"
	"github.com/dmitrijs2005/licensekeeper/internal/server/services"
	"google.golang.org/grpc"
)

// LicenseService is the business logic behind the gRPC surface.
type LicenseService interface {
	Register(ctx context.Context, username, password, fingerprint string) error
	Login(ctx context.Context, username, password, fingerprint string) (string, error)
	Authenticate(ctx context.Context, token string) (string, error)
	Profile(ctx context.Context, username, fingerprint string) (*services.Profile, error)
	Redeem(ctx context.Context, username, code string) (*services.Redemption, error)
}

type GRPCServer struct {
	address string
	license LicenseService
	metrics *metrics.Metrics
	logger  logging.Logger
}

func NewGRPCServer(a string, l logging.Logger, ls LicenseService, m *metrics.Metrics) *GRPCServer {
	return &GRPCServer{
		address: a,
		logger:  l.With("module", "grpc_server"),
		license: ls,
		metrics: m,
	}
}

func (s *GRPCServer) newServer() *grpc.Server {
	srv := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.ChainUnaryInterceptor(s.metricsInterceptor, s.accessTokenInterceptor),
	)
	srv.RegisterService(&serviceDesc, s)
	return srv
}

func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	return s.serve(ctx, listen)
}

func (s *GRPCServer) serve(ctx context.Context, listen net.Listener) error {
	srv := s.newServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gPRC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
