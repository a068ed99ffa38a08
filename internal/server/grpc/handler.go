package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/licensekeeper/internal/common"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps a service error to a gRPC status. Forbidden decisions keep
// their reason in the message.
func toStatus(err error) error {
	switch {
	case errors.Is(err, common.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, common.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, common.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, common.ErrConflict):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func (s *GRPCServer) Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {

	s.logger.Info(ctx, "Registration request", "username", req.Username)

	if err := s.license.Register(ctx, req.Username, req.Password, req.Fingerprint); err != nil {
		return nil, toStatus(err)
	}

	return &RegisterResponse{Message: "registered"}, nil

}

func (s *GRPCServer) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {

	token, err := s.license.Login(ctx, req.Username, req.Password, req.Fingerprint)
	if err != nil {
		return nil, toStatus(err)
	}

	return &LoginResponse{AccessToken: token}, nil

}

func (s *GRPCServer) Profile(ctx context.Context, req *ProfileRequest) (*ProfileResponse, error) {

	p, err := s.license.Profile(ctx, usernameFrom(ctx), req.Fingerprint)
	if err != nil {
		return nil, toStatus(err)
	}

	return &ProfileResponse{Username: p.Username, Plan: string(p.Plan), DaysLeft: p.DaysLeft, PaidUntil: p.PaidUntil}, nil

}

func (s *GRPCServer) Redeem(ctx context.Context, req *RedeemRequest) (*RedeemResponse, error) {

	res, err := s.license.Redeem(ctx, usernameFrom(ctx), req.Code)
	if err != nil {
		return nil, toStatus(err)
	}

	return &RedeemResponse{Days: res.Days, PaidUntil: res.PaidUntil}, nil

}

func (s *GRPCServer) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {

	return &PingResponse{Status: "OK"}, nil

}
