package grpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "licensekeeper.v1.LicenseService"

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// LicenseServer is implemented by GRPCServer.
type LicenseServer interface {
	Register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error)
	Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error)
	Profile(ctx context.Context, req *ProfileRequest) (*ProfileResponse, error)
	Redeem(ctx context.Context, req *RedeemRequest) (*RedeemResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

func unary[Req, Resp any](name string, call func(LicenseServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LicenseServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LicenseServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LicenseServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", LicenseServer.Register),
		unary("Login", LicenseServer.Login),
		unary("Profile", LicenseServer.Profile),
		unary("Redeem", LicenseServer.Redeem),
		unary("Ping", LicenseServer.Ping),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "licensekeeper/v1/license",
}

// Client calls the license service over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *Client, name string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.ForceCodec(jsonCodec{}))
	if err := c.conn.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c, "Register", in, opts...)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c, "Login", in, opts...)
}

func (c *Client) Profile(ctx context.Context, in *ProfileRequest, opts ...grpc.CallOption) (*ProfileResponse, error) {
	return invoke[ProfileResponse](ctx, c, "Profile", in, opts...)
}

func (c *Client) Redeem(ctx context.Context, in *RedeemRequest, opts ...grpc.CallOption) (*RedeemResponse, error) {
	return invoke[RedeemResponse](ctx, c, "Redeem", in, opts...)
}

func (c *Client) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c, "Ping", in, opts...)
}
