package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "collab.v1.Sessions"

// CreateTokenRequest asks for a connection token for the calling user.
type CreateTokenRequest struct {
	DesignID       string `json:"designId"`
	Secret         string `json:"secret"`
	ContentVersion int64  `json:"contentVersion,omitempty"`
}

// CreateTokenResponse carries the issued token id.
type CreateTokenResponse struct {
	UUID string `json:"uuid"`
	User string `json:"user"`
}

// ValidateTokenRequest consumes a connection token.
type ValidateTokenRequest struct {
	UUID     string `json:"uuid"`
	DesignID string `json:"designId"`
	Secret   string `json:"secret"`
}

// ValidateTokenResponse carries the content version bound to the token.
type ValidateTokenResponse struct {
	ContentVersion int64 `json:"contentVersion"`
}

// RollupRequest asks for an immediate rollup of a design.
type RollupRequest struct {
	DesignID string `json:"designId"`
}

// RollupResponse reports the new snapshot version, 0 when nothing was pending.
type RollupResponse struct {
	ContentVersion int64 `json:"contentVersion"`
}

// ListEditorsRequest names the design to inspect.
type ListEditorsRequest struct {
	DesignID string `json:"designId"`
}

// Editor is one connection editing a design on this node.
type Editor struct {
	User      string `json:"user"`
	SessionID string `json:"sessionId"`
}

// ListEditorsResponse lists the local editors of a design.
type ListEditorsResponse struct {
	Editors []Editor `json:"editors"`
}

// SessionsServer is the server API of collab.v1.Sessions.
type SessionsServer interface {
	CreateToken(context.Context, *CreateTokenRequest) (*CreateTokenResponse, error)
	ValidateToken(context.Context, *ValidateTokenRequest) (*ValidateTokenResponse, error)
	Rollup(context.Context, *RollupRequest) (*RollupResponse, error)
	ListEditors(context.Context, *ListEditorsRequest) (*ListEditorsResponse, error)
}

func unary[Req, Resp any](name string, call func(SessionsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if ic == nil {
				return call(srv.(SessionsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SessionsServer), ctx, req.(*Req))
			})
		},
	}
}

// SessionsServiceDesc describes collab.v1.Sessions for grpc.Server.RegisterService.
var SessionsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SessionsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateToken", SessionsServer.CreateToken),
		unary("ValidateToken", SessionsServer.ValidateToken),
		unary("Rollup", SessionsServer.Rollup),
		unary("ListEditors", SessionsServer.ListEditors),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "collab/v1/sessions",
}

// RegisterSessionsServer registers srv on s.
func RegisterSessionsServer(s grpc.ServiceRegistrar, srv SessionsServer) {
	s.RegisterService(&SessionsServiceDesc, srv)
}

// Client calls collab.v1.Sessions over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient constructs Client.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// CreateToken issues a connection token.
func (c *Client) CreateToken(ctx context.Context, in *CreateTokenRequest, opts ...grpc.CallOption) (*CreateTokenResponse, error) {
	out := new(CreateTokenResponse)
	if err := c.invoke(ctx, "CreateToken", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateToken consumes a connection token.
func (c *Client) ValidateToken(ctx context.Context, in *ValidateTokenRequest, opts ...grpc.CallOption) (*ValidateTokenResponse, error) {
	out := new(ValidateTokenResponse)
	if err := c.invoke(ctx, "ValidateToken", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Rollup rolls up a design now.
func (c *Client) Rollup(ctx context.Context, in *RollupRequest, opts ...grpc.CallOption) (*RollupResponse, error) {
	out := new(RollupResponse)
	if err := c.invoke(ctx, "Rollup", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// ListEditors lists the editors connected to this node.
func (c *Client) ListEditors(ctx context.Context, in *ListEditorsRequest, opts ...grpc.CallOption) (*ListEditorsResponse, error) {
	out := new(ListEditorsResponse)
	if err := c.invoke(ctx, "ListEditors", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
