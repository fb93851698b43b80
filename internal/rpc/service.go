package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"

	"gossipstore/internal/api"
	"gossipstore/internal/gossip"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "gossipstore.KV"

const (
	putMethod    = "/" + ServiceName + "/Put"
	getMethod    = "/" + ServiceName + "/Get"
	gossipMethod = "/" + ServiceName + "/Gossip"
	statusMethod = "/" + ServiceName + "/Status"
)

// KVServer is the server API for the KV service.
type KVServer interface {
	Put(context.Context, *api.PutRequest) (*api.PutResponse, error)
	Get(context.Context, *api.GetRequest) (*api.GetResponse, error)
	Gossip(context.Context, *gossip.Message) (*emptypb.Empty, error)
	Status(context.Context, *api.StatusRequest) (*api.StatusResponse, error)
}

// RegisterKVServer registers srv with s.
func RegisterKVServer(s grpc.ServiceRegistrar, srv KVServer) {
	s.RegisterService(&kvServiceDesc, srv)
}

var kvServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KVServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Gossip", Handler: gossipHandler},
		{MethodName: "Status", Handler: statusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gossipstore/kv",
}

func putHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.PutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KVServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: putMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KVServer).Put(ctx, req.(*api.PutRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KVServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KVServer).Get(ctx, req.(*api.GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func gossipHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(gossip.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KVServer).Gossip(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: gossipMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KVServer).Gossip(ctx, req.(*gossip.Message))
	}
	return interceptor(ctx, in, info, handler)
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(api.StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KVServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KVServer).Status(ctx, req.(*api.StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// KVClient is the client API for the KV service.
type KVClient struct {
	cc grpc.ClientConnInterface
}

// NewKVClient wraps cc. Calls default to the JSON codec.
func NewKVClient(cc grpc.ClientConnInterface) *KVClient {
	return &KVClient{cc: cc}
}

func (c *KVClient) Put(ctx context.Context, in *api.PutRequest, opts ...grpc.CallOption) (*api.PutResponse, error) {
	out := new(api.PutResponse)
	if err := c.cc.Invoke(ctx, putMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KVClient) Get(ctx context.Context, in *api.GetRequest, opts ...grpc.CallOption) (*api.GetResponse, error) {
	out := new(api.GetResponse)
	if err := c.cc.Invoke(ctx, getMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KVClient) Gossip(ctx context.Context, in *gossip.Message, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, gossipMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KVClient) Status(ctx context.Context, in *api.StatusRequest, opts ...grpc.CallOption) (*api.StatusResponse, error) {
	out := new(api.StatusResponse)
	if err := c.cc.Invoke(ctx, statusMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
