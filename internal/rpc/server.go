package rpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"gossipstore/internal/api"
	"gossipstore/internal/gossip"
)

// Server implements KVServer on top of a node.
type Server struct {
	svc    api.Service
	logger *zap.Logger
}

// NewServer creates a new gRPC server instance.
func NewServer(svc api.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:    svc,
		logger: logger.Named("rpc").With(zap.String("node", svc.NodeID())),
	}
}

// Put handles Put requests.
func (s *Server) Put(ctx context.Context, req *api.PutRequest) (*api.PutResponse, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	entry, err := s.svc.Put(req.Key, req.Value)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Debug("put",
		zap.String("key", req.Key),
		zap.String("request_id", requestID),
		zap.Stringer("clock", entry.Clock))

	return &api.PutResponse{
		NodeID: s.svc.NodeID(),
		Entry:  entry,
	}, nil
}

// Get handles Get requests. Unknown keys return an empty entry list.
func (s *Server) Get(ctx context.Context, req *api.GetRequest) (*api.GetResponse, error) {
	entries, err := s.svc.Get(req.Key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &api.GetResponse{
		NodeID:  s.svc.NodeID(),
		Key:     req.Key,
		Entries: entries,
	}, nil
}

// Gossip merges a pushed snapshot. Malformed keys are skipped by the
// engine; the push is acknowledged either way.
func (s *Server) Gossip(ctx context.Context, msg *gossip.Message) (*emptypb.Empty, error) {
	if _, err := s.svc.Gossip(msg); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Status returns node status.
func (s *Server) Status(ctx context.Context, req *api.StatusRequest) (*api.StatusResponse, error) {
	st := s.svc.Status()
	return &st, nil
}

// toStatus maps service errors to gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, api.ErrEmptyKey), errors.Is(err, gossip.ErrEmptyMessage):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
