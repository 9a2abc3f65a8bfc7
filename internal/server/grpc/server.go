// Package grpcserver exposes the token and admin API of the collaboration
// server as collab.v1.Sessions.
package grpcserver

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/service"
	"github.com/and161185/collab-studio/internal/session"
)

// Roller rolls up a design on behalf of a user.
type Roller interface {
	RollupAs(ctx context.Context, user, designID string) (int64, error)
}

// Sessions exposes the open editing sessions of this node.
type Sessions interface {
	Lookup(designID string) *session.EditingSession
	Participants(designID string) []model.Participant
}

// Server wires services into gRPC handlers.
type Server struct {
	handshake service.HandshakeService
	rollup    Roller
	sessions  Sessions
	log       *zap.Logger
}

var _ SessionsServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(handshake service.HandshakeService, rollup Roller, sessions Sessions, log *zap.Logger) *Server {
	return &Server{handshake: handshake, rollup: rollup, sessions: sessions, log: log}
}

func remoteIP(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// CreateToken issues a single-use connection token for the caller.
func (s *Server) CreateToken(ctx context.Context, req *CreateTokenRequest) (*CreateTokenResponse, error) {
	user, ok := UserFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if req.DesignID == "" || req.Secret == "" {
		return nil, status.Error(codes.InvalidArgument, "empty designId/secret")
	}
	id, err := s.handshake.CreateToken(ctx, req.DesignID, user, req.Secret, req.ContentVersion)
	if err != nil {
		return nil, toStatus(err, "create token")
	}
	return &CreateTokenResponse{UUID: id.String(), User: user}, nil
}

// ValidateToken consumes a token issued to the caller.
func (s *Server) ValidateToken(ctx context.Context, req *ValidateTokenRequest) (*ValidateTokenResponse, error) {
	user, ok := UserFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	id, err := uuid.FromString(req.UUID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad uuid")
	}
	v, err := s.handshake.ValidateWithIP(ctx, id, req.DesignID, user, req.Secret, remoteIP(ctx))
	if err != nil {
		return nil, toStatus(err, "validate token")
	}
	return &ValidateTokenResponse{ContentVersion: v}, nil
}

// Rollup folds pending commands of a design into a new snapshot. An open
// session of the design is paused for the duration.
func (s *Server) Rollup(ctx context.Context, req *RollupRequest) (*RollupResponse, error) {
	user, ok := UserFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if req.DesignID == "" {
		return nil, status.Error(codes.InvalidArgument, "empty designId")
	}
	if es := s.sessions.Lookup(req.DesignID); es != nil {
		es.Lock()
		defer es.Unlock()
	}
	v, err := s.rollup.RollupAs(ctx, user, req.DesignID)
	if err != nil {
		return nil, toStatus(err, "rollup")
	}
	s.log.Info("rollup requested",
		zap.String("design_id", req.DesignID),
		zap.String("user", user),
		zap.Int64("version", v))
	return &RollupResponse{ContentVersion: v}, nil
}

// ListEditors lists the editors connected to this node.
func (s *Server) ListEditors(ctx context.Context, req *ListEditorsRequest) (*ListEditorsResponse, error) {
	if _, ok := UserFromCtx(ctx); !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	if req.DesignID == "" {
		return nil, status.Error(codes.InvalidArgument, "empty designId")
	}
	ps := s.sessions.Participants(req.DesignID)
	out := &ListEditorsResponse{Editors: make([]Editor, 0, len(ps))}
	for _, p := range ps {
		out.Editors = append(out.Editors, Editor{User: p.User, SessionID: p.SessionID})
	}
	return out, nil
}

func toStatus(err error, op string) error {
	switch {
	case errors.Is(err, errs.ErrSessionNotFound):
		return status.Error(codes.NotFound, "session not found")
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrCommandApplication):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
