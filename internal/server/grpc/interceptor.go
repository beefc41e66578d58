package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/recordguard/internal/common"
	"github.com/dmitrijs2005/recordguard/internal/netx"
	"github.com/dmitrijs2005/recordguard/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const (
	accountIDKey ctxKey = "accountID"
	sourceIPKey  ctxKey = "sourceIP"
)

// AccountIDFromContext returns the account admitted for this request.
func AccountIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(accountIDKey).(string)
	return id, ok && id != ""
}

// SourceIPFromContext returns the caller's IP for ledger entries.
func SourceIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(sourceIPKey).(string)
	return ip
}

func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	ctx, err := s.admit(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

type admittedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *admittedStream) Context() context.Context { return w.ctx }

func (s *GRPCServer) accessTokenStreamInterceptor(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := s.admit(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &admittedStream{ServerStream: ss, ctx: ctx})
}

// admit authenticates the token and runs the access guard for method.
// Public methods pass through with only the source IP attached.
func (s *GRPCServer) admit(ctx context.Context, method string) (context.Context, error) {
	ctx = context.WithValue(ctx, sourceIPKey, netx.PeerIP(ctx))

	if _, ok := s.publicOps[method]; ok {
		return ctx, nil
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(common.AccessTokenHeaderName)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		s.rejections.WithLabelValues("missing_token").Inc()
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	accountID, err := auth.GetAccountIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		return nil, s.reject(ctx, method, "", err)
	}

	if err := s.guard.Admit(ctx, accountID, method); err != nil {
		return nil, s.reject(ctx, method, accountID, err)
	}

	return context.WithValue(ctx, accountIDKey, accountID), nil
}

func (s *GRPCServer) reject(ctx context.Context, method, accountID string, err error) error {
	var (
		code   codes.Code
		reason string
	)
	switch {
	case errors.Is(err, common.ErrTokenExpired):
		code, reason = codes.Unauthenticated, "token_expired"
	case errors.Is(err, common.ErrInvalidToken):
		code, reason = codes.Unauthenticated, "invalid_token"
	case errors.Is(err, common.ErrSessionExpired):
		code, reason = codes.Unauthenticated, "session_expired"
	case errors.Is(err, common.ErrorNotFound):
		code, reason = codes.Unauthenticated, "unknown_account"
	case errors.Is(err, common.ErrAccountLocked):
		code, reason = codes.PermissionDenied, "account_locked"
	case errors.Is(err, common.ErrPasswordExpired):
		code, reason = codes.FailedPrecondition, "password_change_required"
	default:
		s.logger.Error(ctx, "admission failed", "method", method, "account_id", accountID, "error", err)
		s.rejections.WithLabelValues("internal").Inc()
		return status.Error(codes.Internal, "internal error")
	}

	s.rejections.WithLabelValues(reason).Inc()
	s.logger.Warn(ctx, "request rejected", "method", method, "account_id", accountID, "reason", reason)
	return status.Error(code, reason)
}
