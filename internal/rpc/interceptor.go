package rpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs every unary call with its status code and latency.
// Failed calls are logged at warn, the rest at debug.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("call", fields...)
		}
		return resp, err
	}
}
