package middleware

import (
	"context"
	"strconv"
	"time"

	"webthree-rpc/message"
	"webthree-rpc/metrics"
)

// MetricsMiddleware records count and latency of every request. side is
// "server" or "client".
func MetricsMiddleware(side string) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			code := "ok"
			if err != nil {
				code = strconv.FormatUint(uint64(message.CodeOf(err)), 10)
			}
			metrics.RecordRequest(side, req.Service.String(), req.Type.String(), code, time.Since(start))
			return reply, err
		}
	}
}
