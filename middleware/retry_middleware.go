package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"webthree-rpc/message"
)

// RetryMiddleware re-runs next on transient failures (timeout, rate limit,
// unavailable) with exponential backoff. Other errors return immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			reply, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return reply, err
				}
				log.Debug().Err(err).
					Int("attempt", i+1).
					Str("service", req.Service.String()).
					Str("type", req.Type.String()).
					Msg("retrying")

				timer := time.NewTimer(baseDelay * time.Duration(1<<i)) // Exponential backoff
				select {
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				case <-timer.C:
				}
				reply, err = next(ctx, req)
			}
			return reply, err
		}
	}
}

func retryable(err error) bool {
	switch message.CodeOf(err) {
	case message.CodeTimeout, message.CodeRateLimited, message.CodeUnavailable:
		return true
	}
	return false
}
