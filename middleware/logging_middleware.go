package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webthree-rpc/message"
)

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			duration := time.Since(start)

			var ev *zerolog.Event
			if err != nil {
				ev = log.Warn().Err(err)
			} else {
				ev = log.Debug()
			}
			ev.Str("service", req.Service.String()).
				Str("type", req.Type.String()).
				Uint16("seq", req.Seq).
				Dur("duration", duration).
				Msg("rpc")
			return reply, err
		}
	}
}
