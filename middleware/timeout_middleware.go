package middleware

import (
	"context"
	"fmt"
	"time"

	"webthree-rpc/message"
)

// TimeOutMiddleware bounds the time spent in next. The handler keeps running
// in the background if it ignores ctx; its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (*message.Message, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				reply *message.Message
				err   error
			}
			done := make(chan result, 1)
			go func() {
				// the caller's goroutine cannot recover a panic raised here
				defer func() {
					if r := recover(); r != nil {
						done <- result{nil, fmt.Errorf("%w: %v", ErrPanic, r)}
					}
				}()
				reply, err := next(ctx, req)
				done <- result{reply, err}
			}()

			select {
			case r := <-done:
				if r.err != nil && ctx.Err() == context.DeadlineExceeded {
					return nil, ErrTimeout
				}
				return r.reply, r.err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return nil, ErrTimeout
				}
				return nil, ctx.Err()
			}
		}
	}
}
