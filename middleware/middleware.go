package middleware

import (
	"context"

	"webthree-rpc/message"
)

// HandlerFunc processes one request. On the server it ends in the service
// dispatch; on the client it ends in the correlator.
type HandlerFunc func(ctx context.Context, req *message.Message) (*message.Message, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// codedError is a sentinel that travels the wire with its code.
type codedError struct {
	code message.ErrorCode
	msg  string
}

func (e *codedError) Error() string                { return e.msg }
func (e *codedError) ErrorCode() message.ErrorCode { return e.code }

var (
	ErrTimeout     error = &codedError{code: message.CodeTimeout, msg: "middleware: request timed out"}
	ErrRateLimited error = &codedError{code: message.CodeRateLimited, msg: "middleware: rate limit exceeded"}
	ErrPanic       error = &codedError{code: message.CodeInternal, msg: "middleware: handler panicked"}
)
