package middleware

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"webthree-rpc/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Message) (*message.Message, error) {
	reply := req.Reply([]byte("ok"))
	return &reply, nil
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Message) (*message.Message, error) {
	time.Sleep(200 * time.Millisecond)
	return echoHandler(ctx, req)
}

func newRequest() *message.Message {
	return &message.Message{Service: message.ServiceEthereum, Type: message.TypeBalanceAt, Seq: 1}
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()(echoHandler)

	resp, err := handler(context.Background(), newRequest())
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", string(resp.Payload))
	}
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(echoHandler)

	if _, err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := TimeOutMiddleware(50 * time.Millisecond)(slowHandler)

	_, err := handler(context.Background(), newRequest())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expect timeout error, got %v", err)
	}
	if message.CodeOf(err) != message.CodeTimeout {
		t.Fatalf("expect CodeTimeout, got %d", message.CodeOf(err))
	}
}

func TestTimeoutRecoversPanic(t *testing.T) {
	// handler 在超时中间件的 goroutine 里 panic，应该变成错误返回
	handler := TimeOutMiddleware(500 * time.Millisecond)(func(ctx context.Context, req *message.Message) (*message.Message, error) {
		var m map[string]int
		m["boom"] = 1
		return nil, nil
	})

	_, err := handler(context.Background(), newRequest())
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("expect ErrPanic, got %v", err)
	}
	if message.CodeOf(err) != message.CodeInternal {
		t.Fatalf("expect CodeInternal, got %d", message.CodeOf(err))
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimitMiddleware(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(context.Background(), newRequest()); err != nil {
			t.Fatalf("request %d should pass, got error: %v", i, err)
		}
	}

	if _, err := handler(context.Background(), newRequest()); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("request 3 should be rate limited, got: %v", err)
	}
}

func TestRetryTransient(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Message) (*message.Message, error) {
		if calls.Add(1) < 3 {
			return nil, &message.RemoteError{Code: message.CodeTimeout, Message: "slow backend"}
		}
		return echoHandler(ctx, req)
	}

	handler := RetryMiddleware(3, time.Millisecond)(flaky)
	if _, err := handler(context.Background(), newRequest()); err != nil {
		t.Fatalf("expect success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expect 3 attempts, got %d", calls.Load())
	}
}

func TestRetrySkipsPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	failing := func(ctx context.Context, req *message.Message) (*message.Message, error) {
		calls.Add(1)
		return nil, &message.RemoteError{Code: message.CodeDomainBase, Message: "unknown block"}
	}

	handler := RetryMiddleware(3, time.Millisecond)(failing)
	if _, err := handler(context.Background(), newRequest()); err == nil {
		t.Fatal("expect error")
	}
	if calls.Load() != 1 {
		t.Fatalf("permanent error must not be retried, got %d attempts", calls.Load())
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	failing := func(ctx context.Context, req *message.Message) (*message.Message, error) {
		return nil, ErrRateLimited
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := RetryMiddleware(5, time.Second)(failing)
	start := time.Now()
	if _, err := handler(ctx, newRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expect context.Canceled, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("backoff must not outlive the context")
	}
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Logging + Metrics + Timeout，验证请求能正常穿过
	chained := Chain(LoggingMiddleware(), MetricsMiddleware("server"), TimeOutMiddleware(500*time.Millisecond))
	handler := chained(echoHandler)

	resp, err := handler(context.Background(), newRequest())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if resp == nil || resp.Type != message.ReplyType(message.TypeBalanceAt) {
		t.Fatalf("unexpected response %v", resp)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Message) (*message.Message, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	_, _ = Chain(mark("a"), mark("b"), mark("c"))(echoHandler)(context.Background(), newRequest())
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("unexpected order %v", order)
	}
}
