package middleware

import (
	"testing"
	"time"

	"github.com/tencent/pebble/buffer"
	"github.com/tencent/pebble/codec"
	"github.com/tencent/pebble/errs"
	"github.com/tencent/pebble/rpc"
)

func newProtocol() codec.Protocol {
	return codec.New(codec.FormatBinary, buffer.NewOwned(32))
}

func echoHandler(p codec.Protocol) (func(p codec.Protocol) error, error) {
	return func(p codec.Protocol) error { return nil }, nil
}

func slowHandler(p codec.Protocol) (func(p codec.Protocol) error, error) {
	time.Sleep(200 * time.Millisecond)
	return func(p codec.Protocol) error { return nil }, nil
}

func failingHandler(p codec.Protocol) (func(p codec.Protocol) error, error) {
	return nil, errs.New(errs.InvalidParam)
}

func TestLogging(t *testing.T) {
	handler := LoggingMiddleware()("Arith:Add", echoHandler)
	respond, err := handler(newProtocol())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if respond == nil {
		t.Fatal("expect non-nil respond closure")
	}
}

func TestLoggingPassesThroughError(t *testing.T) {
	handler := LoggingMiddleware()("Arith:Add", failingHandler)
	if _, err := handler(newProtocol()); err == nil {
		t.Fatal("expect error to propagate")
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := TimeOutMiddleware(500 * time.Millisecond)("Arith:Add", echoHandler)
	if _, err := handler(newProtocol()); err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := TimeOutMiddleware(50 * time.Millisecond)("Arith:Add", slowHandler)
	_, err := handler(newProtocol())
	if !errs.Is(err, errs.RpcTimeout) {
		t.Fatalf("expect RpcTimeout, got %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → first 2 pass immediately, 3rd rejected.
	handler := RateLimitMiddleware(1, 2)("Arith:Add", echoHandler)

	for i := 0; i < 2; i++ {
		if _, err := handler(newProtocol()); err != nil {
			t.Fatalf("call %d should pass, got error: %v", i, err)
		}
	}

	_, err := handler(newProtocol())
	if !errs.Is(err, errs.RateLimited) {
		t.Fatalf("call 3 should be rate limited, got: %v", err)
	}
}

func TestChain(t *testing.T) {
	chained := Chain(LoggingMiddleware(), TimeOutMiddleware(500*time.Millisecond))
	handler := chained("Arith:Add", echoHandler)

	respond, err := handler(newProtocol())
	if err != nil {
		t.Fatalf("expect no error, got %v", err)
	}
	if respond == nil {
		t.Fatal("expect non-nil respond closure")
	}
}

func TestWrapDecoratesEveryMethod(t *testing.T) {
	methods := map[string]rpc.Handler{
		"Arith:Add": echoHandler,
		"Arith:Sub": echoHandler,
	}
	wrapped := Wrap(LoggingMiddleware(), methods)
	if len(wrapped) != len(methods) {
		t.Fatalf("expect %d wrapped methods, got %d", len(methods), len(wrapped))
	}
	for name := range methods {
		if _, err := wrapped[name](newProtocol()); err != nil {
			t.Fatalf("wrapped %s: %v", name, err)
		}
	}
}

func TestRetryCallStopsOnSuccess(t *testing.T) {
	attempts := 0
	code := RetryCall("Arith:Add", 3, time.Millisecond, func() int32 {
		attempts++
		return 0
	})
	if code != 0 {
		t.Fatalf("expect success code 0, got %d", code)
	}
	if attempts != 1 {
		t.Fatalf("expect 1 attempt, got %d", attempts)
	}
}

func TestRetryCallRetriesTransientFailures(t *testing.T) {
	attempts := 0
	code := RetryCall("Arith:Add", 3, time.Millisecond, func() int32 {
		attempts++
		if attempts < 3 {
			return int32(errs.RpcTimeout)
		}
		return 0
	})
	if code != 0 {
		t.Fatalf("expect eventual success, got code %d", code)
	}
	if attempts != 3 {
		t.Fatalf("expect 3 attempts, got %d", attempts)
	}
}

func TestRetryCallStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	code := RetryCall("Arith:Add", 3, time.Millisecond, func() int32 {
		attempts++
		return int32(errs.InvalidParam)
	})
	if code != int32(errs.InvalidParam) {
		t.Fatalf("expect InvalidParam to propagate, got %d", code)
	}
	if attempts != 1 {
		t.Fatalf("expect no retry on non-retryable error, got %d attempts", attempts)
	}
}
