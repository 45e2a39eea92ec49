package shutdown

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestShutdown_RunsHooksInPriorityOrder(t *testing.T) {
	h := NewHandler(nil)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	h.RegisterFunc("pubsub", PriorityPubSub, record("pubsub"))
	h.RegisterFunc("http", PriorityHTTP, record("http"))
	h.RegisterFunc("sockets", PriorityWebSocket, record("sockets"))

	if err := h.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	want := []string{"http", "sockets", "pubsub"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("expected %v, got %v", want, order)
			break
		}
	}

	select {
	case <-h.Done():
	default:
		t.Error("expected Done closed")
	}
	if !h.IsClosed() {
		t.Error("expected closed")
	}
}

func TestShutdown_Twice(t *testing.T) {
	h := NewHandler(nil)
	h.Shutdown()

	if err := h.Shutdown(); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}
}

func TestShutdown_CollectsErrors(t *testing.T) {
	h := NewHandler(nil)
	boom := errors.New("boom")

	ran := false
	h.RegisterFunc("bad", PriorityFirst, func(context.Context) error { return boom })
	h.RegisterFunc("good", PriorityLast, func(context.Context) error { ran = true; return nil })

	err := h.Shutdown()
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if !ran {
		t.Error("expected later hooks to run after a failure")
	}
}

func TestShutdown_Timeout(t *testing.T) {
	h := NewHandler(&Config{Timeout: 10 * time.Millisecond})

	ran := false
	h.RegisterFunc("slow", PriorityFirst, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	h.RegisterFunc("late", PriorityLast, func(context.Context) error { ran = true; return nil })

	if err := h.Shutdown(); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("expected ErrShutdownTimeout, got %v", err)
	}
	if ran {
		t.Error("expected hooks after the timeout to be skipped")
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	h := NewHandler(nil)
	ran := make(chan struct{})
	h.RegisterFunc("hook", PriorityFirst, func(context.Context) error { close(ran); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Error("expected hook to run")
	}
}

func TestWait_AfterShutdown(t *testing.T) {
	h := NewHandler(nil)
	h.Shutdown()

	if err := h.Wait(context.Background()); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestHelperHooks(t *testing.T) {
	srv := &http.Server{}
	if hook := HTTPServerHook("http", srv); hook.Priority != PriorityHTTP {
		t.Errorf("expected PriorityHTTP, got %d", hook.Priority)
	}

	c := &closer{}
	hook := CloseableHook("pubsub", PriorityPubSub, c)
	if err := hook.Fn(context.Background()); err != nil || !c.closed {
		t.Errorf("expected closer called, got %v", err)
	}

	bounded := TimeoutHook(Hook{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}, 5*time.Millisecond)
	if err := bounded.Fn(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

type closer struct{ closed bool }

func (c *closer) Close() error {
	c.closed = true
	return nil
}
