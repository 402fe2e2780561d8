package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"devoid_client/messages"
)

func response(status messages.GenStatus, user string) *messages.Response {
	return &messages.Response{
		Status:      status,
		Executor:    messages.ExecutorKandinsky,
		GenType:     messages.GenTypeText2Img,
		ServiceInfo: messages.ServiceInfo{UserID: user},
	}
}

func TestDispatch_RoutesByStatus(t *testing.T) {
	bus := New(nil)
	var done, queued atomic.Int32

	bus.OnDone(func(ctx context.Context, resp *messages.Response) error {
		done.Add(1)
		return nil
	})
	bus.OnQueued(func(ctx context.Context, resp *messages.Response) error {
		queued.Add(1)
		return nil
	})

	require.NoError(t, bus.Dispatch(context.Background(), response(messages.StatusDone, "u")))
	require.NoError(t, bus.Dispatch(context.Background(), response(messages.StatusDone, "u")))
	require.NoError(t, bus.Dispatch(context.Background(), response(messages.StatusGenerating, "u")))
	bus.Wait()

	assert.EqualValues(t, 2, done.Load())
	assert.EqualValues(t, 0, queued.Load())
	assert.Equal(t, 1, bus.handlerCount(messages.StatusDone))
	assert.Equal(t, 0, bus.handlerCount(messages.StatusGenerating))
}

func TestDispatch_HandlersAreIndependent(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	var failures []*HandlerFailure
	var mu sync.Mutex
	bus := New(zap.New(core), withFailureHook(func(f *HandlerFailure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
	}))

	var ran atomic.Int32
	bus.OnError(func(ctx context.Context, resp *messages.Response) error {
		panic("boom")
	})
	bus.OnError(func(ctx context.Context, resp *messages.Response) error {
		return errors.New("handler refused")
	})
	bus.OnError(func(ctx context.Context, resp *messages.Response) error {
		ran.Add(1)
		return nil
	})

	require.NoError(t, bus.Dispatch(context.Background(), response(messages.StatusError, "u")))
	bus.Wait()

	assert.EqualValues(t, 1, ran.Load())
	assert.Equal(t, 2, logs.FilterMessage("handler failed").Len())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	for _, f := range failures {
		assert.Equal(t, "error", f.Event)
		if f.Panic != nil {
			assert.Equal(t, 0, f.Index)
			assert.NotEmpty(t, f.Stack)
		} else {
			assert.Equal(t, 1, f.Index)
			assert.EqualError(t, f.Err, "handler refused")
		}
	}
}

func TestDispatch_DoesNotWaitForHandlers(t *testing.T) {
	bus := New(nil)
	release := make(chan struct{})
	bus.OnDone(func(ctx context.Context, resp *messages.Response) error {
		<-release
		return nil
	})

	returned := make(chan struct{})
	go func() {
		_ = bus.Dispatch(context.Background(), response(messages.StatusDone, "u"))
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Dispatch() blocked on a running handler")
	}
	close(release)
	bus.Wait()
}

func TestDispatch_ConcurrencyBound(t *testing.T) {
	bus := New(nil, WithMaxConcurrentHandlers(2))
	var running, peak atomic.Int32
	release := make(chan struct{})

	bus.OnGenerating(func(ctx context.Context, resp *messages.Response) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil
	})

	require.NoError(t, bus.Dispatch(context.Background(), response(messages.StatusGenerating, "a")))
	require.NoError(t, bus.Dispatch(context.Background(), response(messages.StatusGenerating, "b")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bus.Dispatch(ctx, response(messages.StatusGenerating, "c"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	bus.Wait()
	assert.EqualValues(t, 2, peak.Load())
}

func TestDispatchConnectionError_OrderAndTiers(t *testing.T) {
	bus := New(nil)
	var order []string
	cause := errors.New("read: connection reset")

	bus.AfterConnectionError(func(ctx context.Context, err error) error {
		order = append(order, "reset")
		return nil
	})
	bus.OnConnectionError(func(ctx context.Context, err error) error {
		assert.Same(t, cause, err)
		order = append(order, "first")
		return errors.New("ignored")
	})
	bus.OnConnectionError(func(ctx context.Context, err error) error {
		order = append(order, "second")
		panic("still ignored")
	})
	bus.OnConnectionError(func(ctx context.Context, err error) error {
		order = append(order, "third")
		return nil
	})

	bus.DispatchConnectionError(context.Background(), cause)

	assert.Equal(t, []string{"first", "second", "third", "reset"}, order)
}

func TestClose_RejectsDispatch(t *testing.T) {
	bus := New(nil)
	bus.Close()
	err := bus.Dispatch(context.Background(), response(messages.StatusDone, "u"))
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestHandlerFailure_Error(t *testing.T) {
	inner := errors.New("disk full")
	f := &HandlerFailure{Event: "done", Index: 2, Err: inner}
	assert.Equal(t, "done handler #2 failed: disk full", f.Error())
	assert.ErrorIs(t, f, inner)

	p := &HandlerFailure{Event: "queued", Index: 0, Panic: "nil map"}
	assert.Equal(t, "queued handler #0 panicked: nil map", p.Error())
}
