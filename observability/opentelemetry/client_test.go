package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"midirpc/message"
)

func TestClientTraceBuilder_Build(t *testing.T) {
	// No tracer injected: the builder falls back to the global provider,
	// which is a no-op by default. The middleware must still pass the
	// outcome through untouched.
	b := &ClientTraceBuilder{}
	mw := b.Build()

	t.Run("ok", func(t *testing.T) {
		want := &message.Response{MessageID: 1, Status: message.StatusOk, Value: int64(3)}
		next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return want, nil
		}
		resp, err := mw(next)(context.Background(), &message.Request{MessageID: 1, Target: "transport.start"})
		require.NoError(t, err)
		assert.Same(t, want, resp)
	})

	t.Run("fault", func(t *testing.T) {
		want := &message.Response{
			MessageID: 2,
			Status:    message.StatusFault,
			Fault:     &message.FaultDesc{Kind: "TypeError", Message: "bad"},
		}
		next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return want, nil
		}
		resp, err := mw(next)(context.Background(), &message.Request{MessageID: 2, Target: "transport.start"})
		require.NoError(t, err)
		assert.Same(t, want, resp)
	})

	t.Run("transport error", func(t *testing.T) {
		wantErr := errors.New("link down")
		next := func(ctx context.Context, req *message.Request) (*message.Response, error) {
			return nil, wantErr
		}
		resp, err := mw(next)(context.Background(), &message.Request{MessageID: 3, Target: "transport.start"})
		assert.ErrorIs(t, err, wantErr)
		assert.Nil(t, resp)
	})
}
