package prometheus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"midirpc"
	"midirpc/message"
)

func TestDispatchMetricsBuilder_Build(t *testing.T) {
	// Metric names are process-global, so each test needs its own.
	b := &DispatchMetricsBuilder{
		Namespace: "midirpc_test",
		Subsystem: "server",
		Name:      "dispatch_build",
		Help:      "dispatch outcomes",
		Port:      "loopback",
	}
	mw := b.Build()

	var invoked int
	next := midirpc.InvokeFunc(func(ctx context.Context, req *message.Request) *message.Response {
		invoked++
		switch req.Target {
		case "ok":
			return &message.Response{MessageID: req.MessageID, Status: message.StatusOk}
		default:
			return &message.Response{
				MessageID: req.MessageID,
				Status:    message.StatusFault,
				Fault:     &message.FaultDesc{Kind: "boom"},
			}
		}
	})
	wrapped := mw(next)

	resp := wrapped(context.Background(), &message.Request{MessageID: 1, Target: "ok"})
	require.NotNil(t, resp)
	assert.Equal(t, message.StatusOk, resp.Status)

	resp = wrapped(context.Background(), &message.Request{MessageID: 2, Target: "bad"})
	require.NotNil(t, resp)
	assert.Equal(t, message.StatusFault, resp.Status)
	assert.Equal(t, 2, invoked)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "none", statusLabel(nil))
	assert.Equal(t, "ok", statusLabel(&message.Response{Status: message.StatusOk}))
	assert.Equal(t, "fault", statusLabel(&message.Response{Status: message.StatusFault}))
	assert.Equal(t, "rejected", statusLabel(&message.Response{Status: message.StatusRejected}))
	assert.Equal(t, "9", statusLabel(&message.Response{Status: message.Status(9)}))
}
