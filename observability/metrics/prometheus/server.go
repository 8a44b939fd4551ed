// Package prometheus instruments the server dispatch path.
package prometheus

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"midirpc"
	"midirpc/message"
)

// DispatchMetricsBuilder builds a server middleware that records per-target
// latency, outcome counts, and the number of calls currently executing.
// With sequential dispatch the active gauge doubles as a queue-health
// signal: anything above one means callers are waiting behind a slow call.
type DispatchMetricsBuilder struct {
	Namespace string
	Subsystem string
	Name      string
	Help      string

	// Port identifies the MIDI port pair this server listens on, so one
	// process hosting several links stays distinguishable.
	Port string
}

func (b *DispatchMetricsBuilder) Build() midirpc.ServerMiddleware {
	constLabels := map[string]string{
		"port": b.Port,
		"kind": "server",
	}
	summaryVec := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_response",
		Help:        b.Help,
		ConstLabels: constLabels,
		Objectives: map[float64]float64{
			0.5:   0.01,
			0.75:  0.01,
			0.9:   0.01,
			0.99:  0.001,
			0.999: 0.0001,
		},
	}, []string{"target", "status"})

	errCntVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_error_cnt",
		Help:        b.Help,
		ConstLabels: constLabels,
	}, []string{"target", "status"})

	activeVec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   b.Namespace,
		Subsystem:   b.Subsystem,
		Name:        b.Name + "_active_req_cnt",
		Help:        b.Help,
		ConstLabels: constLabels,
	}, []string{"target"})
	prometheus.MustRegister(summaryVec, errCntVec, activeVec)

	return func(next midirpc.InvokeFunc) midirpc.InvokeFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			active := activeVec.WithLabelValues(req.Target)
			active.Add(1)
			startTime := time.Now()
			resp := next(ctx, req)
			active.Sub(1)

			status := statusLabel(resp)
			duration := float64(time.Since(startTime).Milliseconds())
			summaryVec.WithLabelValues(req.Target, status).Observe(duration)
			if resp == nil || resp.Status != message.StatusOk {
				errCntVec.WithLabelValues(req.Target, status).Add(1)
			}
			return resp
		}
	}
}

func statusLabel(resp *message.Response) string {
	if resp == nil {
		return "none"
	}
	switch resp.Status {
	case message.StatusOk:
		return "ok"
	case message.StatusFault:
		return "fault"
	case message.StatusRejected:
		return "rejected"
	default:
		return strconv.Itoa(int(resp.Status))
	}
}
