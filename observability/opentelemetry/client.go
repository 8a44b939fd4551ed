// Package opentelemetry traces the client call path.
package opentelemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"midirpc"
	"midirpc/message"
)

const instrumentationName = "midirpc/observability/opentelemetry"

// ClientTraceBuilder builds a client middleware that opens one span per
// remote call, named after the target. Rejections and remote faults are
// transport-level successes, so they are recorded on the span but only a
// missing or failed delivery marks it as an error.
type ClientTraceBuilder struct {
	Tracer trace.Tracer
}

func (b *ClientTraceBuilder) Build() midirpc.ClientMiddleware {
	tracer := b.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "midirpc"),
		attribute.String("rpc.component", "client"),
	}
	return func(next midirpc.CallFunc) midirpc.CallFunc {
		return func(ctx context.Context, req *message.Request) (*message.Response, error) {
			ctx, span := tracer.Start(ctx, req.Target,
				trace.WithAttributes(attrs...),
				trace.WithSpanKind(trace.SpanKindClient))
			defer span.End()

			resp, err := next(ctx, req)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "call failed")
				return resp, err
			}
			span.SetAttributes(attribute.Int("rpc.midirpc.status", int(resp.Status)))
			switch resp.Status {
			case message.StatusFault:
				fault := resp.Fault
				if fault == nil {
					fault = &message.FaultDesc{Kind: "unknown"}
				}
				span.RecordError(errors.New(fault.Kind + ": " + fault.Message))
			case message.StatusRejected:
				span.SetAttributes(attribute.String("rpc.midirpc.rejection", resp.Rejection))
			}
			span.SetStatus(codes.Ok, "")
			return resp, nil
		}
	}
}
