package midirpc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gotomicro/ekit/bean/option"
	"golang.org/x/sync/errgroup"

	"midirpc/chunk"
	"midirpc/compress"
	"midirpc/message"
	"midirpc/transport"
)

// Server is the host side of a midirpc link. It reassembles request
// fragments, executes each decoded call against the allow-list registry,
// and always sends back exactly one response, so a caller's correlation
// entry is eventually resolved unless the transport loses the reply.
//
// Dispatch is sequential: host scripting surfaces are typically not safe
// for concurrent re-entry, so one call runs to completion before the next
// starts. A call that blocks forever therefore stalls the queue behind it;
// the client-side timeout is the only recourse, and it cannot stop the
// server's in-progress work.
type Server struct {
	transport   transport.Transport
	registry    *Registry
	compressors *compress.Registry
	assembler   *chunk.Assembler
	logger      *slog.Logger

	maxChunk      int
	staleAfter    time.Duration
	maxPartials   int
	middlewares   []ServerMiddleware
	invoke        InvokeFunc
	answerEnquiry bool
}

func NewServer(t transport.Transport, registry *Registry, opts ...option.Option[Server]) (*Server, error) {
	s := &Server{
		transport:     t,
		registry:      registry,
		logger:        slog.Default(),
		answerEnquiry: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.maxChunk = transport.MaxChunkPayload(t.MaxDatagramSize())
	if s.maxChunk <= 0 {
		return nil, fmt.Errorf("midirpc: transport datagram limit %d leaves no room for payload", t.MaxDatagramSize())
	}
	if s.compressors == nil {
		s.compressors = compress.NewRegistry()
	}
	s.assembler = chunk.NewAssembler(s.maxPartials, s.staleAfter)
	s.invoke = s.execute
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		s.invoke = s.middlewares[i](s.invoke)
	}
	return s, nil
}

// ServerWithCompressors registers the compressors requests may arrive with.
func ServerWithCompressors(comps ...compress.Compressor) option.Option[Server] {
	return func(s *Server) {
		if s.compressors == nil {
			s.compressors = compress.NewRegistry()
		}
		for _, comp := range comps {
			s.compressors.Register(comp)
		}
	}
}

// ServerWithLogger injects the logger used by the dispatch loop.
func ServerWithLogger(l *slog.Logger) option.Option[Server] {
	return func(s *Server) {
		s.logger = l
	}
}

// ServerWithStaleWindow sets how long a partial request may wait for its
// missing fragments.
func ServerWithStaleWindow(d time.Duration) option.Option[Server] {
	return func(s *Server) {
		s.staleAfter = d
	}
}

// ServerWithMaxPartials caps the number of concurrently buffered partial
// requests.
func ServerWithMaxPartials(n int) option.Option[Server] {
	return func(s *Server) {
		s.maxPartials = n
	}
}

// ServerWithMiddleware wraps the dispatch path, outermost first.
func ServerWithMiddleware(ms ...ServerMiddleware) option.Option[Server] {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, ms...)
	}
}

// ServerWithoutIdentityReply disables answering universal device identity
// enquiries.
func ServerWithoutIdentityReply() option.Option[Server] {
	return func(s *Server) {
		s.answerEnquiry = false
	}
}

// Start runs the dispatch loop and the reassembly sweeper until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.dispatchLoop(ctx)
	})
	eg.Go(func() error {
		return s.sweepLoop(ctx)
	})
	return eg.Wait()
}

func (s *Server) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case datagram := <-s.transport.Inbound():
			s.handleDatagram(ctx, datagram)
		}
	}
}

// handleDatagram feeds one datagram through reassembly and, when a request
// completes, dispatches it. Malformed traffic is logged and dropped; the
// loop never dies because of a bad datagram.
func (s *Server) handleDatagram(ctx context.Context, datagram []byte) {
	if s.answerEnquiry && transport.IsIdentityRequest(datagram) {
		if err := s.transport.Send(transport.IdentityReply()); err != nil {
			s.logger.Warn("could not answer identity enquiry", "err", err)
		}
		return
	}
	frame, err := transport.DecodeFrame(datagram)
	if err != nil {
		s.logger.Warn("dropping undecodable datagram", "err", err)
		return
	}
	if frame.Type != transport.TypeCallFragment {
		s.logger.Debug("ignoring frame", "type", int(frame.Type))
		return
	}
	payload, done, err := s.assembler.Add(frame.Chunk)
	if err != nil {
		s.logger.Warn("dropping chunk", "message_id", frame.Chunk.MessageID, "err", err)
		return
	}
	if !done {
		return
	}
	req, err := message.DecodeRequest(payload, s.compressors)
	if err != nil {
		s.logger.Warn("dropping undecodable request", "message_id", frame.Chunk.MessageID, "err", err)
		return
	}
	s.serve(ctx, req)
}

func (s *Server) serve(ctx context.Context, req *message.Request) {
	// Honor the deadline the client propagated; cancellation stays
	// client-local, but a context-aware callable can cut its work short.
	if ms, err := strconv.ParseInt(req.Meta["deadline"], 10, 64); err == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(ms))
		defer cancel()
	}
	s.respond(s.invoke(ctx, req))
}

// execute is the innermost dispatch path: resolve against the allow-list,
// run the callable under stdout capture and a panic boundary, and shape
// the outcome into a response.
func (s *Server) execute(ctx context.Context, req *message.Request) *message.Response {
	resp := &message.Response{
		MessageID:  req.MessageID,
		Compressor: req.Compressor,
	}
	fn, ok := s.registry.Lookup(req.Target)
	if !ok {
		resp.Status = message.StatusRejected
		resp.Rejection = fmt.Sprintf("target %q is not in the allow-list", req.Target)
		return resp
	}
	value, stdout, fault := s.run(ctx, fn, req)
	resp.Stdout = stdout
	if fault != nil {
		resp.Status = message.StatusFault
		resp.Fault = fault
		return resp
	}
	resp.Status = message.StatusOk
	resp.Value = value
	return resp
}

// run invokes one callable. The deferred block restores stdout and converts
// a panic into a fault descriptor, so a misbehaving callable can never take
// the dispatch loop down with it.
func (s *Server) run(ctx context.Context, fn Callable, req *message.Request) (value any, stdout string, fault *message.FaultDesc) {
	restore, err := captureStdout()
	if err != nil {
		s.logger.Warn("stdout capture unavailable", "err", err)
	}
	defer func() {
		if restore != nil {
			stdout = restore()
		}
		if r := recover(); r != nil {
			value = nil
			fault = &message.FaultDesc{
				Kind:    "panic",
				Message: fmt.Sprint(r),
				Trace:   string(debug.Stack()),
			}
		}
	}()
	value, err = fn(ctx, req.Args, req.KwArgs)
	if err != nil {
		value = nil
		fault = &message.FaultDesc{
			Kind:    fmt.Sprintf("%T", err),
			Message: err.Error(),
		}
	}
	return value, stdout, fault
}

// respond encodes, chunks, and transmits one response. When the return
// value cannot be serialized it is replaced by a fault, so the caller still
// hears back.
func (s *Server) respond(resp *message.Response) {
	comp, ok := s.compressors.Get(resp.Compressor)
	if !ok {
		comp = compress.DoNothingCompressor{}
	}
	bs, err := message.EncodeResponse(resp, comp)
	if err != nil {
		fallback := &message.Response{
			MessageID: resp.MessageID,
			Status:    message.StatusFault,
			Stdout:    resp.Stdout,
			Fault: &message.FaultDesc{
				Kind:    "EncodeError",
				Message: err.Error(),
			},
		}
		if bs, err = message.EncodeResponse(fallback, comp); err != nil {
			s.logger.Error("could not encode fallback response", "message_id", resp.MessageID, "err", err)
			return
		}
	}
	chunks, err := chunk.Split(resp.MessageID, bs, s.maxChunk)
	if err != nil {
		s.logger.Error("response does not fit the wire format", "message_id", resp.MessageID, "err", err)
		return
	}
	for _, ck := range chunks {
		datagram := transport.EncodeFrame(transport.Frame{
			Origin: transport.OriginServer,
			Type:   transport.TypeReplyFragment,
			Chunk:  ck,
		})
		if err := s.transport.Send(datagram); err != nil {
			s.logger.Warn("sending response failed", "message_id", resp.MessageID, "err", err)
			return
		}
	}
}

func (s *Server) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.assembler.Sweep(time.Now()); n > 0 {
				s.logger.Debug("evicted stale partial requests", "count", n)
			}
		}
	}
}
