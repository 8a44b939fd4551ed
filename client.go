package midirpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gotomicro/ekit/bean/option"
	"golang.org/x/sync/errgroup"

	"midirpc/chunk"
	"midirpc/compress"
	"midirpc/message"
	"midirpc/transport"
)

// DefaultCallTimeout bounds how long a call waits for its response when the
// caller's context carries no deadline of its own.
const DefaultCallTimeout = 2 * time.Second

const defaultSweepInterval = time.Second

var _ Proxy = (*Client)(nil)

// Client is the calling side of a midirpc link. It owns the correlation
// table and a receive loop that matches inbound response fragments back to
// their waiting callers. Create it with NewClient, then Start it; Close
// releases the transport.
type Client struct {
	transport   transport.Transport
	compressor  compress.Compressor
	compressors *compress.Registry
	assembler   *chunk.Assembler
	pending     *pendingCalls
	logger      *slog.Logger

	timeout     time.Duration
	maxChunk    int
	staleAfter  time.Duration
	maxPartials int
	middlewares []ClientMiddleware
	invoke      CallFunc

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

// Result is a successful remote call outcome.
type Result struct {
	// Value is the callable's return value.
	Value any
	// Stdout is everything the callable wrote to standard output.
	Stdout string
}

func NewClient(t transport.Transport, opts ...option.Option[Client]) (*Client, error) {
	c := &Client{
		transport:  t,
		compressor: compress.DoNothingCompressor{},
		pending:    newPendingCalls(),
		logger:     slog.Default(),
		timeout:    DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.maxChunk = transport.MaxChunkPayload(t.MaxDatagramSize())
	if c.maxChunk <= 0 {
		return nil, fmt.Errorf("midirpc: transport datagram limit %d leaves no room for payload", t.MaxDatagramSize())
	}
	if c.compressors == nil {
		c.compressors = compress.NewRegistry()
	}
	// The server mirrors the request's compressor, so the client must be
	// able to decode its own choice.
	c.compressors.Register(c.compressor)
	c.assembler = chunk.NewAssembler(c.maxPartials, c.staleAfter)
	c.invoke = c.send
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		c.invoke = c.middlewares[i](c.invoke)
	}
	return c, nil
}

// ClientWithCompressor picks the compressor applied to request bodies.
func ClientWithCompressor(comp compress.Compressor) option.Option[Client] {
	return func(c *Client) {
		c.compressor = comp
	}
}

// ClientWithCompressors registers additional compressors the client can
// decode responses with.
func ClientWithCompressors(comps ...compress.Compressor) option.Option[Client] {
	return func(c *Client) {
		if c.compressors == nil {
			c.compressors = compress.NewRegistry()
		}
		for _, comp := range comps {
			c.compressors.Register(comp)
		}
	}
}

// ClientWithTimeout sets the default per-call response timeout.
func ClientWithTimeout(d time.Duration) option.Option[Client] {
	return func(c *Client) {
		c.timeout = d
	}
}

// ClientWithLogger injects the logger used by the receive loop.
func ClientWithLogger(l *slog.Logger) option.Option[Client] {
	return func(c *Client) {
		c.logger = l
	}
}

// ClientWithStaleWindow sets how long a partial response may wait for its
// missing fragments.
func ClientWithStaleWindow(d time.Duration) option.Option[Client] {
	return func(c *Client) {
		c.staleAfter = d
	}
}

// ClientWithMaxPartials caps the number of concurrently buffered partial
// responses.
func ClientWithMaxPartials(n int) option.Option[Client] {
	return func(c *Client) {
		c.maxPartials = n
	}
}

// ClientWithMiddleware wraps the call path, outermost first.
func ClientWithMiddleware(ms ...ClientMiddleware) option.Option[Client] {
	return func(c *Client) {
		c.middlewares = append(c.middlewares, ms...)
	}
}

// Start launches the response receive loop and the reassembly sweeper.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return errors.New("midirpc: client already started")
	}
	c.started = true
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return c.receiveLoop(ctx)
	})
	eg.Go(func() error {
		return c.sweepLoop(ctx)
	})
	c.eg = eg
	return nil
}

// Close stops the loops and releases the transport. Calls in flight fail
// with their context errors.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel, eg := c.cancel, c.eg
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		_ = eg.Wait()
	}
	return c.transport.Close()
}

// Call invokes target with the given positional and keyword arguments and
// waits for the outcome. A Fault on the far side comes back as *FaultError,
// an allow-list refusal as *RejectedError, and a missing response as
// ErrTimeout.
func (c *Client) Call(ctx context.Context, target string, args []any, kwargs map[string]any) (*Result, error) {
	req := &message.Request{
		Target:    target,
		Args:      args,
		KwArgs:    kwargs,
		CreatedAt: time.Now().UnixMilli(),
	}
	resp, err := c.invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	return toResult(target, resp)
}

// Invoke implements Proxy with the configured middleware applied.
func (c *Client) Invoke(ctx context.Context, req *message.Request) (*message.Response, error) {
	return c.invoke(ctx, req)
}

// send is the innermost call path: register the correlation entry, encode,
// chunk, transmit, then wait for the entry to be resolved or the deadline
// to pass.
func (c *Client) send(ctx context.Context, req *message.Request) (*message.Response, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if !c.started {
		c.mu.Unlock()
		return nil, errors.New("midirpc: client not started")
	}
	c.mu.Unlock()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	id, ch, ok := c.pending.register()
	if !ok {
		return nil, ErrTooManyCalls
	}
	req.MessageID = id
	if deadline, ok := ctx.Deadline(); ok {
		if req.Meta == nil {
			req.Meta = make(map[string]string, 1)
		}
		req.Meta["deadline"] = strconv.FormatInt(deadline.UnixMilli(), 10)
	}

	bs, err := message.EncodeRequest(req, c.compressor)
	if err != nil {
		c.pending.remove(id)
		return nil, err
	}
	chunks, err := chunk.Split(id, bs, c.maxChunk)
	if err != nil {
		c.pending.remove(id)
		return nil, err
	}
	for _, ck := range chunks {
		datagram := transport.EncodeFrame(transport.Frame{
			Origin: transport.OriginClient,
			Type:   transport.TypeCallFragment,
			Chunk:  ck,
		})
		if err := c.transport.Send(datagram); err != nil {
			c.pending.remove(id)
			return nil, fmt.Errorf("midirpc: send request %d: %w", id, err)
		}
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.pending.remove(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, req.Target)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) receiveLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case datagram := <-c.transport.Inbound():
			c.handleDatagram(datagram)
		}
	}
}

// handleDatagram processes one inbound datagram. Every failure here is a
// protocol error: log, drop, keep serving.
func (c *Client) handleDatagram(datagram []byte) {
	frame, err := transport.DecodeFrame(datagram)
	if err != nil {
		c.logger.Warn("dropping undecodable datagram", "err", err)
		return
	}
	if frame.Type != transport.TypeReplyFragment {
		c.logger.Debug("ignoring frame", "type", int(frame.Type))
		return
	}
	payload, done, err := c.assembler.Add(frame.Chunk)
	if err != nil {
		c.logger.Warn("dropping chunk", "message_id", frame.Chunk.MessageID, "err", err)
		return
	}
	if !done {
		return
	}
	resp, err := message.DecodeResponse(payload, c.compressors)
	if err != nil {
		c.logger.Warn("dropping undecodable response", "message_id", frame.Chunk.MessageID, "err", err)
		return
	}
	if !c.pending.resolve(resp.MessageID, resp) {
		c.logger.Debug("dropping response with no pending call", "message_id", resp.MessageID)
	}
}

func (c *Client) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.assembler.Sweep(time.Now()); n > 0 {
				c.logger.Debug("evicted stale partial responses", "count", n)
			}
		}
	}
}

// toResult maps a response onto the caller-facing outcome.
func toResult(target string, resp *message.Response) (*Result, error) {
	switch resp.Status {
	case message.StatusOk:
		return &Result{Value: resp.Value, Stdout: resp.Stdout}, nil
	case message.StatusFault:
		fault := resp.Fault
		if fault == nil {
			fault = &message.FaultDesc{Kind: "unknown"}
		}
		return nil, &FaultError{
			Kind:    fault.Kind,
			Message: fault.Message,
			Trace:   fault.Trace,
			Stdout:  resp.Stdout,
		}
	case message.StatusRejected:
		return nil, &RejectedError{Target: target, Reason: resp.Rejection}
	default:
		return nil, fmt.Errorf("midirpc: unknown response status %d", resp.Status)
	}
}
