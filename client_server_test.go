package midirpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gotomicro/ekit/bean/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"midirpc/compress/lz4"
	"midirpc/transport"
)

type link struct {
	client *Client
	server *Server
}

// newLink wires a client and a server over an in-memory pipe and starts
// both. Everything is torn down with the test.
func newLink(t *testing.T, maxDatagram int, registry *Registry,
	clientOpts []option.Option[Client], serverOpts []option.Option[Server]) *link {
	t.Helper()
	clientEnd, serverEnd := transport.Pipe(maxDatagram)

	server, err := NewServer(serverEnd, registry, serverOpts...)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = server.Start(ctx)
		close(done)
	}()

	client, err := NewClient(clientEnd, clientOpts...)
	require.NoError(t, err)
	require.NoError(t, client.Start())

	t.Cleanup(func() {
		_ = client.Close()
		cancel()
		<-done
	})
	return &link{client: client, server: server}
}

func TestClientServer_RoundTrip(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("mixer.volume", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return map[string]any{
			"track": args[0],
			"db":    kwargs["db"],
		}, nil
	})
	l := newLink(t, 0, registry, nil, nil)

	res, err := l.client.Call(context.Background(), "mixer.volume",
		[]any{int64(3)}, map[string]any{"db": -6.5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"track": int64(3), "db": -6.5}, res.Value)
	assert.Equal(t, "", res.Stdout)
}

func TestClientServer_MultiChunk(t *testing.T) {
	// A 64-byte datagram limit leaves room for only a few dozen payload
	// bytes per fragment, so this call and its echo each span many
	// fragments in both directions.
	registry := NewRegistry()
	registry.MustRegister("pattern.notes", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})
	l := newLink(t, 64, registry, nil, nil)

	big := strings.Repeat("sixteenth notes ", 64)
	res, err := l.client.Call(context.Background(), "pattern.notes", []any{big}, nil)
	require.NoError(t, err)
	assert.Equal(t, big, res.Value)
}

func TestClientServer_Stdout(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("song.info", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		fmt.Println("tempo: 128")
		fmt.Println("bars: 16")
		return true, nil
	})
	l := newLink(t, 0, registry, nil, nil)

	res, err := l.client.Call(context.Background(), "song.info", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
	assert.Equal(t, "tempo: 128\nbars: 16\n", res.Stdout)
}

func TestClientServer_Rejected(t *testing.T) {
	l := newLink(t, 0, NewRegistry(), nil, nil)

	_, err := l.client.Call(context.Background(), "os.system", []any{"rm -rf"}, nil)
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "os.system", rej.Target)
	assert.Contains(t, rej.Reason, "allow-list")
}

func TestClientServer_Fault(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("mixer.mute", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		fmt.Print("muting...")
		return nil, errors.New("track out of range")
	})
	registry.MustRegister("ping", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "pong", nil
	})
	l := newLink(t, 0, registry, nil, nil)

	_, err := l.client.Call(context.Background(), "mixer.mute", []any{int64(99)}, nil)
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "*errors.errorString", fault.Kind)
	assert.Equal(t, "track out of range", fault.Message)
	assert.Equal(t, "muting...", fault.Stdout)

	// The dispatch loop survived the fault.
	res, err := l.client.Call(context.Background(), "ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Value)
}

func TestClientServer_PanicBecomesFault(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("boom", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		panic("index out of range")
	})
	registry.MustRegister("ping", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "pong", nil
	})
	l := newLink(t, 0, registry, nil, nil)

	_, err := l.client.Call(context.Background(), "boom", nil, nil)
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "panic", fault.Kind)
	assert.Equal(t, "index out of range", fault.Message)
	assert.NotEmpty(t, fault.Trace)

	res, err := l.client.Call(context.Background(), "ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Value)
}

func TestClientServer_Timeout(t *testing.T) {
	release := make(chan struct{})
	registry := NewRegistry()
	registry.MustRegister("slow", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		<-release
		return nil, nil
	})
	registry.MustRegister("ping", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "pong", nil
	})
	l := newLink(t, 0, registry, []option.Option[Client]{
		ClientWithTimeout(50 * time.Millisecond),
	}, nil)

	_, err := l.client.Call(context.Background(), "slow", nil, nil)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "slow")

	// Unblock the server; its late response finds no pending entry and is
	// dropped, and the link keeps working.
	close(release)
	res, err := l.client.Call(context.Background(), "ping", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Value)
}

func TestClientServer_ConcurrentCalls(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})
	l := newLink(t, 0, registry, []option.Option[Client]{
		ClientWithTimeout(5 * time.Second),
	}, nil)

	const callers = 16
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := l.client.Call(context.Background(), "echo", []any{int64(i)}, nil)
			assert.NoError(t, err)
			if err == nil {
				assert.Equal(t, int64(i), res.Value)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientServer_Compressed(t *testing.T) {
	registry := NewRegistry()
	registry.MustRegister("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return args[0], nil
	})
	l := newLink(t, 0, registry,
		[]option.Option[Client]{ClientWithCompressor(lz4.Compressor{})},
		[]option.Option[Server]{ServerWithCompressors(lz4.Compressor{})})

	payload := strings.Repeat("aaaaaaaabbbbbbbb", 128)
	res, err := l.client.Call(context.Background(), "echo", []any{payload}, nil)
	require.NoError(t, err)
	assert.Equal(t, payload, res.Value)
}

func TestClientServer_IdentityEnquiry(t *testing.T) {
	clientEnd, serverEnd := transport.Pipe(0)
	server, err := NewServer(serverEnd, NewRegistry())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Start(ctx) }()

	require.NoError(t, clientEnd.Send(transport.IdentityRequest()))
	select {
	case reply := <-clientEnd.Inbound():
		assert.Equal(t, transport.IdentityReply(), reply)
	case <-time.After(time.Second):
		t.Fatal("no identity reply")
	}
}

func TestClient_NotStarted(t *testing.T) {
	clientEnd, _ := transport.Pipe(0)
	client, err := NewClient(clientEnd)
	require.NoError(t, err)
	_, err = client.Call(context.Background(), "ping", nil, nil)
	require.Error(t, err)
}

func TestClient_Closed(t *testing.T) {
	clientEnd, _ := transport.Pipe(0)
	client, err := NewClient(clientEnd)
	require.NoError(t, err)
	require.NoError(t, client.Start())
	require.NoError(t, client.Close())
	_, err = client.Call(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}
