// Demonstrates a complete call round trip over the in-memory pipe
// transport: registry setup, server dispatch, stub binding, and the three
// outcome shapes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"midirpc"
	"midirpc/compress/lz4"
	"midirpc/transport"
)

type transportAPI struct {
	Start midirpc.StubFunc
	Stop  midirpc.StubFunc `midirpc:"stop"`
}

func (transportAPI) Name() string { return "transport" }

func main() {
	registry := midirpc.NewRegistry()
	registry.MustRegister("transport.Start", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		fmt.Println("playback started")
		return true, nil
	})
	registry.MustRegister("transport.stop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return true, nil
	})
	registry.MustRegister("mixer.volume", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		track, ok := args[0].(int64)
		if !ok || track < 0 || track > 127 {
			return nil, errors.New("track out of range")
		}
		return map[string]any{"track": track, "db": kwargs["db"]}, nil
	})

	clientEnd, serverEnd := transport.Pipe(0)
	server, err := midirpc.NewServer(serverEnd, registry,
		midirpc.ServerWithCompressors(lz4.Compressor{}))
	if err != nil {
		slog.Error("server setup failed", "err", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := server.Start(ctx); err != nil {
			slog.Error("server stopped", "err", err)
		}
	}()

	client, err := midirpc.NewClient(clientEnd,
		midirpc.ClientWithCompressor(lz4.Compressor{}),
		midirpc.ClientWithTimeout(time.Second))
	if err != nil {
		slog.Error("client setup failed", "err", err)
		return
	}
	if err := client.Start(); err != nil {
		slog.Error("client start failed", "err", err)
		return
	}
	defer client.Close()

	res, err := client.Call(ctx, "mixer.volume", []any{int64(3)}, map[string]any{"db": -6.5})
	if err != nil {
		slog.Error("call failed", "err", err)
		return
	}
	fmt.Printf("mixer.volume -> %v\n", res.Value)

	api := &transportAPI{}
	if err := client.BindStubs(api); err != nil {
		slog.Error("stub binding failed", "err", err)
		return
	}
	res, err = api.Start(ctx)
	if err != nil {
		slog.Error("transport.Start failed", "err", err)
		return
	}
	fmt.Printf("transport.Start -> %v, remote stdout: %q\n", res.Value, res.Stdout)

	// An unregistered target is refused, not executed.
	_, err = client.Call(ctx, "os.system", []any{"whoami"}, nil)
	var rejected *midirpc.RejectedError
	if errors.As(err, &rejected) {
		fmt.Printf("os.system -> rejected: %s\n", rejected.Reason)
	}
}
