// Serves a small callable table over the default midirpc port pair. Run
// it next to a MIDI loopback driver (or the host application's scripting
// ports) and point the client example at the same ports.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"midirpc"
	"midirpc/compress/gzip"
	"midirpc/compress/lz4"
	"midirpc/compress/snappy"
	"midirpc/transport"
	// Blank-import a gomidi driver here, e.g. rtmididrv, to talk to real
	// ports.
)

func main() {
	registry := midirpc.NewRegistry()
	registry.MustRegister("song.tempo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return 128.0, nil
	})
	registry.MustRegister("song.title", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return "untitled", nil
	})

	// The server reads requests from the request port and answers on the
	// response port.
	link, err := transport.OpenMIDI(transport.DefaultRequestPort, transport.DefaultResponsePort, 0)
	if err != nil {
		slog.Error("could not open MIDI ports", "err", err)
		os.Exit(1)
	}
	defer link.Close()

	server, err := midirpc.NewServer(link, registry,
		midirpc.ServerWithCompressors(gzip.Compressor{}, lz4.Compressor{}, snappy.Compressor{}))
	if err != nil {
		slog.Error("server setup failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	slog.Info("serving", "targets", registry.Names())
	if err := server.Start(ctx); err != nil {
		slog.Error("server stopped", "err", err)
	}
}
