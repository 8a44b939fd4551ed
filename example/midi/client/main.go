// Calls the MIDI server example over the default port pair.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"midirpc"
	"midirpc/transport"
	// Blank-import a gomidi driver here, e.g. rtmididrv, to talk to real
	// ports.
)

func main() {
	// Mirror image of the server: send on the request port, listen on the
	// response port.
	link, err := transport.OpenMIDI(transport.DefaultResponsePort, transport.DefaultRequestPort, 0)
	if err != nil {
		slog.Error("could not open MIDI ports", "err", err)
		os.Exit(1)
	}

	client, err := midirpc.NewClient(link, midirpc.ClientWithTimeout(5*time.Second))
	if err != nil {
		slog.Error("client setup failed", "err", err)
		os.Exit(1)
	}
	if err := client.Start(); err != nil {
		slog.Error("client start failed", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()
	for _, target := range []string{"song.tempo", "song.title"} {
		res, err := client.Call(ctx, target, nil, nil)
		if err != nil {
			slog.Error("call failed", "target", target, "err", err)
			continue
		}
		fmt.Printf("%s -> %v\n", target, res.Value)
	}
}
