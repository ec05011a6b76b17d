package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/cugtyt/kg-explorer/internal/eventbus"
	"github.com/cugtyt/kg-explorer/internal/events"
)

const defaultWatchQueue = "kg-explorer-watch"

var errNoNATS = errors.New("nats.url is not configured; there is no mirror to watch")

// watched holds the fields every mirrored event may carry.
type watched struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Status    int    `json:"status"`
}

func newWatchCommand() *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print knowledge graph events mirrored to NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if a.bridge == nil {
				return errNoNATS
			}
			if err := watchEvents(a.bridge, queue, cmd.OutOrStdout()); err != nil {
				return err
			}
			a.logger.Infof("Watching %s", a.bridge.Status())
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", defaultWatchQueue, "queue group; watchers sharing one split the events")
	return cmd
}

// watchEvents subscribes to every event kind and writes one line per event.
func watchEvents(bridge *eventbus.NATSBridge, queue string, out io.Writer) error {
	var mu sync.Mutex
	for _, name := range events.Names() {
		name := name
		err := bridge.Subscribe(name, queue, func(ctx context.Context, data []byte) {
			event, ok := eventbus.UnmarshalEvent[watched](bridge.Codec(), data)
			if !ok {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out, formatWatched(name, event))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func formatWatched(name string, e watched) string {
	line := fmt.Sprintf("%s request_id=%s", name, e.RequestID)
	if e.Status != 0 {
		line += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Error != "" {
		line += fmt.Sprintf(" error=%q", e.Error)
	}
	return line
}
