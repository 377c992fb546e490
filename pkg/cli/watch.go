package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/idlink/pkg/sessionsync"
)

func newWatchCommand() *Command {
	cmd := &Command{
		Name:        "watch",
		Description: "Follow the session and print every change",
		Flags:       flag.NewFlagSet("watch", flag.ExitOnError),
	}
	interval := cmd.Flags.Duration("interval", 30*time.Second, "Poll interval")
	addCommonFlags(cmd.Flags)
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		s, err := openSession(cmd.Flags, *interval)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return watch(ctx, s.sync)
	}
	return cmd
}

// watch prints snapshots until ctx is done
func watch(ctx context.Context, sync *sessionsync.Synchronizer) error {
	updates, cancel := sync.Subscribe()
	defer cancel()
	sync.Start(ctx)

	var lastID string
	var lastState sessionsync.State
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			id := ""
			if snap.SignedIn() {
				id = snap.Identity.ID
			}
			if id == lastID && snap.State == lastState {
				continue
			}
			lastID, lastState = id, snap.State
			fmt.Fprintf(stdout, "--- %s\n", time.Now().Format(time.RFC3339))
			printSnapshot(snap)
			if snap.State == sessionsync.StateStale {
				if err := sync.LastError(); err != nil {
					fmt.Fprintf(stdout, "error:    %v\n", err)
				}
			}
		}
	}
}
