package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the scheduler and print reminders as they fire",
		Long:  "Run the reminder scheduler and the embedding backfill in the foreground, printing one JSON line per fired reminder. Stop with Ctrl-C.",
		Run:   runWatch,
	}

	RootCmd.AddCommand(cmd)
}

func runWatch(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if pending, err := e.GetPendingReminders(cmd.Context()); err == nil {
		fmt.Fprintf(os.Stderr, "watching %d pending reminders\n", len(pending))
	}
	e.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	enc := json.NewEncoder(os.Stdout)
	for {
		select {
		case n := <-e.Notifications():
			if formatFlag == "text" {
				tag := ""
				if n.CatchUp {
					tag = " (overdue)"
				}
				fmt.Printf("%s  %s%s\n", n.FiredAt.Format("15:04:05"), n.Reminder.Content, tag)
			} else {
				enc.Encode(n)
			}
		case <-sig:
			return
		}
	}
}
