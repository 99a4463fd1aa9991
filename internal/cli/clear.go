package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete old conversations",
		Long:  "Delete conversations (and their chunks) older than --before, or wipe everything with --all.",
		Run:   runClear,
	}

	cmd.Flags().String("before", "", "Age cutoff as a duration, e.g. 720h for 30 days")
	cmd.Flags().Bool("all", false, "Delete all conversations, facts, profile and cached embeddings (reminders are kept)")

	RootCmd.AddCommand(cmd)
}

func runClear(cmd *cobra.Command, args []string) {
	beforeStr, _ := cmd.Flags().GetString("before")
	all, _ := cmd.Flags().GetBool("all")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	if all {
		if err := e.ClearAll(); err != nil {
			exitErr("clear", err)
		}
		fmt.Println(`{"ok":true,"cleared":"all"}`)
		return
	}

	if beforeStr == "" {
		exitErr("clear", fmt.Errorf("either --before or --all is required"))
	}
	d, err := time.ParseDuration(beforeStr)
	if err != nil {
		exitErr("parse --before", err)
	}

	removed, err := e.ClearOldConversations(time.Now().Add(-d))
	if err != nil {
		exitErr("clear", err)
	}
	fmt.Printf(`{"ok":true,"removed":%d}`+"\n", removed)
}
