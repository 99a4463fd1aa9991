package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Embed chunks that are missing vectors",
		Long:  "Run embedding backfill batches until every chunk has a vector. Requires an embedding provider (COMPANION_MEMORY_EMBED_PROVIDER).",
		Run:   runBackfill,
	}

	RootCmd.AddCommand(cmd)
}

func runBackfill(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	total := 0
	for {
		n, err := e.Backfill(cmd.Context())
		if err != nil {
			exitErr("backfill", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	fmt.Printf(`{"ok":true,"embedded":%d}`+"\n", total)
}
