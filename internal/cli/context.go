package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/companion-memory/internal/memlayer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [query]",
		Short: "Assemble prompt context for a query",
		Long:  "Build the token-budgeted three-tier context (profile, core memories, recent history) for a query.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().Bool("layered", false, "Emit the tiers as structured JSON instead of flat text")
	cmd.Flags().IntP("budget", "b", 0, "Token budget override")
	cmd.Flags().StringP("personality", "p", "", "Active personality tag")
	cmd.Flags().IntP("mood", "m", -1, "Current mood 0-100")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	layered, _ := cmd.Flags().GetBool("layered")
	budget, _ := cmd.Flags().GetInt("budget")
	personality, _ := cmd.Flags().GetString("personality")
	mood, _ := cmd.Flags().GetInt("mood")
	query := strings.Join(args, " ")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	opts := memlayer.Options{TotalBudget: budget, Personality: personality}
	if mood >= 0 {
		opts.Mood = mood
		opts.MoodSet = true
	}

	if layered {
		lc := e.GetLayeredContext(cmd.Context(), query, opts)
		b, _ := json.MarshalIndent(lc, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Println(e.GetContext(cmd.Context(), query, opts))
}
