package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/companion-memory/internal/search"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search past conversations",
		Long:  "Rank stored conversations against a query with hybrid keyword/vector/temporal scoring.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().StringP("role", "r", "", "Filter by speaker")
	cmd.Flags().IntP("mood", "m", -1, "Current mood 0-100 for the mood-match bonus")
	cmd.Flags().Float64("min-score", -1, "Minimum score override")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	role, _ := cmd.Flags().GetString("role")
	mood, _ := cmd.Flags().GetInt("mood")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	query := strings.Join(args, " ")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	opts := search.Options{Limit: limit, Role: role}
	if mood >= 0 {
		opts.Mood = mood
		opts.MoodSet = true
	}
	if minScore >= 0 {
		opts.MinScore = minScore
		opts.MinScoreSet = true
	}

	results := e.Search(cmd.Context(), query, opts)
	if len(results) == 0 {
		fmt.Println("[]")
		return
	}

	if formatFlag == "text" {
		for _, r := range results {
			fmt.Printf("%.3f  [%s] %s: %s\n",
				r.Score,
				r.Conversation.Timestamp.Format("2006-01-02 15:04"),
				r.Conversation.Role,
				r.Conversation.Content)
		}
		return
	}

	b, _ := json.MarshalIndent(results, "", "  ")
	fmt.Println(string(b))
}
