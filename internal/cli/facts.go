package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/companion-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: "List extracted facts",
		Run:   runFacts,
	}

	cmd.Flags().StringP("type", "t", "", "Filter by fact type: preference, event, relationship, routine, personal")
	cmd.Flags().Float64("min-confidence", 0, "Minimum confidence")
	cmd.Flags().IntP("limit", "l", 100, "Max results")

	RootCmd.AddCommand(cmd)
}

func runFacts(cmd *cobra.Command, args []string) {
	factType, _ := cmd.Flags().GetString("type")
	minConf, _ := cmd.Flags().GetFloat64("min-confidence")
	limit, _ := cmd.Flags().GetInt("limit")

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	facts, err := e.GetFacts(cmd.Context(), store.ListFactsParams{
		Type:          factType,
		MinConfidence: minConf,
		Limit:         limit,
	})
	if err != nil {
		exitErr("facts", err)
	}

	if len(facts) == 0 {
		fmt.Println("[]")
		return
	}

	if formatFlag == "text" {
		for _, f := range facts {
			fmt.Printf("%-12s %s %s %s (%.2f)\n", f.Type, f.Subject, f.Predicate, f.Object, f.Confidence)
		}
		return
	}

	b, _ := json.MarshalIndent(facts, "", "  ")
	fmt.Println(string(b))
}
