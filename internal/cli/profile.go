package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the merged user profile",
		Run:   runProfile,
	}
	RootCmd.AddCommand(cmd)
}

func runProfile(cmd *cobra.Command, args []string) {
	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	entries, err := e.GetUserProfile(cmd.Context())
	if err != nil {
		exitErr("profile", err)
	}

	if len(entries) == 0 {
		fmt.Println("[]")
		return
	}

	if formatFlag == "text" {
		for _, p := range entries {
			fmt.Printf("%-24s %s (%.2f)\n", p.Key, p.Value, p.Confidence)
		}
		return
	}

	b, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(b))
}
