package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/companion-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [content]",
		Short: "Record a conversation turn",
		Long:  "Record a conversation turn. Content can be a positional arg or piped via stdin.",
		Run:   runAdd,
	}

	cmd.Flags().StringP("role", "r", "user", "Speaker: user or assistant")
	cmd.Flags().StringP("personality", "p", "", "Active personality tag")
	cmd.Flags().IntP("mood", "m", -1, "Current mood 0-100")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	role, _ := cmd.Flags().GetString("role")
	personality, _ := cmd.Flags().GetString("personality")
	mood, _ := cmd.Flags().GetInt("mood")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("add", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	e, err := openEngine()
	if err != nil {
		exitErr("open engine", err)
	}
	defer e.Close()

	params := store.SaveConversationParams{
		Role:        role,
		Content:     strings.TrimSpace(content),
		Personality: personality,
	}
	if mood >= 0 {
		params.Mood = mood
		params.MoodSet = true
	}

	conv, err := e.AddConversation(cmd.Context(), params)
	if err != nil {
		exitErr("add", err)
	}

	b, _ := json.Marshal(conv)
	fmt.Println(string(b))
}
