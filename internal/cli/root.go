// Package cli implements the companion-memory CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rcliao/companion-memory/internal/embedding"
	"github.com/rcliao/companion-memory/internal/engine"
)

var (
	dbPath      string
	formatFlag  string
	verboseFlag bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "companion-memory",
	Short: "Long-term memory and reminders for a conversational companion",
	Long:  "Persists dialogue, extracts facts into a user profile, ranks memories with hybrid search, and schedules reminders. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $COMPANION_MEMORY_DB or ~/.companion-memory/memory.db)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("COMPANION_MEMORY_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".companion-memory", "memory.db")
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func openEngine() (*engine.Engine, error) {
	return engine.Open(engine.Options{
		DBPath:            getDBPath(),
		Logger:            newLogger(),
		EmbeddingProvider: embedding.NewFromEnv(),
	})
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
