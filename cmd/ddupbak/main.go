// Command ddupbak is a deduplicating, compressed backup engine.
//
// Logging:
//   - Base logger is created here with output format and level
//   - Logger is passed to the repository via dependency injection
//   - This is the only place in the module that calls slog.SetDefault,
//     so any third-party code reaching for the global logger still gets
//     the same JSON-to-stderr handler
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "ddupbak",
		Short: "Deduplicating, compressed backup engine",
	}
	rootCmd.PersistentFlags().String("repo", "", "repository directory")
	rootCmd.PersistentFlags().String("chunks-dir", "", "relocate the chunk pool to a different filesystem (open only)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(
		newInitCmd(logger),
		newBackupCmd(logger),
		newRestoreCmd(logger),
		newListCmd(logger),
		newCleanCmd(logger),
		versionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
