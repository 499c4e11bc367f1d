package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"ddupbak/internal/repository"
)

func newRestoreCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <name> <dest>",
		Short: "Restore an archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoDir, err := cmd.Flags().GetString("repo")
			if err != nil || repoDir == "" {
				return errors.New("--repo is required")
			}
			chunksDir, _ := cmd.Flags().GetString("chunks-dir")
			threads, _ := cmd.Flags().GetInt("threads")
			verbose, _ := cmd.Flags().GetBool("verbose")

			repo, err := repository.Open(repoDir, chunksDir, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			name, dest := args[0], args[1]
			var progress func(path string)
			if verbose {
				progress = func(path string) { logger.Info("restored", "path", path) }
			}

			root, err := repo.RestoreArchive(context.Background(), name, dest, progress, threads)
			if err != nil {
				return err
			}
			logger.Info("restore complete", "archive", name, "root", root)
			return nil
		},
	}
	cmd.Flags().Int("threads", 4, "number of worker goroutines")
	cmd.Flags().Bool("verbose", false, "log per-file restore progress")
	return cmd
}
