package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"ddupbak/internal/builder"
	"ddupbak/internal/repository"
)

func newBackupCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <name> <dir>",
		Short: "Create an archive from a directory tree",
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

			name, dir := args[0], args[1]
			opts := builder.Options{Threads: threads}
			if verbose {
				opts.Chunking = func(path string) { logger.Info("chunking", "path", path) }
				opts.Archiving = func(path string) { logger.Info("archived", "path", path) }
			}

			a, err := repo.CreateArchive(context.Background(), name, dir, opts)
			if err != nil {
				return err
			}
			logger.Info("backup complete", "archive", a.Name, "id", a.ID, "chunks", len(a.ChunkTable))
			return nil
		},
	}
	cmd.Flags().Int("threads", 4, "number of worker goroutines")
	cmd.Flags().Bool("verbose", false, "log per-file chunking/archiving progress")
	return cmd
}
