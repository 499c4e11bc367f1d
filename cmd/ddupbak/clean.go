package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"ddupbak/internal/chunkstore"
	"ddupbak/internal/repository"
)

func newCleanCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Reclaim chunks with a zero refcount",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoDir, err := cmd.Flags().GetString("repo")
			if err != nil || repoDir == "" {
				return errors.New("--repo is required")
			}
			chunksDir, _ := cmd.Flags().GetString("chunks-dir")
			verbose, _ := cmd.Flags().GetBool("verbose")

			repo, err := repository.Open(repoDir, chunksDir, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			var progress chunkstore.GCProgress
			if verbose {
				progress = func(res chunkstore.GCResult) {
					logger.Info("gc", "hash", res.Hash.String(), "deleted", res.Deleted)
				}
			}

			deleted, err := repo.Clean(progress)
			if err != nil {
				return err
			}
			logger.Info("clean complete", "deleted", deleted)
			return nil
		},
	}
	cmd.Flags().Bool("verbose", false, "log per-chunk GC decisions")
	return cmd
}
