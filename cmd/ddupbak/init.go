package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"ddupbak/internal/config"
	"ddupbak/internal/repository"
)

func newInitCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a fresh repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			repoDir, err := cmd.Flags().GetString("repo")
			if err != nil || repoDir == "" {
				return errors.New("--repo is required")
			}
			chunkSize, _ := cmd.Flags().GetInt("chunk-size")
			maxChunkCount, _ := cmd.Flags().GetInt("max-chunk-count")
			ignored, _ := cmd.Flags().GetStringSlice("ignore")

			if chunkSize <= 0 {
				chunkSize = config.DefaultChunkSize
			}

			repo, err := repository.Create(repoDir, chunkSize, maxChunkCount, ignored, logger)
			if err != nil {
				return err
			}
			return repo.Close()
		},
	}
	cmd.Flags().Int("chunk-size", config.DefaultChunkSize, "maximum chunk size in bytes")
	cmd.Flags().Int("max-chunk-count", 0, "advisory chunk-count hint")
	cmd.Flags().StringSlice("ignore", nil, "exact/prefix ignored path (repeatable)")
	return cmd
}
