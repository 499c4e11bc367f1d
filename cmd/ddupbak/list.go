package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ddupbak/internal/repository"
)

func newListCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archives in the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repoDir, err := cmd.Flags().GetString("repo")
			if err != nil || repoDir == "" {
				return errors.New("--repo is required")
			}
			chunksDir, _ := cmd.Flags().GetString("chunks-dir")

			repo, err := repository.Open(repoDir, chunksDir, logger)
			if err != nil {
				return err
			}
			defer repo.Close()

			names, err := repo.ListArchives()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
	return cmd
}
