package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/vessel-dashboard/internal/cleanup"
	"github.com/p-blackswan/vessel-dashboard/internal/store"
)

func newArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Archive old chats and purge old usage and events, then exit",
		RunE:  runArchive,
	}
}

func runArchive(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	rep, err := cleanup.NewArchiver(st, logger).Run(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), rep.String())
	return nil
}
