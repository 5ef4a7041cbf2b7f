package main

import (
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jobqueue/internal/store/sqlite"
)

var dbPath string

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobqueuectl",
		Short: "Inspect and manipulate a jobqueue store",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "jobqueue.db", "path to the SQLite store file")

	cmd.AddCommand(listCmd())
	cmd.AddCommand(enqueueCmd())
	cmd.AddCommand(scheduleCmd())
	return cmd
}

func openStore() (*sqlite.Store, error) {
	return sqlite.Open(dbPath)
}
