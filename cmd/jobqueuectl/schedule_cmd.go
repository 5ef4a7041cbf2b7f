package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jobqueue/internal/cronexpr"
)

func scheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule [type] [cron-expression]",
		Short: "Create or update the scheduled job for a type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, expr := args[0], args[1]

			if err := cronexpr.Validate(expr); err != nil {
				return fmt.Errorf("invalid cron expression provided: %w", err)
			}
			next, err := cronexpr.Next(expr, time.Now())
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			sj, err := s.UpsertSchedule(context.Background(), typ, expr, next)
			if err != nil {
				return fmt.Errorf("upsert schedule: %w", err)
			}
			fmt.Printf("Scheduled %s (id=%s) next run at %s\n", sj.Type, sj.ID, sj.NextRun.Format(time.DateTime))
			return nil
		},
	}
}
