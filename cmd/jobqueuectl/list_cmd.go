package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/jobqueue/internal/store"
)

var (
	statusPending    = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	statusProcessing = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // blue
	statusDone       = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	statusFailed     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
)

func styleStatus(s store.JobStatus) string {
	switch s {
	case store.JobPending:
		return statusPending.Render(string(s))
	case store.JobProcessing:
		return statusProcessing.Render(string(s))
	case store.JobDone:
		return statusDone.Render(string(s))
	case store.JobFailed:
		return statusFailed.Render(string(s))
	default:
		return string(s)
	}
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job types/counts or scheduled jobs",
	}
	cmd.AddCommand(listJobsCmd())
	cmd.AddCommand(listSchedulesCmd())
	return cmd
}

func listJobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List job types and their per-status counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			types, err := s.JobTypes(ctx)
			if err != nil {
				return fmt.Errorf("list job types: %w", err)
			}
			if len(types) == 0 {
				fmt.Println("No jobs.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "TYPE\tPENDING\tPROCESSING\tDONE\tFAILED\n")
			for _, typ := range types {
				row := make([]int, 0, 4)
				for _, status := range []store.JobStatus{store.JobPending, store.JobProcessing, store.JobDone, store.JobFailed} {
					n, err := s.CountJobs(ctx, store.JobFilter{Type: typ, Status: status})
					if err != nil {
						return fmt.Errorf("count jobs: %w", err)
					}
					row = append(row, n)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					typ,
					styleStatus(store.JobPending)+" "+fmt.Sprint(row[0]),
					styleStatus(store.JobProcessing)+" "+fmt.Sprint(row[1]),
					styleStatus(store.JobDone)+" "+fmt.Sprint(row[2]),
					styleStatus(store.JobFailed)+" "+fmt.Sprint(row[3]),
				)
			}
			return tw.Flush()
		},
	}
}

func listSchedulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedules",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			rows, err := s.ScheduledJobs(context.Background())
			if err != nil {
				return fmt.Errorf("list scheduled jobs: %w", err)
			}
			if len(rows) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tTYPE\tCRON\tSTATUS\tNEXT RUN\n")
			for _, sj := range rows {
				idShort := sj.ID.String()
				if len(idShort) > 8 {
					idShort = idShort[:8]
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					idShort, sj.Type, sj.CronExpression, sj.Status, sj.NextRun.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}
