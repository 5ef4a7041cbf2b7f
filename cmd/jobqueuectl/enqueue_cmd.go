package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue [type] [json-payload]",
		Short: "Insert one Pending job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, rawPayload := args[0], args[1]

			var payload any
			if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
				return fmt.Errorf("payload must be valid JSON: %w", err)
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Insert(context.Background(), typ, string(data))
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			fmt.Printf("Enqueued job %s (type=%s)\n", id, typ)
			return nil
		},
	}
}
