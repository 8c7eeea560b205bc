package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"recink/internal/api"
	"recink/internal/config"
)

func newPollCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var until string
	var interval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "poll <batch_id>",
		Short: "Poll a batch until it reaches a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := args[0]

			return withClient(cfg, func(client *api.Client) error {
				deadline := time.Now().Add(timeout)
				for {
					resp, err := client.GetBatch(cmd.Context(), batchID)
					if err != nil {
						return err
					}
					if resp.Status == until {
						if *jsonOutput {
							return writeJSON(resp)
						}
						return writePlain("%s %s\n", resp.BatchID, resp.Status)
					}
					if time.Now().After(deadline) {
						return fmt.Errorf("batch %s is %s, not %s after %s", batchID, resp.Status, until, timeout)
					}
					select {
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					case <-time.After(interval):
					}
				}
			})
		},
	}

	cmd.Flags().StringVar(&until, "until", "complete", "status to wait for")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
