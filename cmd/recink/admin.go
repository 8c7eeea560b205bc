package main

import (
	"github.com/spf13/cobra"

	"recink/internal/api"
	"recink/internal/config"
)

func newVerifyCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Re-hash stored blobs against their content refs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Verify(cmd.Context())
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				if err := writePlain("checked %d blobs, %d mismatches\n", resp.CheckedBlobs, len(resp.Mismatches)); err != nil {
					return err
				}
				for _, mismatch := range resp.Mismatches {
					if err := writePlain("  %s: %s\n", mismatch.BlobRef, mismatch.Error); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}
