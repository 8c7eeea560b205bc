package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"recink/internal/api"
	"recink/internal/config"
)

func newMediaCmd(cfg *config.Config) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "media <recording_id>",
		Short: "Download a recording's media bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out io.Writer = os.Stdout
			if outputPath != "" {
				f, err := os.Create(outputPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}

			return withClient(cfg, func(client *api.Client) error {
				_, err := client.DownloadMedia(cmd.Context(), args[0], out)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write media to a file instead of stdout")
	return cmd
}
