package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"recink/internal/api"
	"recink/internal/config"
)

func newUploadCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var uploadURL string
	var uploadID string
	var token string
	var contentType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a file against a presigned slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			endpoint := uploadURL
			if endpoint == "" {
				if uploadID == "" || token == "" {
					return fmt.Errorf("either --url or both --id and --token are required")
				}
				endpoint = "/v1/uploads/" + url.PathEscape(uploadID) + "?token=" + url.QueryEscape(token)
			}

			ct := contentType
			if ct == "" {
				ct = mediaTypeForFile(path)
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Upload(cmd.Context(), endpoint, ct, f)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				return writePlain("%s %d\n", resp.BlobRef, resp.SizeBytes)
			})
		},
	}

	cmd.Flags().StringVar(&uploadURL, "url", "", "upload URL from a presign response")
	cmd.Flags().StringVar(&uploadID, "id", "", "upload id from a presign response")
	cmd.Flags().StringVar(&token, "token", "", "upload token from a presign response")
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type")
	return cmd
}
