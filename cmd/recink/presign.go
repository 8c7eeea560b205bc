package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"recink/internal/api"
	"recink/internal/config"
)

func newPresignCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var batchID string
	var contentType string
	var count int

	cmd := &cobra.Command{
		Use:   "presign [<file>...]",
		Short: "Request upload slots for a batch",
		Long: `Request presigned upload slots. With file arguments the content type
is derived from each file extension; without arguments --content-type
and --count control how many anonymous slots are issued.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.PresignRequest{BatchID: batchID}

			if len(args) > 0 {
				for _, path := range args {
					ct := contentType
					if ct == "" {
						ct = mediaTypeForFile(path)
					}
					req.Items = append(req.Items, api.PresignItemRequest{
						Filename:    filepath.Base(path),
						ContentType: ct,
					})
				}
			} else {
				if contentType == "" {
					return fmt.Errorf("--content-type is required when no files are given")
				}
				if count < 1 {
					return fmt.Errorf("--count must be at least 1")
				}
				for i := 0; i < count; i++ {
					req.Items = append(req.Items, api.PresignItemRequest{ContentType: contentType})
				}
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Presign(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				if err := writePlain("batch_id: %s\nexpires_in_seconds: %d\n", resp.BatchID, resp.ExpiresInSeconds); err != nil {
					return err
				}
				for _, item := range resp.Items {
					if err := writePlain("%s %s\n", item.UploadID, item.UploadURL); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "append slots to an existing batch")
	cmd.Flags().StringVar(&contentType, "content-type", "", "declared content type for all slots")
	cmd.Flags().IntVar(&count, "count", 1, "number of slots when no files are given")
	return cmd
}

func mediaTypeForFile(path string) string {
	switch filepath.Ext(path) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".ogg":
		return "audio/ogg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
