package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"recink/internal/api"
	"recink/internal/config"
)

// newDemoCmd runs the whole pipeline end to end: presign, upload,
// register, show. Metadata for each file is read from an optional
// <file>.meta.yaml sidecar.
func newDemoCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "demo <file>...",
		Short: "Run the full presign/upload/register flow for files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cfg, func(client *api.Client) error {
				ctx := cmd.Context()

				presignReq := api.PresignRequest{BatchID: batchID}
				for _, path := range args {
					presignReq.Items = append(presignReq.Items, api.PresignItemRequest{
						Filename:    filepath.Base(path),
						ContentType: mediaTypeForFile(path),
					})
				}

				presigned, err := client.Presign(ctx, presignReq)
				if err != nil {
					return err
				}
				if len(presigned.Items) != len(args) {
					return fmt.Errorf("expected %d slots, got %d", len(args), len(presigned.Items))
				}

				registerReq := api.RegisterRequest{
					BatchID:        presigned.BatchID,
					IdempotencyKey: "demo_" + uuid.NewString(),
				}
				for i, path := range args {
					slot := presigned.Items[i]

					f, err := os.Open(path)
					if err != nil {
						return err
					}
					uploaded, err := client.Upload(ctx, slot.UploadURL, slot.ContentType, f)
					f.Close()
					if err != nil {
						return fmt.Errorf("upload %s: %w", path, err)
					}

					metadata, err := loadSidecarMetadata(path)
					if err != nil {
						return err
					}
					registerReq.Items = append(registerReq.Items, api.RegisterItemRequest{
						ClientItemID: filepath.Base(path),
						BlobRef:      uploaded.BlobRef,
						Metadata:     metadata,
					})
				}

				if _, err := client.Register(ctx, registerReq); err != nil {
					return err
				}

				batch, err := client.GetBatch(ctx, presigned.BatchID)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(batch)
				}
				return writeBatchDetail(batch)
			})
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "append to an existing batch")
	return cmd
}

func loadSidecarMetadata(path string) (map[string]any, error) {
	sidecar := path + ".meta.yaml"
	data, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var metadata map[string]any
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", sidecar, err)
	}
	return metadata, nil
}
