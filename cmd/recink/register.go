package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"recink/internal/api"
	"recink/internal/config"
)

// registerManifest is the YAML shape accepted by --manifest.
type registerManifest struct {
	BatchID string                 `yaml:"batch_id"`
	Items   []registerManifestItem `yaml:"items"`
}

type registerManifestItem struct {
	ClientItemID string         `yaml:"client_item_id"`
	BlobRef      string         `yaml:"blob_ref"`
	Metadata     map[string]any `yaml:"metadata"`
}

func newRegisterCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var batchID string
	var idempotencyKey string
	var manifestPath string

	cmd := &cobra.Command{
		Use:   "register [<blob_ref>...]",
		Short: "Register uploaded blobs as recordings",
		Long: `Register uploaded blobs as recordings against a batch. Blob refs can
be given as arguments, or a YAML manifest can carry refs together with
per-item metadata.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.RegisterRequest{
				BatchID:        batchID,
				IdempotencyKey: idempotencyKey,
			}

			if manifestPath != "" {
				manifest, err := loadRegisterManifest(manifestPath)
				if err != nil {
					return err
				}
				if req.BatchID == "" {
					req.BatchID = manifest.BatchID
				}
				for _, item := range manifest.Items {
					req.Items = append(req.Items, api.RegisterItemRequest{
						ClientItemID: item.ClientItemID,
						BlobRef:      item.BlobRef,
						Metadata:     item.Metadata,
					})
				}
			}
			for _, ref := range args {
				req.Items = append(req.Items, api.RegisterItemRequest{BlobRef: ref})
			}

			if req.BatchID == "" {
				return fmt.Errorf("--batch is required")
			}
			if len(req.Items) == 0 {
				return fmt.Errorf("at least one blob ref or a manifest is required")
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Register(cmd.Context(), req)
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				for _, rec := range resp.Recordings {
					if err := writePlain("%s %s\n", rec.RecordingID, rec.BlobRef); err != nil {
						return err
					}
				}
				if resp.Replayed {
					if err := writePlain("(replayed)\n"); err != nil {
						return err
					}
				}
				return writePlain("status: %s\n", resp.Status)
			})
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch to register against")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "idempotency key for safe retries")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "YAML manifest with items and metadata")
	return cmd
}

func loadRegisterManifest(path string) (*registerManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest registerManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return &manifest, nil
}
