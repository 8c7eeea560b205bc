package main

import (
	"github.com/spf13/cobra"

	"recink/internal/auth"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "API key utilities",
	}
	cmd.AddCommand(newKeyHashCmd())
	return cmd
}

func newKeyHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <key>",
		Short: "Hash an API key for the api_key_hash config entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashed, err := auth.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			return writePlain("%s\n", hashed)
		},
	}
}
