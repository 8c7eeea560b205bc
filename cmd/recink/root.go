package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"recink/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "recink",
		Short: "Recink is a mock ingest pipeline for audio recordings",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if warning := configureLoggerForCLI(logLevel); warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newSrvCmd(cfg),
		newPresignCmd(cfg, &jsonOutput),
		newUploadCmd(cfg, &jsonOutput),
		newRegisterCmd(cfg, &jsonOutput),
		newShowCmd(cfg, &jsonOutput),
		newListCmd(cfg, &jsonOutput),
		newDeleteCmd(cfg, &jsonOutput),
		newMediaCmd(cfg),
		newPollCmd(cfg, &jsonOutput),
		newDemoCmd(cfg, &jsonOutput),
		newVerifyCmd(cfg, &jsonOutput),
		newKeyCmd(),
		newConfigCmd(cfg),
	)

	return cmd
}
