package commands

import (
	"github.com/spf13/cobra"

	"github.com/Anvisninger/signup-flow/internal/config"
)

var (
	version = "dev"

	envFiles []string
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "signup",
		Short:        "Anvisninger signup wizard and lookup proxies",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotenv(envFiles...)
		},
	}

	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(serveCmd(), cvrProxyCmd(), planProxyCmd())
	return root
}
