package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shelfmesh/shelfmesh/internal/server"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shelfmesh",
		Short:         "Federated library catalogue server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newOperatorCommand())

	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the catalogue server",
		// Config flags (-a, -d, -n, ...) are parsed by the config
		// package itself, not by cobra.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			app, err := server.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Run(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:                "migrate",
		Short:              "Apply pending database migrations and exit",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			return server.Migrate(cmd.Context(), cfg)
		},
	}
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
