package main

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shelfmesh/shelfmesh/internal/server"
	"github.com/shelfmesh/shelfmesh/internal/server/config"
)

// readPassword prompts without echoing.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func newOperatorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage operator accounts",
	}
	cmd.AddCommand(newOperatorAddCommand())
	return cmd
}

func newOperatorAddCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "add <username>",
		Short: "Create an operator account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword("Password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			confirm, err := readPassword("Repeat password: ")
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if password != confirm {
				return fmt.Errorf("passwords do not match")
			}

			cfg := config.LoadConfig()
			app, err := server.NewApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			op, err := app.Operators.Register(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("operator %s created (%s)\n", op.Username, op.ID)
			return nil
		},
	}
}
