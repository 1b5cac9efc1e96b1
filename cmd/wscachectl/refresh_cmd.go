package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wscache/wscache/internal/refresh"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [users|channels|all]",
	Short: "Synchronously refresh one or both entities from the remote API",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	scope := refresh.Scope(args[0])
	if err := a.orch.Refresh(cmd.Context(), scope); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "refreshed %s\n", scope)
	return nil
}
