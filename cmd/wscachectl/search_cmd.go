package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search [users|channels] query",
	Short: "Run the two-phase search against the local cache",
	Args:  cobra.ExactArgs(2),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().Int("limit", 20, "Maximum number of results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	entity, query := args[0], args[1]
	out := cmd.OutOrStdout()

	switch entity {
	case "users":
		users, err := a.engine.Users.Search(cmd.Context(), query, limit)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(out, "%s\t%s\t%s\n", u.ID, u.Name, u.DisplayName)
		}
	case "channels":
		channels, err := a.engine.Channels.Search(cmd.Context(), query, limit)
		if err != nil {
			return err
		}
		for _, c := range channels {
			fmt.Fprintf(out, "%s\t%s\n", c.ID, c.Name)
		}
	default:
		return fmt.Errorf("entity must be \"users\" or \"channels\", got %q", entity)
	}
	return nil
}
