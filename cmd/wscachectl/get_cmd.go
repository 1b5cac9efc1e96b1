package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:   "get [user|channel] id",
	Short: "Point-get a single cached entity by id",
	Args:  cobra.ExactArgs(2),
	RunE:  runGet,
}

func runGet(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entity, id := args[0], args[1]
	out := cmd.OutOrStdout()

	switch entity {
	case "user":
		user, found, err := a.engine.Users.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no such user: %s", id)
		}
		return json.NewEncoder(out).Encode(user)
	case "channel":
		channel, found, err := a.engine.Channels.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no such channel: %s", id)
		}
		return json.NewEncoder(out).Encode(channel)
	default:
		return fmt.Errorf("entity must be \"user\" or \"channel\", got %q", entity)
	}
}
