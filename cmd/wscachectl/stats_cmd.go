package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache row counts, staleness, and recent refresh attempts",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	usersCount, err := a.engine.Users.Count(ctx)
	if err != nil {
		return err
	}
	channelsCount, err := a.engine.Channels.Count(ctx)
	if err != nil {
		return err
	}
	usersStale, err := a.engine.Users.IsStale(ctx, a.opts.TTLUsersHours)
	if err != nil {
		return err
	}
	channelsStale, err := a.engine.Channels.IsStale(ctx, a.opts.TTLChannelsHours)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "users:    %s cached, stale=%v\n", humanize.Comma(int64(usersCount)), usersStale)
	fmt.Fprintf(out, "channels: %s cached, stale=%v\n", humanize.Comma(int64(channelsCount)), channelsStale)

	history := a.orch.History()
	if len(history) == 0 {
		fmt.Fprintln(out, "no refresh attempts recorded this process")
		return nil
	}
	fmt.Fprintln(out, "recent refresh attempts:")
	start := 0
	if len(history) > 10 {
		start = len(history) - 10
	}
	for _, attempt := range history[start:] {
		status := "ok"
		if attempt.Err != nil {
			status = attempt.Err.Error()
		}
		fmt.Fprintf(out, "  %s  %-8s count=%-5d %-8s %s\n",
			humanize.Time(attempt.StartedAt), attempt.Entity, attempt.Count, attempt.Duration, status)
	}
	return nil
}
