package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/wscache/wscache/internal/refresh"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive shell over the cache: search, get, refresh, stats",
	RunE:  runRepl,
}

// runRepl follows the teacher's Chat.Run shape: build a readline
// instance, loop reading one line at a time, parse it into a tiny
// command, dispatch, print, repeat — generalized from an LLM
// conversation loop to the handful of cache commands below.
func runRepl(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mwscache>\033[0m ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	ctx := cmd.Context()
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if err := a.dispatchReplLine(ctx, os.Stdout, line); err != nil {
			fmt.Fprintf(os.Stderr, "\033[31merror: %v\033[0m\n", err)
		}
	}
}

func (a *app) dispatchReplLine(ctx context.Context, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "help":
		fmt.Fprintln(out, "commands: search <users|channels> <query> [limit], get <user|channel> <id>, refresh <users|channels|all>, stats")
		return nil
	case "search":
		if len(fields) < 3 {
			return fmt.Errorf("usage: search <users|channels> <query> [limit]")
		}
		limit := 20
		if len(fields) > 3 {
			if n, err := strconv.Atoi(fields[3]); err == nil {
				limit = n
			}
		}
		return a.replSearch(ctx, out, fields[1], fields[2], limit)
	case "get":
		if len(fields) != 3 {
			return fmt.Errorf("usage: get <user|channel> <id>")
		}
		return a.replGet(ctx, out, fields[1], fields[2])
	case "refresh":
		if len(fields) != 2 {
			return fmt.Errorf("usage: refresh <users|channels|all>")
		}
		return a.replRefresh(ctx, out, fields[1])
	case "stats":
		return a.replStats(ctx, out)
	default:
		return fmt.Errorf("unknown command %q (try \"help\")", fields[0])
	}
}

func (a *app) replSearch(ctx context.Context, out io.Writer, entity, query string, limit int) error {
	switch entity {
	case "users":
		users, err := a.engine.Users.Search(ctx, query, limit)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(out, "%s\t%s\t%s\n", u.ID, u.Name, u.DisplayName)
		}
	case "channels":
		channels, err := a.engine.Channels.Search(ctx, query, limit)
		if err != nil {
			return err
		}
		for _, c := range channels {
			fmt.Fprintf(out, "%s\t%s\n", c.ID, c.Name)
		}
	default:
		return fmt.Errorf("entity must be \"users\" or \"channels\"")
	}
	return nil
}

func (a *app) replGet(ctx context.Context, out io.Writer, entity, id string) error {
	switch entity {
	case "user":
		user, found, err := a.engine.Users.Get(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no such user: %s", id)
		}
		return json.NewEncoder(out).Encode(user)
	case "channel":
		channel, found, err := a.engine.Channels.Get(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no such channel: %s", id)
		}
		return json.NewEncoder(out).Encode(channel)
	default:
		return fmt.Errorf("entity must be \"user\" or \"channel\"")
	}
}

func (a *app) replRefresh(ctx context.Context, out io.Writer, scope string) error {
	if err := a.orch.Refresh(ctx, refresh.Scope(scope)); err != nil {
		return err
	}
	fmt.Fprintf(out, "refreshed %s\n", scope)
	return nil
}

func (a *app) replStats(ctx context.Context, out io.Writer) error {
	usersCount, err := a.engine.Users.Count(ctx)
	if err != nil {
		return err
	}
	channelsCount, err := a.engine.Channels.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "users: %d cached, channels: %d cached\n", usersCount, channelsCount)
	return nil
}
