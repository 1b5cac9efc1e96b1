package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rs/zerolog"

	"github.com/wscache/wscache/internal/cache"
	"github.com/wscache/wscache/internal/config"
	"github.com/wscache/wscache/internal/identity"
	"github.com/wscache/wscache/internal/logging"
	"github.com/wscache/wscache/internal/refresh"
	"github.com/wscache/wscache/internal/slackapi"
)

// app bundles the constructed core for a single command invocation.
// Every subcommand builds one of these from persistent flags, uses it,
// then closes the engine.
type app struct {
	opts     *config.Options
	engine   *cache.Engine
	client   *slackapi.Client
	enricher *identity.Enricher
	orch     *refresh.Orchestrator
	log      zerolog.Logger
}

func logFromApp(a *app) zerolog.Logger { return a.log }

func buildApp(cmd *cobra.Command) (*app, error) {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	configPath, _ := cmd.Flags().GetString("config")

	log := logging.New(logging.Config{Level: logging.Level(logLevel), JSONOutput: logJSON})

	opts, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	engine, err := cache.NewEngine(expandPath(opts.DataPath), cache.WithLogger(log), cache.WithMaxConnections(opts.MaxConnections))
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	client := slackapi.NewClient(slackapi.Config{
		BaseURL:         opts.BaseURL,
		BotToken:        opts.BotToken,
		UserToken:       opts.UserToken,
		Timeout:         durationSeconds(opts.TimeoutSeconds),
		MaxConnections:  opts.MaxConnections,
		RequestsPerMin:  opts.RequestsPerMinute,
		MaxAttempts:     opts.MaxAttempts,
		InitialDelay:    durationMillis(opts.InitialDelayMs),
		MaxDelay:        durationMillis(opts.MaxDelayMs),
		ExponentialBase: opts.ExponentialBase,
	}, log)

	enricher := identity.NewEnricher(engine.Users)
	orch := refresh.New(engine, client, log, refresh.WithTTLHours(opts.TTLUsersHours, opts.TTLChannelsHours))

	return &app{opts: opts, engine: engine, client: client, enricher: enricher, orch: orch, log: log}, nil
}

func (a *app) Close() error {
	return a.engine.Close()
}

// expandPath resolves a leading "~" to the user's home directory, since
// viper/mapstructure never do this for us.
func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func durationSeconds(n int) time.Duration { return time.Duration(n) * time.Second }
func durationMillis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }
