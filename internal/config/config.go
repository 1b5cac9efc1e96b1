// Package config loads and live-watches the options enumerated in
// spec.md §6: defaults, then an optional config file, then environment
// variables, layered the way spf13/viper layers configuration sources.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Options is every recognized configuration key from spec.md §6.
type Options struct {
	DataPath string `mapstructure:"data_path"`

	TTLUsersHours    int `mapstructure:"ttl_users_hours"`
	TTLChannelsHours int `mapstructure:"ttl_channels_hours"`

	MaxAttempts     int     `mapstructure:"max_attempts"`
	InitialDelayMs  int     `mapstructure:"initial_delay_ms"`
	MaxDelayMs      int     `mapstructure:"max_delay_ms"`
	ExponentialBase float64 `mapstructure:"exponential_base"`

	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxConnections int `mapstructure:"max_connections"`

	BotToken  string `mapstructure:"bot_token"`
	UserToken string `mapstructure:"user_token"`

	BaseURL string `mapstructure:"base_url"`

	AdminListenAddr string `mapstructure:"admin_listen_addr"`
}

// defaults mirrors spec.md §6 and §4.6's stated defaults.
func defaults(v *viper.Viper) {
	v.SetDefault("data_path", "~/.wscache/cache.db")
	v.SetDefault("ttl_users_hours", 24)
	v.SetDefault("ttl_channels_hours", 24)
	v.SetDefault("max_attempts", 3)
	v.SetDefault("initial_delay_ms", 1000)
	v.SetDefault("max_delay_ms", 60000)
	v.SetDefault("exponential_base", 2.0)
	v.SetDefault("requests_per_minute", 20)
	v.SetDefault("timeout_seconds", 30)
	v.SetDefault("max_connections", 10)
	v.SetDefault("admin_listen_addr", "127.0.0.1:8808")
}

// Load reads configuration from defaults, an optional file at path (if
// non-empty and present), and WSCACHE_-prefixed environment variables,
// in that increasing order of precedence.
func Load(path string) (*Options, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("wscache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func validate(o *Options) error {
	if o.BotToken == "" && o.UserToken == "" {
		return fmt.Errorf("config: at least one of bot_token or user_token must be set")
	}
	return nil
}

// Watcher live-reloads TTL and rate-limit edits from a config file,
// following the teacher's Engine.WatchFile fsnotify pattern: one watcher
// goroutine, Write events trigger the callback, errors are logged and
// otherwise ignored.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	onChange func(*Options)
}

// WatchFile watches path for writes and calls onChange with a freshly
// reloaded Options on every one. Reload errors are swallowed — a
// malformed in-progress edit should not crash the live configuration.
func WatchFile(ctx context.Context, path string, onChange func(*Options)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config file %s: %w", path, err)
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Watcher{path: path, watcher: fw, cancel: cancel, onChange: onChange}

	go func() {
		defer fw.Close()
		// Debounce rapid successive writes (editors often fire several
		// events per save) by waiting briefly for things to settle.
		var pending *time.Timer
		for {
			select {
			case <-wctx.Done():
				return
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(100*time.Millisecond, func() {
					if opts, err := Load(path); err == nil {
						onChange(opts)
					}
				})
			case <-fw.Errors:
			}
		}
	}()

	return w, nil
}

// Close stops the watcher goroutine.
func (w *Watcher) Close() error {
	w.cancel()
	return nil
}
