package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, `bot_token: xoxb-test`)

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.TTLUsersHours != 24 || opts.TTLChannelsHours != 24 {
		t.Fatalf("default TTLs = %d/%d, want 24/24", opts.TTLUsersHours, opts.TTLChannelsHours)
	}
	if opts.RequestsPerMinute != 20 {
		t.Fatalf("default requests_per_minute = %d, want 20", opts.RequestsPerMinute)
	}
	if opts.MaxAttempts != 3 {
		t.Fatalf("default max_attempts = %d, want 3", opts.MaxAttempts)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfigFile(t, `
bot_token: xoxb-test
ttl_users_hours: 6
requests_per_minute: 40
`)

	opts, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if opts.TTLUsersHours != 6 {
		t.Fatalf("ttl_users_hours = %d, want 6", opts.TTLUsersHours)
	}
	if opts.RequestsPerMinute != 40 {
		t.Fatalf("requests_per_minute = %d, want 40", opts.RequestsPerMinute)
	}
}

func TestLoadRequiresAtLeastOneToken(t *testing.T) {
	path := writeConfigFile(t, `ttl_users_hours: 6`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error when neither bot_token nor user_token is set")
	}
}

func TestWatchFileReloadsOnWrite(t *testing.T) {
	path := writeConfigFile(t, `
bot_token: xoxb-test
ttl_users_hours: 6
`)

	changes := make(chan *Options, 4)
	w, err := WatchFile(context.Background(), path, func(o *Options) { changes <- o })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer w.Close()

	if err := os.WriteFile(path, []byte("bot_token: xoxb-test\nttl_users_hours: 12\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case o := <-changes:
		if o.TTLUsersHours != 12 {
			t.Fatalf("reloaded ttl_users_hours = %d, want 12", o.TTLUsersHours)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for config reload callback")
	}
}

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}
