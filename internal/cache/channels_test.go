package cache

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestChannelRepo(t *testing.T) *ChannelRepository {
	t.Helper()
	p := newTestPool(t)
	lm := newLockManager(p, "test-holder", zerolog.Nop())
	return newChannelRepository(p, lm, zerolog.Nop())
}

func TestChannelSaveGetRoundTrip(t *testing.T) {
	repo := newTestChannelRepo(t)
	ctx := context.Background()

	channels := []Channel{
		{ID: "C1", Name: "general", IsPrivate: false},
		{ID: "C2", Name: "random", IsPrivate: true},
	}
	if err := repo.Save(ctx, channels); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, c := range channels {
		got, found, err := repo.Get(ctx, c.ID)
		if err != nil || !found {
			t.Fatalf("Get(%s): found=%v err=%v", c.ID, found, err)
		}
		if got.Name != c.Name || got.IsPrivate != c.IsPrivate {
			t.Fatalf("Get(%s) = %+v, want %+v", c.ID, got, c)
		}
	}

	_, found, err := repo.Get(ctx, "C-absent")
	if err != nil || found {
		t.Fatalf("Get(absent): found=%v err=%v", found, err)
	}
}

func TestChannelSearchRanking(t *testing.T) {
	repo := newTestChannelRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, []Channel{
		{ID: "C1", Name: "eng-backend"},
		{ID: "C2", Name: "eng"},
		{ID: "C3", Name: "engineering"},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := repo.Search(ctx, "eng", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"eng", "eng-backend", "engineering"}
	if len(results) != len(want) {
		t.Fatalf("Search returned %d results, want %d: %+v", len(results), len(want), results)
	}
	for i, c := range results {
		if c.Name != want[i] {
			t.Errorf("result[%d] = %q, want %q", i, c.Name, want[i])
		}
	}
}

func TestChannelIsStaleAndEmpty(t *testing.T) {
	repo := newTestChannelRepo(t)
	ctx := context.Background()

	stale, err := repo.IsStale(ctx, 24)
	if err != nil || !stale {
		t.Fatalf("expected stale=true before any sync, got %v, %v", stale, err)
	}
	empty, err := repo.IsEmpty(ctx)
	if err != nil || !empty {
		t.Fatalf("expected empty=true before any save, got %v, %v", empty, err)
	}

	if err := repo.Save(ctx, []Channel{{ID: "C1", Name: "general"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stale, err = repo.IsStale(ctx, 24)
	if err != nil || stale {
		t.Fatalf("expected stale=false after save, got %v, %v", stale, err)
	}
	empty, err = repo.IsEmpty(ctx)
	if err != nil || empty {
		t.Fatalf("expected empty=false after save, got %v, %v", empty, err)
	}
}
