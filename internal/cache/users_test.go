package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestUserRepo(t *testing.T) *UserRepository {
	t.Helper()
	p := newTestPool(t)
	lm := newLockManager(p, "test-holder", zerolog.Nop())
	return newUserRepository(p, lm, zerolog.Nop())
}

func TestUserSaveGetRoundTrip(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	users := []User{
		{ID: "U1", Name: "alice", DisplayName: "Alice A", RealName: "Alice Anderson"},
		{ID: "U2", Name: "bob", DisplayName: "Bob B", RealName: "Bob Brown"},
	}
	if err := repo.Save(ctx, users); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Property 1 from spec.md §8: every saved id is gettable, absent ids are not.
	for _, u := range users {
		got, found, err := repo.Get(ctx, u.ID)
		if err != nil || !found {
			t.Fatalf("Get(%s): found=%v err=%v", u.ID, found, err)
		}
		if got.Name != u.Name {
			t.Fatalf("Get(%s).Name = %q, want %q", u.ID, got.Name, u.Name)
		}
	}

	_, found, err := repo.Get(ctx, "U-absent")
	if err != nil {
		t.Fatalf("Get(absent): %v", err)
	}
	if found {
		t.Fatal("expected absent id to be not-found")
	}

	n, err := repo.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v; want 2, nil", n, err)
	}
}

func TestUserSaveReplacesWholeSnapshot(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, []User{{ID: "U1", Name: "alice"}, {ID: "U2", Name: "bob"}}); err != nil {
		t.Fatalf("Save 1: %v", err)
	}
	if err := repo.Save(ctx, []User{{ID: "U3", Name: "carol"}}); err != nil {
		t.Fatalf("Save 2: %v", err)
	}

	if _, found, _ := repo.Get(ctx, "U1"); found {
		t.Fatal("U1 should have been dropped by the second snapshot")
	}
	if _, found, _ := repo.Get(ctx, "U3"); !found {
		t.Fatal("U3 should be present after the second snapshot")
	}

	n, _ := repo.Count(ctx)
	if n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}
}

// TestRefreshFetchesUnderLock is scenario S4 from spec.md §8: the fetch
// closure must run under the same lock as the swap, so a second
// concurrent Refresh either blocks until the first finishes (and sees
// its result already applied) or fails to acquire the lock — it never
// runs its own fetch concurrently with the first.
func TestRefreshFetchesUnderLock(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	var fetchesInFlight, maxConcurrentFetches int32
	fetch := func(ctx context.Context) ([]User, error) {
		n := atomic.AddInt32(&fetchesInFlight, 1)
		if n > atomic.LoadInt32(&maxConcurrentFetches) {
			atomic.StoreInt32(&maxConcurrentFetches, n)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&fetchesInFlight, -1)
		return []User{{ID: "U1", Name: "alice"}}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.Refresh(ctx, fetch)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxConcurrentFetches); got > 1 {
		t.Fatalf("max concurrent fetches = %d, want 1 (fetch must run under the lock)", got)
	}

	got, found, err := repo.Get(ctx, "U1")
	if err != nil || !found || got.Name != "alice" {
		t.Fatalf("Get(U1) = %+v, found=%v, err=%v", got, found, err)
	}
}

func TestRefreshDoesNotMutateCacheOnFetchError(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, []User{{ID: "U1", Name: "alice"}}); err != nil {
		t.Fatalf("seed Save: %v", err)
	}

	boom := errors.New("boom")
	err := repo.Refresh(ctx, func(ctx context.Context) ([]User, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Refresh error = %v, want boom", err)
	}

	got, found, _ := repo.Get(ctx, "U1")
	if !found || got.Name != "alice" {
		t.Fatalf("cache was mutated despite fetch failure: found=%v got=%+v", found, got)
	}
}

func TestUserSaveDuplicateIdsLastWins(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	err := repo.Save(ctx, []User{
		{ID: "U1", Name: "first"},
		{ID: "U1", Name: "second"},
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := repo.Get(ctx, "U1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if got.Name != "second" {
		t.Fatalf("Get(U1).Name = %q, want %q (last-wins)", got.Name, "second")
	}
}

// TestSearchSubstringRanking is scenario S2 from spec.md §8.
func TestSearchSubstringRanking(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	users := []User{
		// "hannah" carries "ann" only as an interior substring (h-ANN-ah),
		// not a prefix or word-boundary hit, so it lands at score 3.
		{ID: "U4", Name: "hannah", DisplayName: "hannah"},
		{ID: "U2", Name: "anne", DisplayName: "anne"},
		{ID: "U3", Name: "annmarie", DisplayName: "annmarie"},
		{ID: "U1", Name: "ann", DisplayName: "ann"},
	}
	if err := repo.Save(ctx, users); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := repo.Search(ctx, "ann", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	want := []string{"ann", "anne", "annmarie", "hannah"}
	if len(results) != len(want) {
		t.Fatalf("Search returned %d results, want %d: %+v", len(results), len(want), results)
	}
	for i, u := range results {
		if u.Name != want[i] {
			t.Errorf("result[%d] = %q, want %q", i, u.Name, want[i])
		}
	}
}

// TestSearchFTSFallback is scenario S3 from spec.md §8.
func TestSearchFTSFallback(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, []User{
		{ID: "U1", Name: "jonathan", RealName: "Jonathan O'Brien"},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// "brien" matches as a substring of real_name in phase 1 already.
	results, err := repo.Search(ctx, "brien", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "U1" {
		t.Fatalf("Search(brien) = %+v, want [U1]", results)
	}

	// A query with no substring hit anywhere but a valid FTS token must
	// fall through to phase 2 and still find the row. The unicode61
	// tokenizer splits "O'Brien" at the apostrophe into "o" and "brien",
	// so the phrase uses those same tokens.
	results, err = repo.Search(ctx, "jonathan o brien", 5)
	if err != nil {
		t.Fatalf("Search (fts fallback): %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected FTS fallback phase to find the row via multi-word MATCH")
	}
}

// TestSearchDegenerateQuery is scenario S6 from spec.md §8.
func TestSearchDegenerateQuery(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, []User{{ID: "U1", Name: "ann"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := repo.Search(ctx, `* "; DROP`, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("Search(degenerate) = %+v, want []", results)
	}
}

// TestSearchRespectsLimit is property 5 from spec.md §8.
func TestSearchRespectsLimit(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	var users []User
	for i := 0; i < 20; i++ {
		users = append(users, User{ID: string(rune('A' + i)), Name: "match" + string(rune('a'+i))})
	}
	if err := repo.Save(ctx, users); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := repo.Search(ctx, "match", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) > 5 {
		t.Fatalf("Search returned %d results, want <= 5", len(results))
	}
}

func TestSearchExcludesBots(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	if err := repo.Save(ctx, []User{
		{ID: "U1", Name: "annbot", IsBot: true},
		{ID: "U2", Name: "annhuman", IsBot: false},
	}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	results, err := repo.Search(ctx, "ann", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, u := range results {
		if u.IsBot {
			t.Fatalf("bot user %q should be excluded from default search", u.Name)
		}
	}
	if len(results) != 1 || results[0].ID != "U2" {
		t.Fatalf("Search = %+v, want only U2", results)
	}
}

func TestIsStale(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	stale, err := repo.IsStale(ctx, 24)
	if err != nil || !stale {
		t.Fatalf("expected stale=true when never synced, got %v, %v", stale, err)
	}

	if err := repo.Save(ctx, []User{{ID: "U1", Name: "ann"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stale, err = repo.IsStale(ctx, 24)
	if err != nil || stale {
		t.Fatalf("expected stale=false right after save, got %v, %v", stale, err)
	}

	// last_users_sync is stamped in whole seconds and "stale" means
	// strictly older than the cutoff, so let the clock move past the
	// save's second before checking a 0-hour TTL.
	time.Sleep(1100 * time.Millisecond)
	stale, err = repo.IsStale(ctx, 0)
	if err != nil || !stale {
		t.Fatalf("expected stale=true with a 0-hour TTL, got %v, %v", stale, err)
	}
}

func TestIsEmpty(t *testing.T) {
	repo := newTestUserRepo(t)
	ctx := context.Background()

	empty, err := repo.IsEmpty(ctx)
	if err != nil || !empty {
		t.Fatalf("expected empty=true before any save, got %v, %v", empty, err)
	}

	if err := repo.Save(ctx, []User{{ID: "U1", Name: "ann"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	empty, err = repo.IsEmpty(ctx)
	if err != nil || empty {
		t.Fatalf("expected empty=false after save, got %v, %v", empty, err)
	}
}
