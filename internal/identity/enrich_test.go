package identity

import (
	"context"
	"testing"

	"github.com/wscache/wscache/internal/cache"
)

type fakeUserRepo struct {
	users map[string]cache.User
	calls int
}

func (f *fakeUserRepo) Get(ctx context.Context, id string) (*cache.User, bool, error) {
	f.calls++
	u, ok := f.users[id]
	if !ok {
		return nil, false, nil
	}
	return &u, true, nil
}

func TestLabelFallbackChain(t *testing.T) {
	repo := &fakeUserRepo{users: map[string]cache.User{
		"U1": {ID: "U1", Name: "alice", DisplayName: "Ally", RealName: "Alice A"},
		"U2": {ID: "U2", Name: "bob", RealName: "Bob B"},
		"U3": {ID: "U3", Name: "carol"},
		"U4": {ID: "U4"},
	}}
	e := NewEnricher(repo)
	ctx := context.Background()

	cases := map[string]string{
		"U1":      "Ally",
		"U2":      "Bob B",
		"U3":      "carol",
		"U4":      "U4",
		"U-miss": "U-miss",
	}
	for id, want := range cases {
		if got := e.Label(ctx, id); got != want {
			t.Errorf("Label(%s) = %q, want %q", id, got, want)
		}
	}
}

func TestLabelIsCached(t *testing.T) {
	repo := &fakeUserRepo{users: map[string]cache.User{
		"U1": {ID: "U1", Name: "alice"},
	}}
	e := NewEnricher(repo)
	ctx := context.Background()

	e.Label(ctx, "U1")
	e.Label(ctx, "U1")
	if repo.calls != 1 {
		t.Fatalf("repo.Get called %d times, want 1 (second call should hit cache)", repo.calls)
	}

	e.Invalidate("U1")
	e.Label(ctx, "U1")
	if repo.calls != 2 {
		t.Fatalf("repo.Get called %d times after invalidate, want 2", repo.calls)
	}
}

func TestLabelNeverFails(t *testing.T) {
	e := NewEnricher(&fakeUserRepo{users: map[string]cache.User{}})
	if got := e.Label(context.Background(), "anything"); got != "anything" {
		t.Fatalf("Label(anything) = %q, want %q", got, "anything")
	}
}
