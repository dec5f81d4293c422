package session

import (
	"context"
	"testing"

	"github.com/driftwatch/driftwatch/internal/api"
	"github.com/driftwatch/driftwatch/internal/mirror"
	"github.com/driftwatch/driftwatch/internal/testutil"
)

func newStore(t *testing.T) (*Store, *mirror.Mirror) {
	t.Helper()

	m := testutil.NewTestMirror(t)
	return NewStore(m, testutil.NopLogger()), m
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, m := newStore(t)

	if store.LoggedIn() {
		t.Fatal("fresh store reports logged in")
	}

	if err := store.SetToken(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetUser(ctx, &api.User{ID: 7, Username: "alice", IsStaff: true}); err != nil {
		t.Fatal(err)
	}

	if !store.LoggedIn() {
		t.Fatal("store not logged in after SetToken")
	}
	if got := store.Token(); got != "abc123" {
		t.Fatalf("Token() = %q", got)
	}
	if !store.IsStaff() {
		t.Fatal("IsStaff() = false for staff user")
	}

	// a second store over the same mirror sees the persisted session
	second := NewStore(m, testutil.NopLogger())
	if err := second.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if !second.LoggedIn() {
		t.Fatal("persisted session not visible after Load")
	}
	user := second.User()
	if user == nil || user.Username != "alice" {
		t.Fatalf("User() = %+v", user)
	}
}

func TestStoreClear(t *testing.T) {
	ctx := context.Background()
	store, m := newStore(t)

	if err := store.SetToken(ctx, "abc123"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetUser(ctx, &api.User{ID: 7, Username: "alice"}); err != nil {
		t.Fatal(err)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if store.LoggedIn() {
		t.Fatal("store logged in after Clear")
	}
	if store.User() != nil {
		t.Fatal("user survived Clear")
	}

	raw, err := m.Get(ctx, mirror.KeySessionToken)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) != 0 {
		t.Fatal("token survived Clear in the mirror")
	}
}

func TestLoadMissingKeysIsColdStart(t *testing.T) {
	store, _ := newStore(t)
	if err := store.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.LoggedIn() || store.User() != nil {
		t.Fatal("empty mirror produced a session")
	}
}
