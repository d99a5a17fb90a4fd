package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/storage/testsuite"
	"go.etcd.io/bbolt"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := Open(path, 0)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, path
}

func TestStoreBackendBehaviour(t *testing.T) {
	store, _ := newTestStore(t)
	testsuite.RunBackend(t, store)
}

func TestStoreSurvivesReopen(t *testing.T) {
	store, path := newTestStore(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, "default", session.Session{Token: "tok1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	loaded, ok, err := reopened.LoadSession(ctx, "default")
	if err != nil || !ok || loaded.Token != "tok1" {
		t.Fatalf("expected persisted session, got %+v ok=%v err=%v", loaded, ok, err)
	}
}

func TestStoreRestoresLocalStore(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	writer := session.NewStore(session.Options{Backend: store, Profile: "cli"})
	writer.Set(ctx, session.Session{Token: "tok1", UserInfo: session.UserInfo{"id": "u1"}})

	reader := session.NewStore(session.Options{Backend: store, Profile: "cli"})
	if err := reader.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	current, ok := reader.Get(ctx)
	if !ok || current.Token != "tok1" || current.UserInfo["id"] != "u1" {
		t.Fatalf("expected restored session, got %+v", current)
	}

	writer.Clear(ctx)
	if _, ok, _ := store.LoadSession(ctx, "cli"); ok {
		t.Fatal("expected clear to remove the persisted session")
	}
}

func TestSharedDBIsNotClosed(t *testing.T) {
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "shared.db"), 0600, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	store := NewStore(db)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.SaveSession(context.Background(), "default", session.Session{Token: "t"}); err != nil {
		t.Fatalf("expected shared db to stay usable: %v", err)
	}
}

func TestStoreHonoursCanceledContext(t *testing.T) {
	store, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.SaveSession(ctx, "default", session.Session{Token: "t"}); err == nil {
		t.Fatal("expected canceled context to fail")
	}
	var nilStore *Store
	if _, _, err := nilStore.LoadSession(context.Background(), "default"); err != ErrNilDB {
		t.Fatalf("expected ErrNilDB, got %v", err)
	}
}
