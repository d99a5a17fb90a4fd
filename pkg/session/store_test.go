package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/awnumar/memguard"
)

type recordingBackend struct {
	mu       sync.Mutex
	sessions map[string]Session
	saveErr  error
	loadErr  error
	saves    int
	deletes  int
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{sessions: map[string]Session{}}
}

func (b *recordingBackend) LoadSession(ctx context.Context, profile string) (Session, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loadErr != nil {
		return Session{}, false, b.loadErr
	}
	s, ok := b.sessions[profile]
	return s, ok, nil
}

func (b *recordingBackend) SaveSession(ctx context.Context, profile string, session Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.saveErr != nil {
		return b.saveErr
	}
	b.sessions[profile] = session
	return nil
}

func (b *recordingBackend) DeleteSession(ctx context.Context, profile string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	delete(b.sessions, profile)
	return nil
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, ok := store.Get(ctx); ok {
		t.Fatal("expected empty store to report absence")
	}

	store.Set(ctx, Session{Token: "tok1", UserInfo: UserInfo{"id": 1}})
	got, ok := store.Get(ctx)
	if !ok || got.Token != "tok1" {
		t.Fatalf("expected tok1, got %+v (ok=%v)", got, ok)
	}
	if got.UserInfo["id"] != 1 {
		t.Fatalf("expected cached user info, got %#v", got.UserInfo)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}

	store.Set(ctx, Session{Token: "tok2"})
	got, _ = store.Get(ctx)
	if got.Token != "tok2" {
		t.Fatalf("expected last write to win, got %q", got.Token)
	}

	store.Clear(ctx)
	store.Clear(ctx)
	if _, ok := store.Get(ctx); ok {
		t.Fatal("expected cleared store to report absence")
	}
}

func TestStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	info := UserInfo{"nickName": "a"}
	store.Set(ctx, Session{Token: "tok", UserInfo: info})
	info["nickName"] = "mutated"

	got, _ := store.Get(ctx)
	got.UserInfo["nickName"] = "also-mutated"

	again, _ := store.Get(ctx)
	if again.UserInfo["nickName"] != "a" {
		t.Fatalf("expected stored user info to be isolated, got %#v", again.UserInfo)
	}
}

func TestEmptyTokenClears(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Set(ctx, Session{Token: "tok"})
	store.Set(ctx, Session{})

	if _, ok := store.Get(ctx); ok {
		t.Fatal("expected empty token to clear the session")
	}
}

func TestStoreWritesThroughBackend(t *testing.T) {
	ctx := context.Background()
	backend := newRecordingBackend()
	store := NewStore(Options{Backend: backend, Profile: "app-a"})

	store.Set(ctx, Session{Token: "tok1"})
	if backend.sessions["app-a"].Token != "tok1" {
		t.Fatalf("expected backend to hold tok1, got %+v", backend.sessions)
	}

	store.Clear(ctx)
	if _, ok := backend.sessions["app-a"]; ok {
		t.Fatal("expected backend session to be deleted")
	}
	if backend.saves != 1 || backend.deletes != 1 {
		t.Fatalf("unexpected backend calls: saves=%d deletes=%d", backend.saves, backend.deletes)
	}
}

func TestStoreKeepsMemoryWhenBackendFails(t *testing.T) {
	ctx := context.Background()
	backend := newRecordingBackend()
	backend.saveErr = errors.New("disk full")
	store := NewStore(Options{Backend: backend})

	store.Set(ctx, Session{Token: "tok1"})
	got, ok := store.Get(ctx)
	if !ok || got.Token != "tok1" {
		t.Fatalf("expected in-memory session despite backend failure, got %+v", got)
	}
}

func TestRestoreLoadsProfile(t *testing.T) {
	ctx := context.Background()
	backend := newRecordingBackend()
	backend.sessions[DefaultProfile] = Session{Token: "persisted", UserInfo: UserInfo{"id": "u1"}}

	store := NewStore(Options{Backend: backend})
	if err := store.Restore(ctx); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	got, ok := store.Get(ctx)
	if !ok || got.Token != "persisted" || got.UserInfo["id"] != "u1" {
		t.Fatalf("unexpected restored session %+v", got)
	}

	backend.loadErr = errors.New("unreachable")
	if err := NewStore(Options{Backend: backend}).Restore(ctx); err == nil {
		t.Fatal("expected restore error to surface")
	}
}

func TestSealedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Options{Sealed: true})

	store.Set(ctx, Session{Token: "sealed-token"})
	store.mu.RLock()
	current := store.current
	store.mu.RUnlock()
	if current.token != "" || current.enclave == nil {
		t.Fatal("expected token to live only in the enclave")
	}

	got, ok := store.Get(ctx)
	if !ok || got.Token != "sealed-token" {
		t.Fatalf("expected sealed token to round trip, got %+v", got)
	}
}

func TestSealedStoreDropsUnreadableToken(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Options{Sealed: true})
	store.Set(ctx, Session{Token: "sealed-token"})

	// Purge rotates the session key, so existing enclaves can no longer be opened.
	memguard.Purge()

	if _, ok := store.Get(ctx); ok {
		t.Fatal("expected unreadable token to be reported missing")
	}
	store.mu.RLock()
	current := store.current
	store.mu.RUnlock()
	if current != nil {
		t.Fatal("expected unreadable entry to be dropped")
	}

	store.Set(ctx, Session{Token: "fresh"})
	if got, ok := store.Get(ctx); !ok || got.Token != "fresh" {
		t.Fatalf("expected store to accept a new token, got %+v", got)
	}
}

func TestStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(Options{Backend: newRecordingBackend()})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			store.Set(ctx, Session{Token: fmt.Sprintf("tok-%d", i)})
			store.Get(ctx)
			if i%4 == 0 {
				store.Clear(ctx)
			}
		}(i)
	}
	wg.Wait()

	if got, ok := store.Get(ctx); ok && got.Token == "" {
		t.Fatal("expected either absence or a complete session")
	}
}
