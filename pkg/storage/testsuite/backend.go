// Package testsuite runs the behaviour every session backend must share.
package testsuite

import (
	"context"
	"testing"
	"time"

	"github.com/porthorian/weappauth/pkg/session"
)

func RunBackend(t *testing.T, backend session.Backend) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := backend.LoadSession(ctx, "missing"); err != nil || ok {
		t.Fatalf("load missing profile: ok=%v err=%v", ok, err)
	}

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	first := session.Session{
		Token:     "tok1",
		UserInfo:  session.UserInfo{"nickName": "first"},
		CreatedAt: created,
	}
	if err := backend.SaveSession(ctx, "default", first); err != nil {
		t.Fatalf("save session: %v", err)
	}

	loaded, ok, err := backend.LoadSession(ctx, "default")
	if err != nil || !ok {
		t.Fatalf("load saved session: ok=%v err=%v", ok, err)
	}
	if loaded.Token != "tok1" || loaded.UserInfo["nickName"] != "first" {
		t.Fatalf("unexpected loaded session %+v", loaded)
	}
	if !loaded.CreatedAt.Equal(created) {
		t.Fatalf("expected created_at %v, got %v", created, loaded.CreatedAt)
	}

	if err := backend.SaveSession(ctx, "default", session.Session{Token: "tok2", CreatedAt: created}); err != nil {
		t.Fatalf("overwrite session: %v", err)
	}
	loaded, _, _ = backend.LoadSession(ctx, "default")
	if loaded.Token != "tok2" {
		t.Fatalf("expected overwrite to win, got %q", loaded.Token)
	}

	if err := backend.SaveSession(ctx, "other", session.Session{Token: "tok3", CreatedAt: created}); err != nil {
		t.Fatalf("save second profile: %v", err)
	}

	if err := backend.DeleteSession(ctx, "default"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := backend.LoadSession(ctx, "default"); err != nil || ok {
		t.Fatalf("load deleted profile: ok=%v err=%v", ok, err)
	}
	if err := backend.DeleteSession(ctx, "default"); err != nil {
		t.Fatalf("delete twice: %v", err)
	}

	other, ok, err := backend.LoadSession(ctx, "other")
	if err != nil || !ok || other.Token != "tok3" {
		t.Fatalf("expected other profile untouched: %+v ok=%v err=%v", other, ok, err)
	}
}
