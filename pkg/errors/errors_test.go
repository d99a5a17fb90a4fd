package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageFallbacks(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	if got := Wrap(KindRequestFailed, "", cause).Error(); got != cause.Error() {
		t.Fatalf("expected wrapped cause message, got %q", got)
	}
	if got := New(KindSessionExpired, "").Error(); got != string(KindSessionExpired) {
		t.Fatalf("expected kind as message, got %q", got)
	}
	if got := New(KindInvalidParams, "missing url").Error(); got != "missing url" {
		t.Fatalf("expected explicit message, got %q", got)
	}

	var nilErr *Error
	if got := nilErr.Error(); got != "" {
		t.Fatalf("expected empty message for nil error, got %q", got)
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	cause := errors.New("platform down")
	err := fmt.Errorf("login: %w", Wrap(KindPlatformLoginFailed, "platform login failed", cause))

	if !IsKind(err, KindPlatformLoginFailed) {
		t.Fatalf("expected platform_login_failed kind, got %q", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to stay reachable through Unwrap")
	}
	if KindOf(cause) != KindUnknown {
		t.Fatalf("expected unknown kind for plain error, got %q", KindOf(cause))
	}
}

func TestWrapKeepsDetail(t *testing.T) {
	cause := errors.New("user denied")
	err := Wrap(KindPlatformUserInfoFailed, "user info failed", cause)
	if err.Detail != cause {
		t.Fatalf("expected detail to default to cause, got %v", err.Detail)
	}

	err.WithDetail(map[string]any{"errMsg": "getUserInfo:fail auth deny"})
	detail, ok := err.Detail.(map[string]any)
	if !ok || detail["errMsg"] != "getUserInfo:fail auth deny" {
		t.Fatalf("unexpected detail %#v", err.Detail)
	}
}
