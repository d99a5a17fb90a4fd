package cmd

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/porthorian/weappauth/pkg/loginserver"
	"github.com/spf13/cobra"
)

func runCommand(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoginRequestAndSessionCommands(t *testing.T) {
	server, err := loginserver.New(loginserver.Config{SigningKey: []byte("cli-signing-key-cli-signing-key!")})
	if err != nil {
		t.Fatalf("new login server: %v", err)
	}
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	common := []string{
		"--login-url", ts.URL + "/login",
		"--session-backend", "bbolt",
		"--bolt-path", filepath.Join(t.TempDir(), "cli.db"),
		"--code", "cli-code",
		"--user-info", `{"nickName":"cli"}`,
	}

	out, err := runCommand(t, newLoginCommand(), common...)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var userInfo map[string]any
	if err := json.Unmarshal([]byte(out), &userInfo); err != nil || userInfo["nickName"] != "cli" {
		t.Fatalf("unexpected login output %q (%v)", out, err)
	}

	out, err = runCommand(t, newRequestCommand(), append([]string{ts.URL + "/user"}, common...)...)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if !strings.Contains(out, `"openId"`) {
		t.Fatalf("expected persisted session to authorize request, got %q", out)
	}

	out, err = runCommand(t, newSessionCommand(), append([]string{"show"}, common...)...)
	if err != nil {
		t.Fatalf("session show: %v", err)
	}
	if !strings.Contains(out, `"skey"`) {
		t.Fatalf("expected stored session, got %q", out)
	}

	if _, err := runCommand(t, newSessionCommand(), append([]string{"clear"}, common...)...); err != nil {
		t.Fatalf("session clear: %v", err)
	}
	out, err = runCommand(t, newSessionCommand(), append([]string{"show"}, common...)...)
	if err != nil {
		t.Fatalf("session show after clear: %v", err)
	}
	if !strings.Contains(out, "No session stored.") {
		t.Fatalf("expected cleared session, got %q", out)
	}
}

func TestClientFlagsEnvFallback(t *testing.T) {
	t.Setenv("WEAPPAUTH_LOGIN_URL", "https://env.example.com/login")
	t.Setenv("WEAPPAUTH_SESSION_BACKEND", "REDIS")
	t.Setenv("WEAPPAUTH_REDIS_ADDRESS", "localhost:6390")
	t.Setenv("WEAPPAUTH_PROFILE", "ci")

	flags := &clientFlags{UserInfo: "{}"}
	config, err := flags.config()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if config.LoginURL != "https://env.example.com/login" {
		t.Fatalf("unexpected login url %q", config.LoginURL)
	}
	if config.Runtime.Session.Backend != "redis" || config.Runtime.Session.Redis.Address != "localhost:6390" {
		t.Fatalf("unexpected session config %+v", config.Runtime.Session)
	}
	if config.Runtime.Session.Profile != "ci" {
		t.Fatalf("unexpected profile %q", config.Runtime.Session.Profile)
	}

	flags.UserInfo = "not json"
	if _, err := flags.config(); err == nil {
		t.Fatal("expected invalid user info to fail")
	}
}

func TestRequestCommandRejectsBadHeader(t *testing.T) {
	_, err := runCommand(t, newRequestCommand(), "https://example.com", "-H", "no-colon", "--session-backend", "memory")
	if err == nil {
		t.Fatal("expected malformed header to fail")
	}
}
