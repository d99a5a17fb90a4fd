package loginserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/weappauth/pkg/transport"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T, config Config) (*Server, *httptest.Server) {
	t.Helper()
	if config.SigningKey == nil {
		config.SigningKey = testKey
	}
	server, err := New(config)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return server, ts
}

func doRequest(t *testing.T, method string, url string, header map[string]string) (int, transport.Envelope) {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for name, value := range header {
		req.Header.Set(name, value)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	envelope, ok := transport.DecodeEnvelope(body)
	require.True(t, ok)
	return resp.StatusCode, envelope
}

func identityHeaders() map[string]string {
	return map[string]string{
		transport.HeaderCode:          "code-1",
		transport.HeaderEncryptedData: "enc",
		transport.HeaderIV:            "iv",
	}
}

func login(t *testing.T, baseURL string) string {
	t.Helper()
	status, envelope := doRequest(t, http.MethodGet, baseURL+"/login", identityHeaders())
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, transport.CodeSuccess, envelope.Code)

	var data struct {
		Skey     string `json:"skey"`
		UserInfo bool   `json:"userinfo"`
	}
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.NotEmpty(t, data.Skey)
	require.True(t, data.UserInfo)
	return data.Skey
}

func TestLoginIssuesSessionKey(t *testing.T) {
	server, ts := newTestServer(t, Config{})
	skey := login(t, ts.URL)

	claims, err := server.Validate(skey)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, "weappauth", claims.Issuer)
	assert.Equal(t, claims.Subject, claims.UserInfo["openId"])

	again := login(t, ts.URL)
	againClaims, err := server.Validate(again)
	require.NoError(t, err)
	assert.Equal(t, claims.Subject, againClaims.Subject, "openId must be stable per code")
	assert.NotEqual(t, claims.ID, againClaims.ID)
}

func TestLoginAcceptsPost(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	status, envelope := doRequest(t, http.MethodPost, ts.URL+"/login", identityHeaders())
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, transport.CodeSuccess, envelope.Code)
}

func TestLoginRequiresIdentityHeaders(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	headers := identityHeaders()
	delete(headers, transport.HeaderIV)

	status, envelope := doRequest(t, http.MethodGet, ts.URL+"/login", headers)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, ErrCodeHeaderMissed, envelope.Error)
}

func TestLoginResolveFailure(t *testing.T) {
	_, ts := newTestServer(t, Config{
		Resolve: func(context.Context, Identity) (map[string]any, error) {
			return nil, errors.New("decrypt failed")
		},
	})

	_, envelope := doRequest(t, http.MethodGet, ts.URL+"/login", identityHeaders())
	assert.Equal(t, transport.CodeSessionInvalid, envelope.Code)
	assert.Equal(t, ErrCodeLoginFailed, envelope.Error)
	assert.Equal(t, "decrypt failed", envelope.Message)
}

func TestProtectedRoute(t *testing.T) {
	_, ts := newTestServer(t, Config{
		Resolve: func(_ context.Context, identity Identity) (map[string]any, error) {
			return map[string]any{"openId": "o1", "code": identity.Code}, nil
		},
	})
	skey := login(t, ts.URL)

	status, envelope := doRequest(t, http.MethodGet, ts.URL+"/user", map[string]string{transport.HeaderSkey: skey})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"userinfo":{"openId":"o1","code":"code-1"}}`, string(envelope.Data))
}

func TestProtectRejectsInvalidSessions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var skew atomic.Int64
	server, ts := newTestServer(t, Config{TTL: time.Minute, Now: func() time.Time {
		return now.Add(time.Duration(skew.Load()))
	}})

	other, err := New(Config{SigningKey: []byte("another-key-another-key-another!")})
	require.NoError(t, err)
	forged, err := other.Issue(map[string]any{"openId": "o1"})
	require.NoError(t, err)

	expired := login(t, ts.URL)
	revoked := login(t, ts.URL)
	require.NoError(t, server.Revoke(revoked))

	cases := map[string]string{
		"missing": "",
		"garbage": "not-a-jwt",
		"forged":  forged,
		"revoked": revoked,
	}
	for name, skey := range cases {
		t.Run(name, func(t *testing.T) {
			header := map[string]string{}
			if skey != "" {
				header[transport.HeaderSkey] = skey
			}
			status, envelope := doRequest(t, http.MethodGet, ts.URL+"/user", header)
			assert.Equal(t, http.StatusUnauthorized, status)
			assert.Equal(t, transport.CodeSessionInvalid, envelope.Code)
			assert.Equal(t, ErrCodeInvalidSession, envelope.Error)
		})
	}

	_, err = server.Validate(expired)
	require.NoError(t, err)
	skew.Store(int64(2 * time.Minute))
	_, err = server.Validate(expired)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewRequiresSigningKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrMissingSigningKey)
}

func TestClaimsFromContextWithoutClaims(t *testing.T) {
	claims, ok := ClaimsFromContext(context.Background())
	assert.False(t, ok)
	assert.NotNil(t, claims)
}
