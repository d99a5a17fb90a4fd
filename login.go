package weappauth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	oerrors "github.com/porthorian/weappauth/pkg/errors"
	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/transport"
)

type AuthenticatorConfig struct {
	LoginURL  string
	Method    string
	Platform  Platform
	Transport Transport
	Store     session.Store
	Logger    logr.Logger
	Metrics   Metrics
}

type Authenticator struct {
	platform  Platform
	transport Transport
	store     session.Store
	logger    logr.Logger
	metrics   Metrics

	mu       sync.RWMutex
	loginURL string
	method   string
}

var _ Loginer = (*Authenticator)(nil)

func NewAuthenticator(config AuthenticatorConfig) (*Authenticator, error) {
	if config.Platform == nil {
		return nil, oerrors.ErrMissingPlatform
	}
	if config.Transport == nil {
		return nil, oerrors.ErrMissingTransport
	}
	if config.Store == nil {
		config.Store = session.NewMemoryStore()
	}

	method, ok := transport.NormalizeMethod(config.Method, "GET")
	if !ok {
		return nil, oerrors.New(oerrors.KindInvalidParams, fmt.Sprintf("unsupported login method %q", config.Method))
	}

	return &Authenticator{
		platform:  config.Platform,
		transport: config.Transport,
		store:     config.Store,
		logger:    resolveLogger(config.Logger),
		metrics:   resolveMetrics(config.Metrics),
		loginURL:  strings.TrimSpace(config.LoginURL),
		method:    method,
	}, nil
}

func (a *Authenticator) SetLoginURL(loginURL string) {
	a.mu.Lock()
	a.loginURL = strings.TrimSpace(loginURL)
	a.mu.Unlock()
}

func (a *Authenticator) LoginURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loginURL
}

func (a *Authenticator) Login(ctx context.Context, options LoginOptions) (UserInfo, error) {
	info, err := a.login(ctx, options)
	if err != nil {
		kind := oerrors.KindOf(err)
		a.metrics.LoginFailed(kind)
		a.logger.V(1).Info("login failed", "kind", kind, "reason", err.Error())
		if options.OnFailure != nil {
			options.OnFailure(err)
		}
		return nil, err
	}

	if options.OnSuccess != nil {
		options.OnSuccess(info)
	}
	return info, nil
}

func (a *Authenticator) login(ctx context.Context, options LoginOptions) (UserInfo, error) {
	endpoint := strings.TrimSpace(options.URL)
	if endpoint == "" {
		endpoint = a.LoginURL()
	}
	if endpoint == "" {
		return nil, oerrors.New(oerrors.KindInvalidParams, "login error: missing login URL, set one with SetLoginURL()")
	}

	method, ok := transport.NormalizeMethod(options.Method, a.method)
	if !ok {
		return nil, oerrors.New(oerrors.KindInvalidParams, fmt.Sprintf("login error: unsupported method %q", options.Method))
	}

	if current, ok := a.store.Get(ctx); ok {
		err := a.platform.CheckSession(ctx)
		if err == nil {
			a.metrics.LoginSucceeded(true)
			return current.UserInfo, nil
		}
		a.logger.V(1).Info("platform session is stale, discarding stored session", "reason", err.Error())
		a.store.Clear(ctx)
	}

	assertion, err := a.handshake(ctx)
	if err != nil {
		return nil, err
	}
	return a.exchange(ctx, endpoint, method, options.Data, assertion)
}

func (a *Authenticator) handshake(ctx context.Context) (IdentityAssertion, error) {
	code, err := a.platform.Login(ctx)
	if err != nil {
		return IdentityAssertion{}, oerrors.Wrap(oerrors.KindPlatformLoginFailed, "platform login failed, check the network", err)
	}

	profile, err := a.platform.UserInfo(ctx)
	if err != nil {
		return IdentityAssertion{}, oerrors.Wrap(oerrors.KindPlatformUserInfoFailed, "failed to get platform user info, check the network", err)
	}

	return IdentityAssertion{
		Code:          code,
		EncryptedData: profile.EncryptedData,
		IV:            profile.IV,
		UserInfo:      profile.UserInfo,
	}, nil
}

type loginResult struct {
	Skey     string          `json:"skey"`
	UserInfo json.RawMessage `json:"userinfo"`
}

func (a *Authenticator) exchange(ctx context.Context, endpoint string, method string, data any, assertion IdentityAssertion) (UserInfo, error) {
	resp, err := a.transport.Send(ctx, transport.Request{
		URL:    endpoint,
		Method: method,
		Header: map[string]string{
			HeaderCode:          assertion.Code,
			HeaderEncryptedData: assertion.EncryptedData,
			HeaderIV:            assertion.IV,
		},
		Data: data,
	})
	if err != nil {
		return nil, oerrors.Wrap(oerrors.KindServerLoginFailed, "login failed, possibly a network error or a server fault", err)
	}

	envelope, ok := resp.Envelope()
	var result loginResult
	if !ok || !envelope.HasCode || envelope.Code != transport.CodeSuccess ||
		json.Unmarshal(envelope.Data, &result) != nil || result.Skey == "" {
		message := fmt.Sprintf("login response carried no session; make sure the server handling `%s` writes its login result through the SDK", endpoint)
		return nil, oerrors.New(oerrors.KindSessionNotReceived, message).WithDetail(resp)
	}

	if !transport.Truthy(result.UserInfo) {
		serverMessage := envelope.Message
		if serverMessage == "" {
			serverMessage = "unknown error"
		}
		failure := oerrors.New(oerrors.KindSessionNotReceived, fmt.Sprintf("login failed (%s): %s", envelope.Error, serverMessage)).WithDetail(resp)
		failure.ServerCode = envelope.Error
		return nil, failure
	}

	a.store.Set(ctx, session.Session{
		Token:    result.Skey,
		UserInfo: assertion.UserInfo,
	})
	a.metrics.LoginSucceeded(false)
	a.logger.V(1).Info("session established", "endpoint", endpoint)

	return assertion.UserInfo, nil
}
