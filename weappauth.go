package weappauth

import (
	"context"
	"net/http"

	"github.com/go-logr/logr"
	oerrors "github.com/porthorian/weappauth/pkg/errors"
	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/tunnel"
)

type Config struct {
	LoginURL     string
	LoginMethod  string
	Platform     Platform
	Transport    Transport
	SessionStore session.Store
	Logger       logr.Logger
	Metrics      Metrics
	Runtime      RuntimeConfig
}

type TunnelOptions struct {
	URL          string
	RequireLogin bool
	Header       http.Header
	Subprotocols []string
	ReadLimit    int64
	HTTPClient   *http.Client
}

type Client struct {
	auth      *Authenticator
	requester *Requester
	store     session.Store
	logger    logr.Logger

	closeResource func() error
}

func New(config Config) (*Client, error) {
	if config.Platform == nil {
		return nil, oerrors.ErrMissingPlatform
	}

	closeResource, resolved, err := config.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	auth, err := NewAuthenticator(AuthenticatorConfig{
		LoginURL:  resolved.LoginURL,
		Method:    resolved.LoginMethod,
		Platform:  resolved.Platform,
		Transport: resolved.Transport,
		Store:     resolved.SessionStore,
		Logger:    resolved.Logger,
		Metrics:   resolved.Metrics,
	})
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	requester, err := NewRequester(RequesterConfig{
		Auth:      auth,
		Transport: resolved.Transport,
		Store:     resolved.SessionStore,
		Logger:    resolved.Logger,
		Metrics:   resolved.Metrics,
	})
	if err != nil {
		_ = closeResource()
		return nil, err
	}

	return &Client{
		auth:          auth,
		requester:     requester,
		store:         resolved.SessionStore,
		logger:        resolved.Logger,
		closeResource: closeResource,
	}, nil
}

func (c *Client) Login(ctx context.Context, options LoginOptions) (UserInfo, error) {
	if c == nil || c.auth == nil {
		return nil, oerrors.ErrClientClosed
	}
	return c.auth.Login(ctx, options)
}

func (c *Client) SetLoginURL(loginURL string) {
	if c == nil || c.auth == nil {
		return
	}
	c.auth.SetLoginURL(loginURL)
}

func (c *Client) LoginURL() string {
	if c == nil || c.auth == nil {
		return ""
	}
	return c.auth.LoginURL()
}

func (c *Client) Request(ctx context.Context, options RequestOptions) (*Response, error) {
	if c == nil || c.requester == nil {
		return nil, oerrors.ErrClientClosed
	}
	return c.requester.Request(ctx, options)
}

func (c *Client) Session(ctx context.Context) (session.Session, bool) {
	if c == nil || c.store == nil {
		return session.Session{}, false
	}
	return c.store.Get(ctx)
}

func (c *Client) ClearSession(ctx context.Context) {
	if c == nil || c.store == nil {
		return
	}
	c.store.Clear(ctx)
	c.logger.V(1).Info("session cleared")
}

func (c *Client) OpenTunnel(ctx context.Context, options TunnelOptions) (*tunnel.Tunnel, error) {
	if c == nil || c.auth == nil {
		return nil, oerrors.ErrClientClosed
	}

	return tunnel.Open(ctx, tunnel.Config{
		URL:          options.URL,
		RequireLogin: options.RequireLogin,
		Header:       options.Header,
		Subprotocols: options.Subprotocols,
		ReadLimit:    options.ReadLimit,
		HTTPClient:   options.HTTPClient,
		Login: func(ctx context.Context) error {
			_, err := c.auth.Login(ctx, LoginOptions{})
			return err
		},
		Store:  c.store,
		Logger: c.logger,
	})
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.KindUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	c.auth = nil
	c.requester = nil
	return nil
}
