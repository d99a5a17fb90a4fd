package weappauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	oerrors "github.com/porthorian/weappauth/pkg/errors"
	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/transport"
)

type RequesterConfig struct {
	Auth      Loginer
	Transport Transport
	Store     session.Store
	Logger    logr.Logger
	Metrics   Metrics
}

type Requester struct {
	auth      Loginer
	transport Transport
	store     session.Store
	logger    logr.Logger
	metrics   Metrics
}

func NewRequester(config RequesterConfig) (*Requester, error) {
	if config.Transport == nil {
		return nil, oerrors.ErrMissingTransport
	}
	if config.Auth == nil {
		return nil, oerrors.New(oerrors.KindInvalidParams, "requester: authenticator is required")
	}
	if config.Store == nil {
		return nil, oerrors.New(oerrors.KindInvalidParams, "requester: session store is required")
	}

	return &Requester{
		auth:      config.Auth,
		transport: config.Transport,
		store:     config.Store,
		logger:    resolveLogger(config.Logger),
		metrics:   resolveMetrics(config.Metrics),
	}, nil
}

func (r *Requester) Request(ctx context.Context, options RequestOptions) (*Response, error) {
	method, err := options.validate()
	if err != nil {
		return nil, err
	}

	resp, err := r.do(ctx, options, method)
	if err != nil {
		if options.OnFailure != nil {
			options.OnFailure(err)
		}
		if options.OnComplete != nil {
			options.OnComplete(nil, err)
		}
		return nil, err
	}

	if options.OnSuccess != nil {
		options.OnSuccess(resp)
	}
	if options.OnComplete != nil {
		options.OnComplete(resp, nil)
	}
	return resp, nil
}

func (r *Requester) do(ctx context.Context, options RequestOptions, method string) (*Response, error) {
	requireLogin := options.RequireLogin
	retried := false

	for {
		if requireLogin {
			if _, err := r.auth.Login(ctx, LoginOptions{}); err != nil {
				return nil, err
			}
		}

		resp, err := r.send(ctx, options, method)
		if err != nil {
			return nil, oerrors.Wrap(oerrors.KindRequestFailed, "request failed", err)
		}

		envelope, ok := resp.Envelope()
		if !ok || !envelope.HasCode || envelope.Code != transport.CodeSessionInvalid {
			return resp, nil
		}

		r.store.Clear(ctx)
		if !retried {
			retried = true
			requireLogin = true
			r.metrics.SessionRetried()
			r.logger.V(1).Info("server rejected session, logging in again", "url", options.URL, "server_code", envelope.Error)
			continue
		}

		r.metrics.SessionExpired()
		expired := oerrors.New(oerrors.KindSessionExpired, "session expired").WithDetail(resp)
		expired.ServerCode = envelope.Error
		return nil, expired
	}
}

// send re-reads the store on every attempt so a retry carries the token the
// preceding login stored.
func (r *Requester) send(ctx context.Context, options RequestOptions, method string) (*Response, error) {
	header := make(map[string]string, len(options.Header)+1)
	for name, value := range options.Header {
		if strings.EqualFold(strings.TrimSpace(name), HeaderSkey) {
			continue
		}
		header[name] = value
	}

	if current, ok := r.store.Get(ctx); ok {
		header[HeaderSkey] = current.Token
	}

	return r.transport.Send(ctx, transport.Request{
		URL:    options.URL,
		Method: method,
		Header: header,
		Data:   options.Data,
	})
}

func (o RequestOptions) validate() (string, error) {
	if strings.TrimSpace(o.URL) == "" {
		return "", oerrors.New(oerrors.KindInvalidParams, "request options must include a URL")
	}

	method, ok := transport.NormalizeMethod(o.Method, "GET")
	if !ok {
		return "", oerrors.New(oerrors.KindInvalidParams, fmt.Sprintf("request method %q is not supported", o.Method))
	}
	return method, nil
}
