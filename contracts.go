package weappauth

import (
	"context"

	oerrors "github.com/porthorian/weappauth/pkg/errors"
	"github.com/porthorian/weappauth/pkg/platform"
	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/transport"
)

const (
	HeaderCode          = transport.HeaderCode
	HeaderEncryptedData = transport.HeaderEncryptedData
	HeaderIV            = transport.HeaderIV
	HeaderSkey          = transport.HeaderSkey
)

type (
	UserInfo  = session.UserInfo
	Platform  = platform.Platform
	Transport = transport.Sender
	Response  = transport.Response
	Error     = oerrors.Error
	ErrorKind = oerrors.Kind
)

const (
	ErrInvalidParams          = oerrors.KindInvalidParams
	ErrPlatformLoginFailed    = oerrors.KindPlatformLoginFailed
	ErrPlatformUserInfoFailed = oerrors.KindPlatformUserInfoFailed
	ErrServerLoginFailed      = oerrors.KindServerLoginFailed
	ErrSessionNotReceived     = oerrors.KindSessionNotReceived
	ErrSessionExpired         = oerrors.KindSessionExpired
	ErrRequestFailed          = oerrors.KindRequestFailed
)

type IdentityAssertion struct {
	Code          string
	EncryptedData string
	IV            string
	UserInfo      UserInfo
}

type LoginOptions struct {
	URL    string
	Method string
	Data   any

	OnSuccess func(UserInfo)
	OnFailure func(error)
}

type RequestOptions struct {
	URL          string
	Method       string
	Header       map[string]string
	Data         any
	RequireLogin bool

	OnSuccess  func(*Response)
	OnFailure  func(error)
	OnComplete func(*Response, error)
}

type Loginer interface {
	Login(ctx context.Context, options LoginOptions) (UserInfo, error)
}

type Metrics interface {
	LoginSucceeded(cached bool)
	LoginFailed(kind oerrors.Kind)
	SessionRetried()
	SessionExpired()
}

type noopMetrics struct{}

func (noopMetrics) LoginSucceeded(bool)      {}
func (noopMetrics) LoginFailed(oerrors.Kind) {}
func (noopMetrics) SessionRetried()          {}
func (noopMetrics) SessionExpired()          {}
