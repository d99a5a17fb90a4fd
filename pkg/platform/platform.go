package platform

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

type Profile struct {
	EncryptedData string
	IV            string
	UserInfo      map[string]any
}

type Platform interface {
	Login(ctx context.Context) (string, error)
	UserInfo(ctx context.Context) (Profile, error)
	CheckSession(ctx context.Context) error
}

type Error struct {
	Op     string
	ErrMsg string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Op + ":fail " + e.ErrMsg
}

// Static answers every handshake with fixed values. An empty Code yields a
// fresh random code per Login call.
type Static struct {
	Code          string
	EncryptedData string
	IV            string
	Info          map[string]any

	LoginErr        error
	UserInfoErr     error
	CheckSessionErr error

	mu     sync.Mutex
	logins int
	checks int
}

var _ Platform = (*Static)(nil)

func (s *Static) Login(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++

	if s.LoginErr != nil {
		return "", s.LoginErr
	}
	if s.Code != "" {
		return s.Code, nil
	}
	return uuid.NewString(), nil
}

func (s *Static) UserInfo(ctx context.Context) (Profile, error) {
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.UserInfoErr != nil {
		return Profile{}, s.UserInfoErr
	}
	return Profile{
		EncryptedData: s.EncryptedData,
		IV:            s.IV,
		UserInfo:      maps.Clone(s.Info),
	}, nil
}

func (s *Static) CheckSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	return s.CheckSessionErr
}

func (s *Static) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *Static) Checks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}
