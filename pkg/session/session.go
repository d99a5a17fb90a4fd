// Package session holds the client's current session token.
package session

import (
	"context"
	"maps"
	"time"
)

const DefaultProfile = "default"

type UserInfo map[string]any

type Session struct {
	Token     string
	UserInfo  UserInfo
	CreatedAt time.Time
}

func (s Session) Clone() Session {
	if s.UserInfo != nil {
		s.UserInfo = maps.Clone(s.UserInfo)
	}
	return s
}

type Store interface {
	Get(ctx context.Context) (Session, bool)
	Set(ctx context.Context, session Session)
	Clear(ctx context.Context)
}

type Backend interface {
	LoadSession(ctx context.Context, profile string) (Session, bool, error)
	SaveSession(ctx context.Context, profile string, session Session) error
	DeleteSession(ctx context.Context, profile string) error
}
