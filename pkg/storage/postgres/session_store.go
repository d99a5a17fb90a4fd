package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/storage"
)

const (
	loadSessionQuery = `
SELECT
  token, user_info, date_added
FROM weappauth.session
WHERE profile = $1
`

	upsertSessionQuery = `
INSERT INTO weappauth.session (
  profile, token, user_info, date_added, date_modified
) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (profile) DO UPDATE
SET
  token = EXCLUDED.token,
  user_info = EXCLUDED.user_info,
  date_added = EXCLUDED.date_added,
  date_modified = EXCLUDED.date_modified
`

	deleteSessionQuery = `DELETE FROM weappauth.session WHERE profile = $1`
)

func (a *Adapter) LoadSession(ctx context.Context, profile string) (session.Session, bool, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return session.Session{}, false, err
	}
	profile, err := storage.NormalizeProfile(profile)
	if err != nil {
		return session.Session{}, false, err
	}

	var (
		token     string
		userInfo  []byte
		dateAdded time.Time
	)
	err = a.stmts.loadSession.QueryRowContext(ctx, profile).Scan(&token, &userInfo, &dateAdded)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("postgres adapter: load session %q: %w", profile, err)
	}
	if token == "" {
		return session.Session{}, false, nil
	}

	loaded := session.Session{
		Token:     token,
		CreatedAt: dateAdded.UTC(),
	}
	if len(userInfo) > 0 {
		if err := json.Unmarshal(userInfo, &loaded.UserInfo); err != nil {
			return session.Session{}, false, fmt.Errorf("postgres adapter: decode user_info for %q: %w", profile, err)
		}
	}
	return loaded, true, nil
}

func (a *Adapter) SaveSession(ctx context.Context, profile string, current session.Session) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}
	profile, err := storage.NormalizeProfile(profile)
	if err != nil {
		return err
	}

	userInfo := current.UserInfo
	if userInfo == nil {
		userInfo = session.UserInfo{}
	}
	encoded, err := json.Marshal(userInfo)
	if err != nil {
		return fmt.Errorf("postgres adapter: encode user_info for %q: %w", profile, err)
	}

	now := time.Now().UTC()
	dateAdded := current.CreatedAt.UTC()
	if current.CreatedAt.IsZero() {
		dateAdded = now
	}

	if _, err := a.stmts.upsertSession.ExecContext(ctx, profile, current.Token, string(encoded), dateAdded, now); err != nil {
		return fmt.Errorf("postgres adapter: save session %q: %w", profile, err)
	}
	return nil
}

func (a *Adapter) DeleteSession(ctx context.Context, profile string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}
	profile, err := storage.NormalizeProfile(profile)
	if err != nil {
		return err
	}

	if _, err := a.stmts.deleteSession.ExecContext(ctx, profile); err != nil {
		return fmt.Errorf("postgres adapter: delete session %q: %w", profile, err)
	}
	return nil
}
