package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/porthorian/weappauth/pkg/session"
)

var ErrEmptyProfile = errors.New("storage: profile is required")

type Record struct {
	Profile   string           `json:"profile,omitempty"`
	Token     string           `json:"token"`
	UserInfo  session.UserInfo `json:"user_info,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

func FromSession(profile string, current session.Session) Record {
	return Record{
		Profile:   profile,
		Token:     current.Token,
		UserInfo:  current.UserInfo,
		CreatedAt: current.CreatedAt.UTC(),
	}
}

func (r Record) Session() session.Session {
	return session.Session{
		Token:     r.Token,
		UserInfo:  r.UserInfo,
		CreatedAt: r.CreatedAt,
	}
}

func (r Record) Marshal() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("storage: encode session record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a stored record. A record without a token is
// reported as not found rather than as an empty session.
func UnmarshalRecord(data []byte) (Record, bool, error) {
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("storage: decode session record: %w", err)
	}
	if record.Token == "" {
		return Record{}, false, nil
	}
	return record, true, nil
}

func NormalizeProfile(profile string) (string, error) {
	normalized := strings.TrimSpace(profile)
	if normalized == "" {
		return "", ErrEmptyProfile
	}
	return normalized, nil
}
