package bbolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/storage"
	"go.etcd.io/bbolt"
)

var sessionBucket = []byte("sessions")

var ErrNilDB = errors.New("bbolt session backend: db is nil")

type Store struct {
	db    *bbolt.DB
	owned bool
}

var _ session.Backend = (*Store)(nil)

// NewStore uses an already open database. Close leaves it open.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db}
}

func Open(path string, timeout time.Duration) (*Store, error) {
	if timeout <= 0 {
		timeout = time.Second
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("bbolt session backend: open %s: %w", path, err)
	}
	return &Store{db: db, owned: true}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) LoadSession(ctx context.Context, profile string) (session.Session, bool, error) {
	key, err := s.key(ctx, profile)
	if err != nil {
		return session.Session{}, false, err
	}

	var data []byte
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b == nil {
			return nil
		}
		if value := b.Get(key); value != nil {
			data = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return session.Session{}, false, fmt.Errorf("bbolt session backend: load %s: %w", key, err)
	}
	if data == nil {
		return session.Session{}, false, nil
	}

	record, ok, err := storage.UnmarshalRecord(data)
	if err != nil || !ok {
		return session.Session{}, false, err
	}
	return record.Session(), true, nil
}

func (s *Store) SaveSession(ctx context.Context, profile string, current session.Session) error {
	key, err := s.key(ctx, profile)
	if err != nil {
		return err
	}

	data, err := storage.FromSession(string(key), current).Marshal()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(sessionBucket)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *Store) DeleteSession(ctx context.Context, profile string) error {
	key, err := s.key(ctx, profile)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(sessionBucket)
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
}

func (s *Store) key(ctx context.Context, profile string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, ErrNilDB
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	normalized, err := storage.NormalizeProfile(profile)
	if err != nil {
		return nil, err
	}
	return []byte(normalized), nil
}
