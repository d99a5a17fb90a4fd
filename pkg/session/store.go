package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-logr/logr"
)

var ErrSealedTokenUnavailable = errors.New("session store: sealed token could not be opened")

type Options struct {
	Backend Backend
	Profile string
	Sealed  bool
	Logger  logr.Logger
}

type entry struct {
	token     string
	enclave   *memguard.Enclave
	userInfo  UserInfo
	createdAt time.Time
}

type LocalStore struct {
	mu      sync.RWMutex
	current *entry

	backend Backend
	profile string
	sealed  bool
	logger  logr.Logger
}

var _ Store = (*LocalStore)(nil)

func NewStore(options Options) *LocalStore {
	profile := strings.TrimSpace(options.Profile)
	if profile == "" {
		profile = DefaultProfile
	}

	logger := options.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	return &LocalStore{
		backend: options.Backend,
		profile: profile,
		sealed:  options.Sealed,
		logger:  logger,
	}
}

func NewMemoryStore() *LocalStore {
	return NewStore(Options{})
}

func (s *LocalStore) Profile() string {
	return s.profile
}

func (s *LocalStore) Restore(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}

	loaded, ok, err := s.backend.LoadSession(ctx, s.profile)
	if err != nil {
		return err
	}
	if !ok || loaded.Token == "" {
		return nil
	}

	s.mu.Lock()
	s.current = s.newEntry(loaded)
	s.mu.Unlock()

	s.logger.V(1).Info("restored persisted session", "profile", s.profile)
	return nil
}

func (s *LocalStore) Get(ctx context.Context) (Session, bool) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == nil {
		return Session{}, false
	}

	token, err := current.openToken()
	if err != nil {
		s.logger.Error(err, "dropping unreadable session", "profile", s.profile)
		s.mu.Lock()
		if s.current == current {
			s.current = nil
		}
		s.mu.Unlock()
		return Session{}, false
	}

	return Session{
		Token:     token,
		UserInfo:  current.userInfo,
		CreatedAt: current.createdAt,
	}.Clone(), true
}

func (s *LocalStore) Set(ctx context.Context, session Session) {
	if session.Token == "" {
		s.Clear(ctx)
		return
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = s.newEntry(session)
	if s.backend == nil {
		return
	}
	if err := s.backend.SaveSession(ctx, s.profile, session.Clone()); err != nil {
		s.logger.Error(err, "failed to persist session", "profile", s.profile)
		return
	}
	s.logger.V(1).Info("persisted session", "profile", s.profile)
}

func (s *LocalStore) Clear(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if s.backend == nil {
		return
	}
	if err := s.backend.DeleteSession(ctx, s.profile); err != nil {
		s.logger.Error(err, "failed to delete persisted session", "profile", s.profile)
	}
}

func (s *LocalStore) newEntry(session Session) *entry {
	session = session.Clone()
	e := &entry{
		userInfo:  session.UserInfo,
		createdAt: session.CreatedAt,
	}

	if s.sealed {
		e.enclave = memguard.NewEnclave([]byte(session.Token))
		return e
	}

	e.token = session.Token
	return e
}

func (e *entry) openToken() (string, error) {
	if e.enclave == nil {
		return e.token, nil
	}

	buf, err := e.enclave.Open()
	if err != nil {
		return "", errors.Join(ErrSealedTokenUnavailable, err)
	}
	defer buf.Destroy()

	return string(buf.Bytes()), nil
}
