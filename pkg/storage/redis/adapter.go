package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/storage"
	goredis "github.com/redis/go-redis/v9"
)

const defaultNamespace = "weappauth"

var (
	ErrNilClient = errors.New("redis session backend: client is nil")
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	// TTL bounds how long a persisted session survives. Zero keeps it until
	// it is cleared.
	TTL time.Duration
}

type Adapter struct {
	client    goredis.UniversalClient
	namespace string
	ttl       time.Duration
	owned     bool
}

var _ session.Backend = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	adapter := NewAdapterWithClient(client, config.Namespace, config.TTL)
	adapter.owned = true
	return adapter
}

// NewAdapterWithClient shares an existing client. Close leaves it open.
func NewAdapterWithClient(client goredis.UniversalClient, namespace string, ttl time.Duration) *Adapter {
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	if namespace == "" {
		namespace = defaultNamespace
	}

	return &Adapter{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (a *Adapter) Ping(ctx context.Context) error {
	if a == nil || a.client == nil {
		return ErrNilClient
	}
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis session backend: ping: %w", err)
	}
	return nil
}

func (a *Adapter) LoadSession(ctx context.Context, profile string) (session.Session, bool, error) {
	key, err := a.key(profile)
	if err != nil {
		return session.Session{}, false, err
	}

	data, err := a.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return session.Session{}, false, nil
	}
	if err != nil {
		return session.Session{}, false, fmt.Errorf("redis session backend: get %s: %w", key, err)
	}

	record, ok, err := storage.UnmarshalRecord(data)
	if err != nil || !ok {
		return session.Session{}, false, err
	}
	return record.Session(), true, nil
}

func (a *Adapter) SaveSession(ctx context.Context, profile string, current session.Session) error {
	key, err := a.key(profile)
	if err != nil {
		return err
	}

	data, err := storage.FromSession(profile, current).Marshal()
	if err != nil {
		return err
	}

	if err := a.client.Set(ctx, key, data, a.ttl).Err(); err != nil {
		return fmt.Errorf("redis session backend: set %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) DeleteSession(ctx context.Context, profile string) error {
	key, err := a.key(profile)
	if err != nil {
		return err
	}

	if err := a.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis session backend: del %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) Close() error {
	if a == nil || a.client == nil || !a.owned {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) key(profile string) (string, error) {
	if a == nil || a.client == nil {
		return "", ErrNilClient
	}

	normalized, err := storage.NormalizeProfile(profile)
	if err != nil {
		return "", err
	}
	return a.namespace + ":session:" + normalized, nil
}
