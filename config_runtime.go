package weappauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	prommetrics "github.com/porthorian/weappauth/pkg/metrics/prometheus"
	"github.com/porthorian/weappauth/pkg/session"
	boltstore "github.com/porthorian/weappauth/pkg/storage/bbolt"
	"github.com/porthorian/weappauth/pkg/storage/postgres"
	redisstore "github.com/porthorian/weappauth/pkg/storage/redis"
	httptransport "github.com/porthorian/weappauth/pkg/transport/http"
	"github.com/prometheus/client_golang/prometheus"
)

type SessionBackend string

const (
	SessionBackendMemory   SessionBackend = "memory"
	SessionBackendBolt     SessionBackend = "bbolt"
	SessionBackendRedis    SessionBackend = "redis"
	SessionBackendPostgres SessionBackend = "postgres"
)

type RuntimeConfig struct {
	Session SessionConfig
	HTTP    HTTPConfig
	Metrics MetricsConfig
}

type SessionConfig struct {
	Backend  SessionBackend
	Profile  string
	Sealed   bool
	Bolt     BoltConfig
	Redis    RedisConfig
	Postgres PostgresConfig
}

type BoltConfig struct {
	Path    string
	Timeout time.Duration
}

type RedisConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	TTL         time.Duration
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	AutoMigrate     bool
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type HTTPConfig struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

type MetricsConfig struct {
	Registerer prometheus.Registerer
	Namespace  string
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)

	if config.Transport == nil {
		config.Transport = httptransport.New(httptransport.Config{
			Timeout:      config.Runtime.HTTP.Timeout,
			UserAgent:    config.Runtime.HTTP.UserAgent,
			MaxBodyBytes: config.Runtime.HTTP.MaxBodyBytes,
		})
	}

	if config.Metrics == nil && config.Runtime.Metrics.Registerer != nil {
		collector, err := prommetrics.New(config.Runtime.Metrics.Registerer, config.Runtime.Metrics.Namespace)
		if err != nil {
			return nil, Config{}, fmt.Errorf("weappauth config: failed to register metrics: %w", err)
		}
		config.Metrics = collector
	}
	config.Metrics = resolveMetrics(config.Metrics)

	if config.SessionStore != nil {
		return noopCloser, config, nil
	}

	closeBackend, config, err := initializeSessionStore(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}
	return joinClosers(closeBackend), config, nil
}

func initializeSessionStore(ctx context.Context, config Config) (func() error, Config, error) {
	sessionConfig := config.Runtime.Session
	backendName := sessionConfig.Backend
	if backendName == "" {
		backendName = SessionBackendMemory
	}

	var (
		backend      session.Backend
		closeBackend func() error
		err          error
	)

	switch backendName {
	case SessionBackendMemory:
		closeBackend = noopCloser
	case SessionBackendBolt:
		backend, closeBackend, err = initializeBolt(config)
	case SessionBackendRedis:
		backend, closeBackend, err = initializeRedis(ctx, config)
	case SessionBackendPostgres:
		backend, closeBackend, err = initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("weappauth config: unsupported runtime.session.backend %q", backendName)
	}
	if err != nil {
		return nil, Config{}, err
	}

	store := session.NewStore(session.Options{
		Backend: backend,
		Profile: sessionConfig.Profile,
		Sealed:  sessionConfig.Sealed,
		Logger:  config.Logger,
	})
	if err := store.Restore(ctx); err != nil {
		_ = closeBackend()
		return nil, Config{}, fmt.Errorf("weappauth config: failed to restore session: %w", err)
	}

	config.SessionStore = store
	config.Runtime.Session.Backend = backendName
	config.Logger.V(1).Info("initialized session store", "backend", backendName, "profile", store.Profile(), "sealed", sessionConfig.Sealed)
	return closeBackend, config, nil
}

func initializeBolt(config Config) (session.Backend, func() error, error) {
	boltConfig := config.Runtime.Session.Bolt
	if boltConfig.Path == "" {
		return nil, nil, fmt.Errorf("weappauth config: runtime.session.bolt.path is required")
	}

	store, err := boltstore.Open(boltConfig.Path, boltConfig.Timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("weappauth config: failed to open bbolt session file: %w", err)
	}

	config.Logger.V(1).Info("initialized bbolt session backend", "path", boltConfig.Path)
	return store, store.Close, nil
}

func initializeRedis(ctx context.Context, config Config) (session.Backend, func() error, error) {
	redisConfig := config.Runtime.Session.Redis
	if redisConfig.Address == "" {
		return nil, nil, fmt.Errorf("weappauth config: runtime.session.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	adapter := redisstore.NewAdapter(redisstore.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
		TTL:         redisConfig.TTL,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisConfig.DialTimeout)
	defer cancel()
	if err := adapter.Ping(pingCtx); err != nil {
		_ = adapter.Close()
		return nil, nil, fmt.Errorf("weappauth config: failed to reach redis: %w", err)
	}

	config.Logger.V(1).Info("initialized redis session backend", "address", redisConfig.Address, "database", redisConfig.Database, "namespace", redisConfig.Namespace)
	return adapter, adapter.Close, nil
}

func initializePostgres(ctx context.Context, config Config) (session.Backend, func() error, error) {
	pgConfig := config.Runtime.Session.Postgres
	if pgConfig.DSN == "" {
		return nil, nil, fmt.Errorf("weappauth config: runtime.session.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("weappauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("weappauth config: failed to ping postgres database: %w", err)
	}

	if pgConfig.AutoMigrate {
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("weappauth config: failed to migrate postgres schema: %w", err)
		}
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("weappauth config: failed to initialize postgres adapter: %w", err)
	}

	config.Logger.V(1).Info("initialized postgres session backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns, "auto_migrate", pgConfig.AutoMigrate)
	return adapter, joinClosers(db.Close, adapter.Close), nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
