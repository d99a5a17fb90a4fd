package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/porthorian/weappauth/pkg/session"
)

type Adapter struct {
	db *sql.DB

	stmts preparedStatements
}

type preparedStatements struct {
	loadSession   *sql.Stmt
	upsertSession *sql.Stmt
	deleteSession *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var prepareStatementSpecs = []prepareStatementSpec{
	{
		label: "load session",
		query: loadSessionQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.loadSession = stmt
		},
	},
	{
		label: "upsert session",
		query: upsertSessionQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.upsertSession = stmt
		},
	},
	{
		label: "delete session",
		query: deleteSessionQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteSession = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ session.Backend = (*Adapter)(nil)

// NewAdapter prepares every statement up front; the schema must already be
// migrated.
func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{db: db}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

// Close releases the prepared statements. The db belongs to the caller.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	err := closeStatements(
		a.stmts.loadSession,
		a.stmts.upsertSession,
		a.stmts.deleteSession,
	)
	a.stmts = preparedStatements{}
	return err
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(prepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
		}
	}()

	for _, spec := range prepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.loadSession == nil || a.stmts.upsertSession == nil || a.stmts.deleteSession == nil {
		return ErrAdapterNotInitialized
	}
	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
