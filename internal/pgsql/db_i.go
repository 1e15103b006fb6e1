package pgsql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	ilog "scmap/internal/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded schema migrations. The migrator is not
// closed since that would close db as well.
func Migrate(db *sql.DB) error {
	logger := ilog.Component("pgsql")
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate.New: %w", err)
	}

	logger.Infof("applying migrations")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Infof("migrations applied")
	return nil
}

// DB hands out repositories bound either to the pool or to a transaction.
type DB struct {
	conn SQLConnector
}

func NewDB(conn SQLConnector) *DB {
	return &DB{conn: conn}
}

func (d *DB) Repos() Repos {
	return NewRepos(d.conn)
}

// WithTx runs fn inside one transaction. Any error from fn rolls back.
func (d *DB) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repos) error) (err error) {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				ilog.Component("pgsql").Warnf("rollback failed: %v", rbErr)
			}
		}
	}()

	if err = fn(ctx, NewRepos(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
