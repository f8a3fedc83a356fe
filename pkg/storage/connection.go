package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/platinummonkey/keystone/pkg/identity"
)

// Database is an open connection pool and its SQL dialect
type Database struct {
	DB      *sql.DB
	Dialect identity.Dialect
}

// OpenDatabase opens and pings the configured database. With AutoMigrate
// set, the schema is applied and the general roles are seeded.
func OpenDatabase(ctx context.Context, config Config) (*Database, error) {
	dialect, err := identity.DialectFor(config.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Name, config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", dialect.Name, err)
	}

	if dialect == identity.SQLite {
		// sqlite serializes writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(config.MaxConns)
		db.SetMaxIdleConns(config.MinConns)
		db.SetConnMaxLifetime(config.MaxLifetime)
		db.SetConnMaxIdleTime(config.MaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", dialect.Name, err)
	}

	if config.AutoMigrate {
		if err := identity.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		if err := identity.NewSQLStore(db, dialect).SeedGeneralRoles(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to seed general roles: %w", err)
		}
	}

	return &Database{DB: db, Dialect: dialect}, nil
}

// HealthCheck pings the database
func (d *Database) HealthCheck(ctx context.Context) error {
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s unhealthy: %w", d.Dialect.Name, err)
	}
	return nil
}

// Stats returns connection pool statistics
func (d *Database) Stats() sql.DBStats {
	return d.DB.Stats()
}

// Close closes the pool
func (d *Database) Close() error {
	return d.DB.Close()
}
