package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/server/migrations"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/catalog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/loans"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/operators"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/oplog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/peers"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/requests"
)

// SQLManager produces SQL-backed repositories. The dialect is chosen
// from the DSN: postgres URLs go through pgx, anything else is treated
// as a sqlite file path (the original deployment shape: one sqlite file
// per library).
type SQLManager struct {
	dialect      goose.Dialect
	migrationFS  fs.FS
	migrationDir string
}

// Open connects to the store described by dsn and returns the database
// handle together with a manager for it.
func Open(dsn string) (*sql.DB, *SQLManager, error) {
	m := &SQLManager{}

	var driver string
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver = "pgx"
		m.dialect = goose.DialectPostgres
		m.migrationFS = migrations.Postgres
		m.migrationDir = "postgres"
	} else {
		driver = "sqlite3"
		m.dialect = goose.DialectSQLite3
		m.migrationFS = migrations.Sqlite
		m.migrationDir = "sqlite"
		// Referential integrity is off by default in sqlite.
		if !strings.Contains(dsn, "_foreign_keys") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_foreign_keys=on"
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	return db, m, nil
}

func (m *SQLManager) Catalog(db dbx.DBTX) catalog.Repository {
	return catalog.NewSQLRepository(db)
}

func (m *SQLManager) Loans(db dbx.DBTX) loans.Repository {
	return loans.NewSQLRepository(db)
}

func (m *SQLManager) Peers(db dbx.DBTX) peers.Repository {
	return peers.NewSQLRepository(db)
}

func (m *SQLManager) Requests(db dbx.DBTX) requests.Repository {
	return requests.NewSQLRepository(db)
}

func (m *SQLManager) OpLog(db dbx.DBTX) oplog.Repository {
	return oplog.NewSQLRepository(db)
}

func (m *SQLManager) Operators(db dbx.DBTX) operators.Repository {
	return operators.NewSQLRepository(db)
}

func (m *SQLManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(m.dialect, db, mustSub(m.migrationFS, m.migrationDir))
	if err != nil {
		return fmt.Errorf("migration provider error: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}
