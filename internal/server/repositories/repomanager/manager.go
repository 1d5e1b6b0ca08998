// Package repomanager builds repositories bound to a database handle and
// hides which SQL dialect backs them. Services ask the manager for a
// repository on either the root *sql.DB or a transaction handle, so the
// same repository code runs inside and outside dbx.WithTx.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/shelfmesh/shelfmesh/internal/dbx"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/catalog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/loans"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/operators"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/oplog"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/peers"
	"github.com/shelfmesh/shelfmesh/internal/server/repositories/requests"
)

type RepositoryManager interface {
	Catalog(db dbx.DBTX) catalog.Repository
	Loans(db dbx.DBTX) loans.Repository
	Peers(db dbx.DBTX) peers.Repository
	Requests(db dbx.DBTX) requests.Repository
	OpLog(db dbx.DBTX) oplog.Repository
	Operators(db dbx.DBTX) operators.Repository

	RunMigrations(ctx context.Context, db *sql.DB) error
}
