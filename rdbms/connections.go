package rdbms

import (
	"database/sql"
	"fmt"

	_ "github.com/denisenkom/go-mssqldb"
	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms/shared"
	_ "github.com/mattn/go-sqlite3"
	"github.com/xo/dburl"
)

// OpenDbConnection opens a database connection using the supplied ConnectionDetails struct in c.
// The legacy source is a SQL Server database reached via DSN; the local analytical
// store is an embedded SQLite database whose DSN is a file path.
func OpenDbConnection(log logger.Logger, c shared.ConnectionDetails) (db shared.Connector, err error) {
	log.Debug("opening connection type ", c.Type, " with logicalName ", c.LogicalName) // don't log password details in c.Data!
	switch c.Type {
	case constants.ConnectionTypeSqlServer:
		db, err = newConnectionWithDsn(log, shared.GetDsnConnectionDetails(&c))
	case constants.ConnectionTypeSqlite:
		db, err = newSqliteConnection(log, shared.GetDsnConnectionDetails(&c))
	case constants.ConnectionTypeMock:
		db = shared.NewMockConnection(log, constants.ConnectionTypeMock)
	default: // else we have an unsupported database...
		err = fmt.Errorf("unsupported database type, %q", c.Type)
	}
	return
}

func newConnectionWithDsn(log logger.Logger, d *shared.DsnConnectionDetails) (shared.Connector, error) {
	log.Info("Opening database connection: ", d)
	u, err := dburl.Parse(d.Dsn)
	if err != nil { // if the DSN could not be parsed...
		return nil, fmt.Errorf("error parsing DSN %q: %w", d.Dsn, err)
	}
	conn := &shared.DbConnection{
		Dml:    &shared.DmlGeneratorTxtBatch{},
		DbType: u.OriginalScheme,
	}
	// Open the connection.
	conn.DbSql, err = sql.Open(u.Driver, u.DSN)
	if err != nil {
		return nil, err
	}
	// Test the connection.
	err = conn.DbSql.Ping()
	if err != nil {
		return nil, err
	}
	log.Info("Successful connection to: ", d)
	return conn, nil
}

func newSqliteConnection(log logger.Logger, d *shared.DsnConnectionDetails) (shared.Connector, error) {
	if d.Dsn == "" {
		return nil, fmt.Errorf("missing file path for %v connection", constants.ConnectionTypeSqlite)
	}
	log.Info("Opening local store: ", d.Dsn)
	conn := &shared.DbConnection{
		Dml:    &shared.DmlGeneratorTxtBatch{},
		DbType: constants.ConnectionTypeSqlite,
	}
	var err error
	conn.DbSql, err = sql.Open("sqlite3", d.Dsn)
	if err != nil {
		return nil, err
	}
	// Serialise writers; the engine writes from one goroutine but status queries read concurrently.
	conn.DbSql.SetMaxOpenConns(1)
	err = conn.DbSql.Ping()
	if err != nil {
		return nil, err
	}
	return conn, nil
}
