package shared

import (
	"context"
	"database/sql"
	"sync"

	"github.com/espejodata/espejo/logger"
	"github.com/pkg/errors"
)

// MockConnection implements Connector and records all SQL executed against it
// so tests can assert on generated DML without a real database.
type MockConnection struct {
	mu           sync.Mutex
	Log          logger.Logger
	DbType       string
	ExecSql      []string        // SQL text captured per Exec call, in order.
	ExecArgs     [][]interface{} // args captured per Exec call, in order.
	ExecErr      error           // when set, Exec and Tx Exec return this error.
	RowsAffected int64           // reported by every captured exec.
	Commits      int
	Rollbacks    int
}

// NewMockConnection returns a Connector that captures executed SQL.
func NewMockConnection(log logger.Logger, dbType string) *MockConnection {
	return &MockConnection{Log: log, DbType: dbType}
}

func (c *MockConnection) record(query string, args []interface{}) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ExecErr != nil {
		return nil, c.ExecErr
	}
	c.ExecSql = append(c.ExecSql, query)
	c.ExecArgs = append(c.ExecArgs, args)
	return mockResult{affected: c.RowsAffected}, nil
}

func (c *MockConnection) Begin() (Transacter, error) {
	return &mockTx{conn: c}, nil
}

func (c *MockConnection) Exec(query string, args ...interface{}) (Result, error) {
	return c.record(query, args)
}

func (c *MockConnection) ExecContext(ctx context.Context, query string, args ...interface{}) (Result, error) {
	return c.record(query, args)
}

func (c *MockConnection) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return nil, errors.New("queries are not supported by the mock connection")
}

func (c *MockConnection) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return c.Query(query, args...)
}

func (c *MockConnection) Close() {}

func (c *MockConnection) GetType() string {
	return c.DbType
}

func (c *MockConnection) GetDmlGenerator() DmlGenerator {
	return &DmlGeneratorTxtBatch{}
}

type mockTx struct {
	conn *MockConnection
}

func (t *mockTx) Exec(query string, args ...interface{}) (Result, error) {
	return t.conn.record(query, args)
}

func (t *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (Result, error) {
	return t.conn.record(query, args)
}

func (t *mockTx) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return t.conn.Query(query, args...)
}

func (t *mockTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Commits++
	return nil
}

func (t *mockTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Rollbacks++
	return nil
}

type mockResult struct {
	affected int64
}

func (r mockResult) LastInsertId() (int64, error) { return 0, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.affected, nil }
