package actions

import (
	"github.com/espejodata/espejo/rdbms/shared"
)

// ConnectionLoader fetches named connection details, normally from the
// connections file with environment DSN overrides applied.
type ConnectionLoader interface {
	LoadConnection(connectionName string) (shared.ConnectionDetails, error)
}

type ConnectionGetterSetter interface {
	Get(key string, out interface{}) error
	Set(key string, val interface{}) error
	Delete(key string) error
}
