package config

import (
	"fmt"
	"os"

	h "github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/rdbms/shared"
)

// GetConnectionDetails fetches generic connection details from the File c using
// the connectionName to do the lookup. An environment variable of the form
// ESPEJO_<NAME>_DSN overrides the configured DSN so deployments can inject
// credentials without touching the file.
func (c *File) GetConnectionDetails(connectionName string) (*shared.ConnectionDetails, error) {
	genericConn := &shared.ConnectionDetails{}
	if err := c.Get(connectionName, genericConn); err != nil {
		return nil, err
	}
	if genericConn.Type == "" { // if the connection was not found...
		return nil, fmt.Errorf("connection %q is not configured: use 'config' command to create it", connectionName)
	}
	if dsn := os.Getenv(h.GetDsnEnvVarName(connectionName)); dsn != "" { // if the environment overrides the DSN...
		if genericConn.Data == nil {
			genericConn.Data = make(map[string]string)
		}
		genericConn.Data["dsn"] = dsn
	}
	return genericConn, nil
}

func (c *File) LoadConnection(connectionName string) (shared.ConnectionDetails, error) {
	d, err := c.GetConnectionDetails(connectionName)
	if err != nil { // if there was an error fetching the connection from config...
		return shared.ConnectionDetails{}, err
	}
	return *d, nil
}
