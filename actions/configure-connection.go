package actions

import (
	"fmt"

	"github.com/espejodata/espejo/config"
	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/pkg/errors"
)

type ConnectionConfig struct {
	ConfigFile  ConnectionGetterSetter
	LogicalName string `errorTxt:"connection name" mandatory:"yes"`
	Type        string `errorTxt:"database type" mandatory:"yes"`
	Dsn         string `errorTxt:"data source name i.e. connect string" mandatory:"yes"`
	Force       bool
}

func RunConnectionAdd(cfg *ConnectionConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil { // if the basics were not supplied...
		return err
	}
	// Validate the DSN based on connection type.
	if cfg.Type != constants.ConnectionTypeSqlite { // sqlite DSNs are plain file paths with nothing to parse.
		d := shared.DsnConnectionDetails{Dsn: cfg.Dsn}
		if err := d.Parse(); err != nil {
			return errors.Wrap(err, "unable to create connection")
		}
	}
	connection := shared.ConnectionDetails{
		LogicalName: cfg.LogicalName,
		Type:        cfg.Type,
		Data:        map[string]string{shared.DefaultDsnConnectionKeyNames.Dsn: cfg.Dsn},
	}
	// Check for an existing saved connection.
	tmpConn := &shared.ConnectionDetails{}
	err := cfg.ConfigFile.Get(cfg.LogicalName, tmpConn)
	if err != nil { // if there is an error finding the connection...
		var knf config.KeyNotFoundError
		var fnf config.FileNotFoundError
		if !errors.As(err, &knf) && !errors.As(err, &fnf) { // if the error is real...
			return err
		}
	} else if tmpConn.LogicalName != "" && !cfg.Force { // else if the connection exists, but we are not allowed to overwrite it...
		return fmt.Errorf("connection exists, use force to update the connection or remove it first")
	}
	// Set config (creates the file if missing).
	if err = cfg.ConfigFile.Set(cfg.LogicalName, &connection); err != nil {
		return fmt.Errorf("error writing connections config file after adding: %v", err)
	}
	fmt.Printf("Connection %q added\n", cfg.LogicalName)
	return nil
}

func RunConnectionRemove(cfg *ConnectionConfig) error {
	if cfg.LogicalName == "" {
		return errors.New("please supply a connection name")
	}
	if err := cfg.ConfigFile.Delete(cfg.LogicalName); err != nil {
		return fmt.Errorf("unable to delete connection %q from config: %v", cfg.LogicalName, err)
	}
	fmt.Printf("Connection %q removed\n", cfg.LogicalName)
	return nil
}
