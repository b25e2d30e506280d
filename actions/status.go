package actions

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/rdbms"
	"github.com/espejodata/espejo/run"
	"github.com/pkg/errors"
)

type StatusConfig struct {
	LogLevel         string `errorTxt:"log level" mandatory:"yes"`
	DomainName       string `errorTxt:"domain name" mandatory:"yes"`
	JobId            string
	Connections      ConnectionLoader
	StackDumpOnPanic bool
}

// RunStatus prints the durable state of a run as JSON. With no job ID it shows
// the most recent run for the domain, which keeps working after the process
// that owned the run has exited.
func RunStatus(cfg *StatusConfig) error {
	if cfg == nil {
		return errors.New("nil pointer to status config supplied")
	}
	log := logger.NewLogger("espejo", cfg.LogLevel, cfg.StackDumpOnPanic)
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	d, err := domain.ParseDomain(cfg.DomainName)
	if err != nil {
		return err
	}
	destDetails, err := cfg.Connections.LoadConnection(constants.ConnectionNameDestination)
	if err != nil {
		return err
	}
	destDb, err := rdbms.OpenDbConnection(log, destDetails)
	if err != nil {
		return errors.Wrapf(err, "unable to open connection %q", constants.ConnectionNameDestination)
	}
	defer destDb.Close()
	state, err := run.NewStore(log, destDb).Load(d, cfg.JobId)
	if err == sql.ErrNoRows {
		return errors.Wrapf(ErrRunNotFound, "domain %v", d)
	}
	if err != nil {
		return err
	}
	j, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(j))
	return nil
}
