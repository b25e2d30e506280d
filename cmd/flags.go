package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/espejodata/espejo/constants"
	"github.com/espejodata/espejo/helper"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type cliFlag struct {
	name      string // name of flag
	val       string // default value
	shortHand string // single character name for the flag
	desc      string // description of the flag; the long text
}

type cliFlags map[string]cliFlag

var switches = cliFlags{
	"log-level": cliFlag{name: "log-level", shortHand: "l",
		desc: "Log level: \"error | warn | info | debug\""},
	"port": cliFlag{name: "port", shortHand: "p",
		desc: "Port to listen on"},
	"year-from": cliFlag{name: "year-from", shortHand: "y",
		desc: "Replace every period of the given year (use 0 to replace the whole domain)"},
	"close-month": cliFlag{name: "close-month", shortHand: "m",
		desc: "Close month MM/YYYY to replace (cartera only); shorthand for --close-month-from"},
	"close-month-from": cliFlag{name: "close-month-from", shortHand: "f",
		desc: "First close month MM/YYYY of the replacement range (cartera only)"},
	"close-month-to": cliFlag{name: "close-month-to", shortHand: "t",
		desc: "Last close month MM/YYYY of the replacement range (cartera only); \n" +
			"omit or repeat the from-month to replace a single month"},
	"actor": cliFlag{name: "actor", shortHand: "a",
		desc: "Who or what requested the run, recorded on the run for auditing"},
	"job-id": cliFlag{name: "job-id", shortHand: "j",
		desc: "Job ID of the run to show; omit for the most recent run of the domain"},
	"queries-dir": cliFlag{name: "queries-dir", shortHand: "q",
		desc: "Directory holding one extraction query file per domain (<domain>.sql); \n" +
			"overrides the value in domains.yaml"},
	"commit-batch-size": cliFlag{name: "commit-batch-size", shortHand: "B",
		desc: "Number of rows in each transaction before committing"},
	"sql-txt-batch-num-rows": cliFlag{name: "sql-txt-batch-num-rows", shortHand: "S",
		desc: "Number of rows combined into a single SQL statement before it is executed;\n" +
			"must be less than or equal to the commit batch size"},
}

// addFlag adds a flag to cobra.Command c, based on the type of targetVar (which
// must be a pointer). The name of the flag is looked up in map cliFlags. The
// default value comes from environment variable ESPEJO_<NAME> when set, else
// the supplied defaultValue.
func (f *cliFlags) addFlag(c *cobra.Command, targetVar interface{}, name string, defaultValue string, required bool, desc2 string) {
	sw := f.getCliFlag(name, defaultValue)
	desc := sw.desc + desc2
	// Apply the flag.
	switch p := targetVar.(type) {
	case *string:
		c.Flags().StringVarP(p, sw.name, sw.shortHand, sw.val, desc)
		if sw.val != "" { // if there is a value via env or default...
			mustSetFlag(c.Flags(), sw.name, sw.val)
		}
	case *bool:
		c.Flags().BoolVarP(p, sw.name, sw.shortHand, helper.GetTrueFalseStringAsBool(sw.val), desc)
	case *int:
		defaultInt, err := strconv.Atoi(sw.val)
		if err != nil {
			fmt.Printf("the value for flag %q must be an integer: %v\n", sw.name, err)
			os.Exit(1)
		}
		c.Flags().IntVarP(p, sw.name, sw.shortHand, defaultInt, desc)
	default:
		panic("Error: unhandled CLI flag target value type")
	}
	// Optionally mark the flag as mandatory.
	if required {
		_ = c.MarkFlagRequired(sw.name)
	}
}

// getCliFlag fetches the value of name from the environment, or applies the
// supplied defaultValue in its place.
func (f *cliFlags) getCliFlag(name string, defaultValue string) cliFlag {
	s, ok := switches[name]
	if !ok {
		panic(fmt.Sprintf("unregistered CLI flag, %q", name))
	}
	s.val = helper.ReadValueFromEnvWithDefault(flagNameToEnvVar(name), defaultValue)
	return s
}

// flagNameToEnvVar will form a sanitised environment variable name using constants.EnvVarPrefix.
func flagNameToEnvVar(name string) string {
	return constants.EnvVarPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func mustSetFlag(f *pflag.FlagSet, name string, val string) {
	if err := f.Set(name, val); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
