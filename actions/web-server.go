package actions

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/espejodata/espejo/helper"
	"github.com/espejodata/espejo/logger"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type WebServerConfig struct {
	LogLevel         string `errorTxt:"log level" mandatory:"yes"`
	Scheme           string `errorTxt:"scheme" mandatory:"no"`
	Addr             net.IP `errorTxt:"address" mandatory:"no"`
	Port             int    `errorTxt:"port" mandatory:"no"`
	StackDumpOnPanic bool
	Connections      ConnectionLoader
	QueriesDir       string
	DisabledDomains  []string
	CommitBatchSize  int
	TxtBatchNumRows  int
}

func RunWebServer(web *WebServerConfig) error {
	// Setup logging.
	if web == nil {
		return errors.New("nil pointer to web server config supplied")
	}
	log := logger.NewLogger("espejo", web.LogLevel, web.StackDumpOnPanic)
	// Check if we have valid input params.
	err := helper.ValidateStructIsPopulated(web)
	if err != nil {
		return err
	}
	// Wire the sync service: destination schema, startup reconciliation, orchestrator.
	svc, cleanup, err := BuildSyncService(log, &ServiceConfig{
		Connections:     web.Connections,
		QueriesDir:      web.QueriesDir,
		DisabledDomains: web.DisabledDomains,
		CommitBatchSize: web.CommitBatchSize,
		TxtBatchNumRows: web.TxtBatchNumRows,
	})
	if err != nil {
		return err
	}
	defer cleanup()
	// Start the web server.
	srv, chanStopServer := runServer(log, web, svc)
	// Block & wait for completion.
	return waitForServer(log, srv, chanStopServer)
}

// runServer starts a web server and returns:
// 1) the server; and
// 2) a channel that can be used to stop the web server
func runServer(log logger.Logger, web *WebServerConfig, svc *SyncService) (*http.Server, chan string) {
	chanStopServer := make(chan string, 1)
	r := newRouter(log, svc, chanStopServer)
	// Configure HTTP server.
	srv := &http.Server{ // Good practice to set timeouts to avoid Slowloris attacks.
		Addr:         fmt.Sprintf("%v:%v", web.Addr, web.Port),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r, // supply our instance of gorilla/mux.
	}
	// Run HTTP server non-blocking.
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				log.Info(err)
			} else {
				log.Panic(err)
			}
		}
	}()
	log.Info(fmt.Sprintf("Listening on %v://%v:%v", strings.ToLower(web.Scheme), web.Addr, web.Port))
	return srv, chanStopServer
}

// newRouter creates the routes for run submission, status, health and shutdown.
func newRouter(log logger.Logger, svc *SyncService, chanStopServer chan string) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/stop", GetHandlerStopServer(log, chanStopServer))
	r.Path("/health").HandlerFunc(GetHandlerHealth(log))
	r.Path("/sync/{domain}/status").HandlerFunc(GetHandlerSyncStatus(log, svc))
	r.Path("/sync/{domain}").Methods(http.MethodPost).Headers("Content-Type", "application/json").HandlerFunc(
		GetHandlerSyncStart(log, svc))
	return r
}

func waitForServer(log logger.Logger, srv *http.Server, chanStopServer chan string) error {
	// Block & wait for shutdown signals.
	// Accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+\) will not be caught.
	chanOS := make(chan os.Signal, 1)
	signal.Notify(chanOS, os.Interrupt) // request signals be sent to chanOS.
	select {
	case <-chanStopServer:
	case <-chanOS:
	}
	fmt.Println() // print new line char for clean looking CLI.
	log.Info("Shutting down web server...")
	// A run in flight cannot be cancelled; it dies with the process and the
	// startup reconciliation marks it interrupted on the next start.
	wait := time.Second * 15                                       // duration
	ctx, cancel := context.WithTimeout(context.Background(), wait) // create a timeout to wait for.
	defer cancel()                                                 // cancel the timeout.
	err := srv.Shutdown(ctx)                                       // Doesn't block if no connections, but will otherwise wait until the timeout deadline.
	return err
}
