package actions

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/espejodata/espejo/domain"
	"github.com/espejodata/espejo/logger"
	"github.com/espejodata/espejo/orchestrator"
	"github.com/espejodata/espejo/run"
	"github.com/espejodata/espejo/window"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

type WebServerResponse uint32

const (
	Okay WebServerResponse = iota + 1
	Error
)

func (w WebServerResponse) MarshalJSON() ([]byte, error) {
	var retval string
	switch w {
	case Okay:
		retval = "ok"
	case Error:
		retval = "error"
	default:
		err := fmt.Errorf("unhandled WebServerResponse value in MarshalJSON() conversion")
		return nil, err
	}
	return json.Marshal(retval)
}

type ResponseSimple struct {
	ServerStatus WebServerResponse `json:"status"`
}

type ResponseSyncStart struct {
	Status    WebServerResponse `json:"status"`
	Message   string            `json:"message"`
	JobId     string            `json:"jobId,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	Mode      string            `json:"mode,omitempty"`
	StartedAt time.Time         `json:"startedAt,omitempty"`
}

type ResponseSyncStatus struct {
	Status  WebServerResponse `json:"status"`
	Message string            `json:"message"`
	Run     *run.RunState     `json:"run,omitempty"`
}

// RequestSyncStart is the JSON body of a run submission. All scope fields are
// optional; an empty body requests a full replacement of the domain. closeMonth
// is shorthand for a single-month window, equivalent to closeMonthFrom alone.
type RequestSyncStart struct {
	YearFrom       int    `json:"yearFrom"`
	CloseMonth     string `json:"closeMonth"`
	CloseMonthFrom string `json:"closeMonthFrom"`
	CloseMonthTo   string `json:"closeMonthTo"`
	Actor          string `json:"actor"`
}

func GetHandlerHealth(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseSimple{ServerStatus: Okay})
	}
}

func GetHandlerStopServer(log logger.Logger, chanStop chan string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chanStop <- "stop"
		log.Info("Stop signal sent")
		respond(log, w, ResponseSimple{ServerStatus: Okay})
	}
}

func GetHandlerSyncStart(log logger.Logger, svc *SyncService) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := domain.ParseDomain(mux.Vars(r)["domain"])
		if err != nil {
			logAndRespond(log, err, w, http.StatusBadRequest,
				ResponseSyncStart{Status: Error, Message: err.Error()})
			return
		}
		// Ingest the run scope from the request body JSON.
		b, _ := ioutil.ReadAll(r.Body)
		req := RequestSyncStart{}
		if len(b) > 0 {
			if err = json.Unmarshal(b, &req); err != nil {
				logAndRespond(log, err, w, http.StatusBadRequest,
					ResponseSyncStart{Status: Error, Message: fmt.Sprintf("error unmarshalling JSON: %v", err)})
				return
			}
		}
		if req.CloseMonthFrom == "" { // if only the single-month shorthand was given...
			req.CloseMonthFrom = req.CloseMonth
		}
		ack, err := svc.Start(orchestrator.Request{
			Domain:         d,
			YearFrom:       req.YearFrom,
			CloseMonthFrom: req.CloseMonthFrom,
			CloseMonthTo:   req.CloseMonthTo,
			Actor:          req.Actor,
		})
		if err != nil {
			logAndRespond(log, err, w, httpStatusForError(err),
				ResponseSyncStart{Status: Error, Message: err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseSyncStart{
			Status:    Okay,
			Message:   "accepted",
			JobId:     ack.JobID,
			Domain:    string(ack.Domain),
			Mode:      ack.Mode,
			StartedAt: ack.StartedAt,
		})
	}
}

func GetHandlerSyncStatus(log logger.Logger, svc *SyncService) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := domain.ParseDomain(mux.Vars(r)["domain"])
		if err != nil {
			logAndRespond(log, err, w, http.StatusBadRequest,
				ResponseSyncStatus{Status: Error, Message: err.Error()})
			return
		}
		state, err := svc.Status(d, r.URL.Query().Get("jobId"))
		if err != nil {
			logAndRespond(log, err, w, httpStatusForError(err),
				ResponseSyncStatus{Status: Error, Message: err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseSyncStatus{Status: Okay, Run: &state})
	}
}

// httpStatusForError maps the run submission error taxonomy onto status codes:
// bad scope is the caller's fault, a held gate is a conflict worth retrying
// later, a missing run is not found, anything else is on us.
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, window.ErrWindowConflict), errors.Is(err, ErrDomainDisabled):
		return http.StatusBadRequest
	case errors.Is(err, run.ErrRunActive):
		return http.StatusConflict
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// logAndRespond will log the error, write the supplied status code and r to w.
func logAndRespond(log logger.Logger, err error, w http.ResponseWriter, code int, r interface{}) {
	log.Error(err)
	w.WriteHeader(code)
	respond(log, w, r)
}

// respond will marshal i to a string and write it to w.
func respond(log logger.Logger, w http.ResponseWriter, i interface{}) {
	j, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		log.Panic(err)
	}
	_, err = fmt.Fprint(w, string(j))
	if err != nil {
		log.Panic(err)
	}
}
