package apiv1

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// Submit a task
	// (POST /api/v1/tasks)
	SubmitTask(w http.ResponseWriter, r *http.Request)
	// Pause, resume or retry a run
	// (POST /api/v1/runs/control)
	ControlRun(w http.ResponseWriter, r *http.Request)
	// List runs
	// (GET /api/v1/runs)
	ListRuns(w http.ResponseWriter, r *http.Request, params ListRunsParams)
	// Get a run
	// (GET /api/v1/runs/{id})
	GetRun(w http.ResponseWriter, r *http.Request, id string)
	// Get a run's event log
	// (GET /api/v1/runs/{id}/events)
	GetRunEvents(w http.ResponseWriter, r *http.Request, id string)
	// Submit a job
	// (POST /api/v1/jobs)
	SubmitJob(w http.ResponseWriter, r *http.Request)
	// Get job status
	// (GET /api/v1/jobs/status)
	GetJobStatus(w http.ResponseWriter, r *http.Request, params GetJobStatusParams)
}

type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper converts path and query parameters before calling
// the handler.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

type InvalidParamFormatError struct {
	ParamName string
	Err       error
}

func (e *InvalidParamFormatError) Error() string {
	return fmt.Sprintf("Invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *InvalidParamFormatError) Unwrap() error { return e.Err }

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	handler := http.Handler(h)
	for _, middleware := range siw.HandlerMiddlewares {
		handler = middleware(handler)
	}
	handler.ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) SubmitTask(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.SubmitTask)
}

func (siw *ServerInterfaceWrapper) ControlRun(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.ControlRun)
}

func (siw *ServerInterfaceWrapper) ListRuns(w http.ResponseWriter, r *http.Request) {
	var err error
	var params ListRunsParams

	err = runtime.BindQueryParameter("form", true, false, "state", r.URL.Query(), &params.State)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "state", Err: err})
		return
	}
	err = runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "limit", Err: err})
		return
	}

	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.ListRuns(w, r, params)
	})
}

func (siw *ServerInterfaceWrapper) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetRun(w, r, id)
	})
}

func (siw *ServerInterfaceWrapper) GetRunEvents(w http.ResponseWriter, r *http.Request) {
	id, err := bindID(r)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetRunEvents(w, r, id)
	})
}

func (siw *ServerInterfaceWrapper) SubmitJob(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, siw.Handler.SubmitJob)
}

func (siw *ServerInterfaceWrapper) GetJobStatus(w http.ResponseWriter, r *http.Request) {
	var params GetJobStatusParams
	err := runtime.BindQueryParameter("form", true, true, "id", r.URL.Query(), &params.Id)
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &InvalidParamFormatError{ParamName: "id", Err: err})
		return
	}
	siw.serve(w, r, func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetJobStatus(w, r, params)
	})
}

func bindID(r *http.Request) (string, error) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	return id, err
}

// RegisterAPIV1 mounts every /api/v1 route on r.
func RegisterAPIV1(r chi.Router, si ServerInterface, mws ...MiddlewareFunc) {
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: mws,
		ErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_parameter"})
		},
	}

	r.Group(func(r chi.Router) {
		r.Post("/api/v1/tasks", wrapper.SubmitTask)
		r.Post("/api/v1/runs/control", wrapper.ControlRun)
		r.Get("/api/v1/runs", wrapper.ListRuns)
		r.Get("/api/v1/runs/{id}", wrapper.GetRun)
		r.Get("/api/v1/runs/{id}/events", wrapper.GetRunEvents)
		r.Post("/api/v1/jobs", wrapper.SubmitJob)
		r.Get("/api/v1/jobs/status", wrapper.GetJobStatus)
	})
}
