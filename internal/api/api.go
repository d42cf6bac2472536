// Package api — HTTP-фасад очереди загрузок для слоя представления.
package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uploadq/internal/engine"
	"uploadq/internal/model"
)

// Engine — контракт движка очереди, потребляемый API.
type Engine interface {
	Enqueue(uri, fileName, mediaType string) model.Job
	Retry(id string) (model.Job, error)
	Jobs() []model.Job
	Counts() engine.Counts
	Reconcile(ctx context.Context) error
}

func New(eng Engine, hub *Hub, apiBasePath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST " /**/ +apiBasePath+"/jobs", EnqueueJob(eng))
	mux.HandleFunc("GET " /***/ +apiBasePath+"/jobs", ListJobs(eng))
	mux.HandleFunc("POST " /**/ +apiBasePath+"/jobs/{id}/retry", RetryJob(eng))
	mux.HandleFunc("POST " /**/ +apiBasePath+"/reconcile", Reconcile(eng))
	mux.HandleFunc("GET " /***/ +apiBasePath+"/ws", ServeWS(hub))
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type enqueueRequest struct {
	URI      string `json:"uri"`
	FileName string `json:"fileName,omitempty"`
	Type     string `json:"type,omitempty"`
}

type jobResponse struct {
	Job model.Job `json:"job"`
}

func EnqueueJob(eng Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := newHelper(w, r, "EnqueueJob")

		var req enqueueRequest
		if err := h.ReadRequest(&req); err != nil {
			h.WriteError(err)
			return
		}

		if req.URI == "" {
			h.WriteError(&httpError{
				StatusCode: http.StatusBadRequest,
				StatusMsg:  "uri is required",
			})
			return
		}

		job := eng.Enqueue(req.URI, req.FileName, req.Type)
		h.WriteResponse(jobResponse{Job: job}, http.StatusCreated)
	}
}

type listJobsResponse struct {
	Jobs   []model.Job   `json:"jobs"`
	Counts engine.Counts `json:"counts"`
}

// ListJobs отдает коллекцию от новых к старым: представлению нужен журнал,
// а не порядок диспетчеризации.
func ListJobs(eng Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := newHelper(w, r, "ListJobs")

		jobs := eng.Jobs()
		slices.Reverse(jobs)

		h.WriteResponse(listJobsResponse{
			Jobs:   jobs,
			Counts: eng.Counts(),
		}, http.StatusOK)
	}
}

func RetryJob(eng Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := newHelper(w, r, "RetryJob")

		id, err := h.GetID()
		if err != nil {
			h.WriteError(err)
			return
		}

		job, err := eng.Retry(id)
		if err != nil {
			h.WriteError(err)
			return
		}

		h.WriteResponse(jobResponse{Job: job}, http.StatusOK)
	}
}

// Reconcile запускает пасс реконсиляции. Аналог возврата приложения
// "на передний план".
func Reconcile(eng Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := newHelper(w, r, "Reconcile")

		if err := eng.Reconcile(h.Ctx()); err != nil {
			h.WriteError(err)
			return
		}

		h.WriteResponse(struct{}{}, http.StatusOK)
	}
}
