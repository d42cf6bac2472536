package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"uploadq/internal/logger"
	"uploadq/internal/model"
)

type httpError struct {
	StatusCode int
	StatusMsg  string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.StatusMsg)
}

type helper struct {
	ctx context.Context
	log *slog.Logger
	r   *http.Request
	w   http.ResponseWriter
}

func newHelper(w http.ResponseWriter, r *http.Request, op string) *helper {
	ctx := r.Context()
	return &helper{
		ctx: ctx,
		log: logger.FromContext(ctx).With("op", op),
		w:   w,
		r:   r,
	}
}

func (h *helper) Ctx() context.Context {
	return h.ctx
}

func (h *helper) WriteError(err error) {
	httpErr := h.mapError(err)
	http.Error(h.w, httpErr.StatusMsg, httpErr.StatusCode)
}

func (h *helper) mapError(err error) *httpError {
	var httpErr *httpError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case errors.Is(err, model.ErrJobNotFound):
		return &httpError{http.StatusNotFound, err.Error()}
	case errors.Is(err, model.ErrDuplicateID):
		return &httpError{http.StatusConflict, err.Error()}
	}

	h.log.Warn("unhandled error has been detected", "error", err)
	return &httpError{http.StatusInternalServerError, "internal error"}
}

func (h *helper) WriteResponse(resp any, statusCode int) {
	h.w.Header().Add("content-type", "application/json")
	h.w.WriteHeader(statusCode)
	if err := json.NewEncoder(h.w).Encode(resp); err != nil {
		h.log.Error("write response failed", "error", err)
	}
}

func (h *helper) GetID() (string, error) {
	id := h.r.PathValue("id")
	if id == "" {
		return "", &httpError{http.StatusBadRequest, "id is required"}
	}
	return id, nil
}

func (h *helper) ReadRequest(req any) error {
	body, err := io.ReadAll(h.r.Body)
	if err != nil {
		msg := "can't read request body"
		h.log.Error(msg, "error", err)
		return &httpError{http.StatusInternalServerError, msg}
	}

	if err := json.Unmarshal(body, req); err != nil {
		msg := "can't parse request body"
		h.log.Error(msg, "error", err)
		return &httpError{http.StatusBadRequest, msg}
	}

	return nil
}
