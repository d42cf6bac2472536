package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nalgeon/be"

	"uploadq/internal/engine"
	"uploadq/internal/logger"
	"uploadq/internal/model"
)

type fakeEngine struct {
	mu           sync.Mutex
	jobs         []model.Job
	nextID       int
	reconciled   int
	reconcileErr error
}

func (f *fakeEngine) Enqueue(uri, fileName, mediaType string) model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	job := model.Job{
		ID:        fmt.Sprintf("job-%d", f.nextID),
		URI:       uri,
		FileName:  fileName,
		Type:      mediaType,
		Status:    model.StatusQueued,
		Timestamp: time.Now(),
	}
	f.jobs = append(f.jobs, job)
	return job
}

func (f *fakeEngine) Retry(id string) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, j := range f.jobs {
		if j.ID != id {
			continue
		}
		if j.Status == model.StatusFailed {
			j.Status = model.StatusQueued
			j.Error = ""
			f.jobs[i] = j
		}
		return f.jobs[i], nil
	}
	return model.Job{}, model.ErrJobNotFound
}

func (f *fakeEngine) Jobs() []model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.jobs)
}

func (f *fakeEngine) Counts() engine.Counts {
	var c engine.Counts
	for _, j := range f.Jobs() {
		switch j.Status {
		case model.StatusQueued:
			c.Queued++
		case model.StatusUploading:
			c.Uploading++
		}
	}
	return c
}

func (f *fakeEngine) Reconcile(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled++
	return f.reconcileErr
}

func newTestServer(t *testing.T, eng *fakeEngine) *httptest.Server {
	t.Helper()
	hub := NewHub()
	hub.Run()
	srv := httptest.NewServer(New(eng, hub, "/api"))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	be.Err(t, err, nil)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	be.Err(t, json.NewDecoder(resp.Body).Decode(v), nil)
}

func TestEnqueueJob(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	resp := post(t, srv.URL+"/api/jobs", `{"uri":"/tmp/a.jpg","fileName":"a.jpg"}`)
	be.Equal(t, resp.StatusCode, http.StatusCreated)

	var got jobResponse
	decode(t, resp, &got)
	be.Equal(t, got.Job.URI, "/tmp/a.jpg")
	be.Equal(t, got.Job.FileName, "a.jpg")
	be.Equal(t, got.Job.Status, model.StatusQueued)
	be.True(t, got.Job.ID != "")
}

func TestEnqueueJobBadRequest(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	tests := []struct {
		name string
		body string
	}{
		{"missing_uri", `{"fileName":"a.jpg"}`},
		{"empty_uri", `{"uri":""}`},
		{"not_json", `noise`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/jobs", tt.body)
			be.Equal(t, resp.StatusCode, http.StatusBadRequest)
		})
	}
	be.Equal(t, len(eng.Jobs()), 0)
}

func TestListJobs(t *testing.T) {
	eng := &fakeEngine{}
	eng.Enqueue("/tmp/1.jpg", "1.jpg", "")
	eng.Enqueue("/tmp/2.jpg", "2.jpg", "")
	eng.Enqueue("/tmp/3.jpg", "3.jpg", "")
	srv := newTestServer(t, eng)

	resp, err := http.Get(srv.URL + "/api/jobs")
	be.Err(t, err, nil)
	defer resp.Body.Close()
	be.Equal(t, resp.StatusCode, http.StatusOK)

	var got listJobsResponse
	decode(t, resp, &got)

	// от новых к старым
	be.Equal(t, len(got.Jobs), 3)
	be.Equal(t, got.Jobs[0].FileName, "3.jpg")
	be.Equal(t, got.Jobs[2].FileName, "1.jpg")
	be.Equal(t, got.Counts.Queued, 3)
}

func TestRetryJob(t *testing.T) {
	eng := &fakeEngine{}
	job := eng.Enqueue("/tmp/a.jpg", "a.jpg", "")
	eng.jobs[0].Status = model.StatusFailed
	eng.jobs[0].Error = "network lost"
	srv := newTestServer(t, eng)

	resp := post(t, srv.URL+"/api/jobs/"+job.ID+"/retry", "")
	be.Equal(t, resp.StatusCode, http.StatusOK)

	var got jobResponse
	decode(t, resp, &got)
	be.Equal(t, got.Job.Status, model.StatusQueued)
	be.Equal(t, got.Job.Error, "")
}

func TestRetryJobNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeEngine{})

	resp := post(t, srv.URL+"/api/jobs/nope/retry", "")
	be.Equal(t, resp.StatusCode, http.StatusNotFound)
}

func TestReconcile(t *testing.T) {
	eng := &fakeEngine{}
	srv := newTestServer(t, eng)

	resp := post(t, srv.URL+"/api/reconcile", "")
	be.Equal(t, resp.StatusCode, http.StatusOK)
	be.Equal(t, eng.reconciled, 1)
}

func TestReconcileError(t *testing.T) {
	eng := &fakeEngine{reconcileErr: fmt.Errorf("gateway down")}
	srv := newTestServer(t, eng)

	resp := post(t, srv.URL+"/api/reconcile", "")
	be.Equal(t, resp.StatusCode, http.StatusInternalServerError)
}

// dialWS подключает websocket-клиента и дожидается его регистрации в hub:
// она происходит после рукопожатия, Publish раньше нее ушел бы в пустую комнату.
func dialWS(t *testing.T, handler http.Handler, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	be.Err(t, err, nil)
	t.Cleanup(func() { resp.Body.Close() })
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.clients)
		hub.mu.Unlock()
		if n == 1 {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatal("client not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readUpdate(t *testing.T, conn *websocket.Conn) jobUpdate {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var got jobUpdate
	be.Err(t, conn.ReadJSON(&got), nil)
	return got
}

func TestWebsocketUpdates(t *testing.T) {
	hub := NewHub()
	hub.Run()
	conn := dialWS(t, New(&fakeEngine{}, hub, "/api"), hub)

	hub.Publish(model.Job{ID: "job-1", URI: "/tmp/a.jpg", Status: model.StatusUploading})

	got := readUpdate(t, conn)
	be.Equal(t, got.Type, "job_update")
	be.Equal(t, got.Job.ID, "job-1")
	be.Equal(t, got.Job.Status, model.StatusUploading)
}

// Апгрейд обязан проходить и через логирующий middleware: так роутер
// обернут в демоне, а Hijack работает только если обертка его пробрасывает.
func TestWebsocketThroughMiddleware(t *testing.T) {
	hub := NewHub()
	hub.Run()
	handler := logger.HTTPLogging(slog.Default(), New(&fakeEngine{}, hub, "/api"))
	conn := dialWS(t, handler, hub)

	hub.Publish(model.Job{ID: "job-1", URI: "/tmp/a.jpg", Status: model.StatusSuccess})

	got := readUpdate(t, conn)
	be.Equal(t, got.Type, "job_update")
	be.Equal(t, got.Job.Status, model.StatusSuccess)
}
