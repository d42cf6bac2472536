package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nalgeon/be"

	"uploadq/internal/kvstore"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *memKV) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = bytes.Clone(value)
	return nil
}

func newTestSession(t *testing.T, kv KV) *Session {
	t.Helper()
	s := NewSession(&http.Client{}, kv, 10*time.Second)
	be.Err(t, s.ReconnectSession(context.Background()), nil)
	return s
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	be.Err(t, os.WriteFile(path, data, 0o644), nil)
	return path
}

// waitOutcome опрашивает журнал, пока передача не завершится.
func waitOutcome(t *testing.T, s *Session, uploadID string) Transfer {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		trs, err := s.PendingTransfers(context.Background())
		be.Err(t, err, nil)
		for _, tr := range trs {
			if tr.UploadID == uploadID && tr.Outcome != OutcomePending {
				return tr
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transfer did not settle")
	return Transfer{}
}

func TestStartTransferPostsMultipart(t *testing.T) {
	content := []byte("fake png bytes")
	path := writeTempFile(t, "a.png", content)

	var (
		gotPlatform string
		gotAccept   string
		gotName     string
		gotType     string
		gotBody     []byte
	)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPlatform = r.Header.Get("X-Platform")
		gotAccept = r.Header.Get("Accept")

		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotName = header.Filename
		gotType = header.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(file)

		<-release // ответ уходит после подписки теста на события
		w.Write([]byte(`{"file_id":"f1","file_url":"https://x/f1"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, newMemKV())
	uploadID, err := s.StartTransfer(context.Background(), StartRequest{
		URI:         "file://" + path,
		URL:         srv.URL,
		FileName:    "a.png",
		ContentType: "image/png",
		Headers:     map[string]string{"X-Platform": "test", "Accept": "application/json"},
	})
	be.Err(t, err, nil)
	be.True(t, uploadID != "")

	events := make(chan Event, 1)
	sub := s.Subscribe(EventCompleted, uploadID, func(ev Event) { events <- ev })
	defer sub.Unsubscribe()
	close(release)

	select {
	case ev := <-events:
		be.Equal(t, ev.UploadID, uploadID)
		be.Equal(t, ev.Response, `{"file_id":"f1","file_url":"https://x/f1"}`)
	case <-time.After(3 * time.Second):
		t.Fatal("no completed event")
	}

	be.Equal(t, gotPlatform, "test")
	be.Equal(t, gotAccept, "application/json")
	be.Equal(t, gotName, "a.png")
	be.Equal(t, gotType, "image/png")
	be.Equal(t, gotBody, content)

	// журнал зафиксировал исход вместе с телом ответа
	tr := waitOutcome(t, s, uploadID)
	be.Equal(t, tr.Outcome, OutcomeCompleted)
	be.Equal(t, tr.Response, `{"file_id":"f1","file_url":"https://x/f1"}`)
}

func TestServerErrorJSONBody(t *testing.T) {
	path := writeTempFile(t, "a.jpg", []byte("x"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	s := newTestSession(t, newMemKV())
	uploadID, err := s.StartTransfer(context.Background(), StartRequest{
		URI: path, URL: srv.URL, FileName: "a.jpg", ContentType: "image/jpeg",
	})
	be.Err(t, err, nil)

	tr := waitOutcome(t, s, uploadID)
	be.Equal(t, tr.Outcome, OutcomeFailed)
	be.Equal(t, tr.Error, "boom")
}

func TestServerErrorPlainBody(t *testing.T) {
	path := writeTempFile(t, "a.jpg", []byte("x"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	s := newTestSession(t, newMemKV())
	uploadID, err := s.StartTransfer(context.Background(), StartRequest{
		URI: path, URL: srv.URL, FileName: "a.jpg", ContentType: "image/jpeg",
	})
	be.Err(t, err, nil)

	tr := waitOutcome(t, s, uploadID)
	be.Equal(t, tr.Outcome, OutcomeFailed)
	be.Equal(t, tr.Error, "HTTP 502: Bad Gateway")
}

func TestNoSession(t *testing.T) {
	s := NewSession(&http.Client{}, newMemKV(), 0)

	_, err := s.StartTransfer(context.Background(), StartRequest{URI: "/tmp/a.jpg"})
	be.Err(t, err, ErrNoSession)

	_, err = s.PendingTransfers(context.Background())
	be.Err(t, err, ErrNoSession)
}

func TestStartUnreadableFile(t *testing.T) {
	s := newTestSession(t, newMemKV())

	_, err := s.StartTransfer(context.Background(), StartRequest{
		URI: filepath.Join(t.TempDir(), "missing.jpg"),
	})
	be.Err(t, err)

	_, err = s.StartTransfer(context.Background(), StartRequest{URI: t.TempDir()})
	be.Err(t, err)
}

func TestReconnectMarksInterrupted(t *testing.T) {
	kv := newMemKV()
	seed := []Transfer{
		{UploadID: "t1", Outcome: OutcomePending},
		{UploadID: "t2", Outcome: OutcomeCompleted, Response: `{"file_id":"f2"}`},
	}
	raw, err := json.Marshal(seed)
	be.Err(t, err, nil)
	be.Err(t, kv.Put(context.Background(), journalKey, raw), nil)

	s := NewSession(&http.Client{}, kv, 0)
	be.Err(t, s.ReconnectSession(context.Background()), nil)

	trs, err := s.PendingTransfers(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, len(trs), 2)

	// pending-запись без живой горутины помечена прерванной
	be.Equal(t, trs[0].UploadID, "t1")
	be.Equal(t, trs[0].Outcome, OutcomeFailed)
	be.Equal(t, trs[0].Error, "upload interrupted")

	// завершенная запись не тронута
	be.Equal(t, trs[1].Outcome, OutcomeCompleted)
	be.Equal(t, trs[1].Response, `{"file_id":"f2"}`)

	// повторный reconnect ничего не меняет
	be.Err(t, s.ReconnectSession(context.Background()), nil)
	again, err := s.PendingTransfers(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, again, trs)

	// прерывание дописано обратно в хранилище
	raw, err = kv.Get(context.Background(), journalKey)
	be.Err(t, err, nil)
	var persisted []Transfer
	be.Err(t, json.Unmarshal(raw, &persisted), nil)
	be.Equal(t, persisted[0].Outcome, OutcomeFailed)
}

func TestReconnectCorruptJournal(t *testing.T) {
	kv := newMemKV()
	be.Err(t, kv.Put(context.Background(), journalKey, []byte("not json at all")), nil)

	s := NewSession(&http.Client{}, kv, 0)
	be.Err(t, s.ReconnectSession(context.Background()), nil)

	trs, err := s.PendingTransfers(context.Background())
	be.Err(t, err, nil)
	be.Equal(t, len(trs), 0)
}

func TestProgressEvents(t *testing.T) {
	// файл заведомо больше сетевых буферов, чтобы часть прогресса
	// пришла после подписки
	data := make([]byte, 4<<20)
	_, err := rand.Read(data)
	be.Err(t, err, nil)
	path := writeTempFile(t, "big.bin", data)

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	s := newTestSession(t, newMemKV())
	uploadID, err := s.StartTransfer(context.Background(), StartRequest{
		URI: path, URL: srv.URL, FileName: "big.bin", ContentType: "application/octet-stream",
	})
	be.Err(t, err, nil)

	var mu sync.Mutex
	var pcts []int
	sub := s.Subscribe(EventProgress, uploadID, func(ev Event) {
		mu.Lock()
		pcts = append(pcts, ev.Progress)
		mu.Unlock()
	})
	defer sub.Unsubscribe()
	close(release)

	tr := waitOutcome(t, s, uploadID)
	be.Equal(t, tr.Outcome, OutcomeCompleted)

	mu.Lock()
	defer mu.Unlock()
	be.True(t, len(pcts) > 0)
	for i := 1; i < len(pcts); i++ {
		be.True(t, pcts[i] >= pcts[i-1])
	}
	be.Equal(t, pcts[len(pcts)-1], 100)
}
