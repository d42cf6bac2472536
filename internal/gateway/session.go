package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	maxResponseLen = 1 << 20 // сервер отвечает маленьким JSON, больше не читаем

	interruptedReason = "upload interrupted"
)

// ErrNoSession возвращается, если сессия передач не подключена.
// Текст повторяет сообщение нативного модуля фоновых загрузок.
var ErrNoSession = errors.New("No session: background transfer session is not connected")

// Session — реализация шлюза поверх HTTP: multipart POST одного файла,
// каждая передача в отдельной горутине. Журнал запущенных передач пишется
// в долговременное хранилище, поэтому после рестарта процесса исходы
// прерванных передач восстановимы через ReconnectSession + PendingTransfers.
type Session struct {
	client  *http.Client
	timeout time.Duration
	journal *journal
	emitter *emitter

	mu        sync.Mutex
	connected bool
	live      map[string]bool // передачи с живой горутиной
}

func NewSession(client *http.Client, kv KV, timeout time.Duration) *Session {
	return &Session{
		client:  client,
		timeout: timeout,
		journal: newJournal(kv),
		emitter: newEmitter(),
		live:    make(map[string]bool),
	}
}

// ReconnectSession восстанавливает журнал передач после холодного старта.
// Pending-записи без живой горутины помечаются как прерванные: их исход
// уже не придет, пусть реконсиляция переведет задачи в Failed.
// Повторные вызовы ничего не делают.
func (s *Session) ReconnectSession(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = true
	live := make(map[string]bool, len(s.live))
	for id := range s.live {
		live[id] = true
	}
	s.mu.Unlock()

	if err := s.journal.load(ctx); err != nil {
		return fmt.Errorf("load transfer journal: %w", err)
	}
	s.journal.markInterrupted(live, interruptedReason)
	return nil
}

// PendingTransfers перечисляет передачи, известные сессии, вместе с их
// исходами. До ReconnectSession журналу верить нельзя.
func (s *Session) PendingTransfers(ctx context.Context) ([]Transfer, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return nil, ErrNoSession
	}
	return s.journal.list(), nil
}

func (s *Session) Subscribe(kind EventKind, uploadID string, fn func(Event)) Subscription {
	return s.emitter.subscribe(kind, uploadID, fn)
}

// StartTransfer запускает передачу файла и возвращает ее идентификатор.
// Ошибки до старта горутины (нет сессии, файл не читается) синхронные.
func (s *Session) StartTransfer(ctx context.Context, req StartRequest) (string, error) {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()

	if !connected {
		return "", ErrNoSession
	}

	path := localPath(req.URI)
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("cannot read file %q: %w", req.URI, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("cannot read file %q: is a directory", req.URI)
	}

	uploadID := uuid.NewString()
	s.journal.add(uploadID)

	s.mu.Lock()
	s.live[uploadID] = true
	s.mu.Unlock()

	go s.run(uploadID, req, path, fi.Size())

	return uploadID, nil
}

func (s *Session) run(uploadID string, req StartRequest, path string, size int64) {
	log := slog.With("op", "transfer", "uploadId", uploadID, "url", req.URL)

	body, err := s.post(uploadID, req, path, size)

	s.mu.Lock()
	delete(s.live, uploadID)
	s.mu.Unlock()

	if err != nil {
		s.journal.finish(uploadID, OutcomeFailed, "", err.Error())
		s.emitter.emit(EventFailed, Event{UploadID: uploadID, Error: err.Error()})
		log.Debug("transfer failed", "error", err)
		return
	}

	s.journal.finish(uploadID, OutcomeCompleted, body, "")
	s.emitter.emit(EventCompleted, Event{UploadID: uploadID, Response: body})
	log.Debug("transfer completed")
}

func (s *Session) post(uploadID string, req StartRequest, path string, size int64) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot read file %q: %w", req.URI, err)
	}
	defer file.Close()

	// Тело собирается потоково: файл не загружается в память целиком.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreatePart(partHeader(req.FileName, req.ContentType))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		counter := &progressReader{
			r:    file,
			size: size,
			emit: func(pct int) {
				s.emitter.emit(EventProgress, Event{UploadID: uploadID, Progress: pct})
			},
		}
		if _, err := io.Copy(part, counter); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, pr)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.New(errorMessage(resp.StatusCode, raw))
	}
	return string(raw), nil
}

// errorMessage строит сообщение об ошибке из ответа сервера:
// поле error из JSON-тела, иначе HTTP-статус.
func errorMessage(statusCode int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode))
}

func partHeader(fileName, contentType string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)
	return h
}

// localPath переводит локатор источника в путь файловой системы.
func localPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

// progressReader эмитит процент прочитанного при каждом его изменении.
type progressReader struct {
	r    io.Reader
	size int64
	read int64
	last int
	emit func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)

	if n > 0 && p.size > 0 {
		pct := int(p.read * 100 / p.size)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.emit(pct)
		}
	}
	return n, err
}
