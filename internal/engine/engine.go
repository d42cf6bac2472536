// Package engine — ядро очереди загрузок.
//
// Движок владеет жизненным циклом записей: только он переводит задачи между
// статусами. Дисциплина single-flight: в каждый момент шлюзу передается не
// больше одной задачи. Все изменения коллекции сериализованы одним мьютексом,
// события шлюза приходят из чужих горутин и проходят через него же.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"uploadq/internal/gateway"
	"uploadq/internal/metrics"
	"uploadq/internal/model"
	"uploadq/internal/store"
)

const (
	errInvalidResponse = "Invalid server response"
	errUploadFailed    = "Upload failed"
)

type Config struct {
	UploadURL string // endpoint приема файлов
	Platform  string // значение заголовка X-Platform
}

// Persister — контракт долговременного снапшота очереди.
type Persister interface {
	Load(ctx context.Context) []model.Job
	Save(ctx context.Context, jobs []model.Job)
}

// Counts — производные счетчики для слоя представления.
type Counts struct {
	Queued    int  `json:"queued"`
	Uploading int  `json:"uploading"`
	Progress  *int `json:"progress,omitempty"` // прогресс текущей передачи
}

type Engine struct {
	cfg   Config
	gw    gateway.Gateway
	store *store.Store
	queue Persister

	mu         sync.Mutex // сериализует все изменения коллекции
	processing string     // id задачи, занимающей слот single-flight
	listeners  map[string][]gateway.Subscription

	reconcileMu sync.Mutex // пассы реконсиляции выполняются строго по одному

	subsMu  sync.Mutex
	subs    map[int]func(model.Job)
	nextSub int
}

func New(cfg Config, gw gateway.Gateway, st *store.Store, queue Persister) *Engine {
	return &Engine{
		cfg:       cfg,
		gw:        gw,
		store:     st,
		queue:     queue,
		listeners: make(map[string][]gateway.Subscription),
		subs:      make(map[int]func(model.Job)),
	}
}

// Restore загружает сохраненный снапшот очереди. Вызывается один раз до
// первого пасса реконсиляции.
func (e *Engine) Restore(ctx context.Context) {
	jobs := e.queue.Load(ctx)
	e.store.Reset(jobs)
	slog.Info("queue restored", "jobs", len(jobs))
}

// Enqueue добавляет задачу в конец очереди и запускает диспетчеризацию.
func (e *Engine) Enqueue(uri, fileName, mediaType string) model.Job {
	job := model.Job{
		ID:        uuid.NewString(),
		URI:       uri,
		FileName:  fileName,
		Type:      mediaType,
		Status:    model.StatusQueued,
		Timestamp: time.Now(),
	}

	e.mu.Lock()
	// ID только что сгенерирован, коллизия исключена
	_ = e.store.Append(job)
	e.save()
	e.mu.Unlock()

	metrics.JobsEnqueued.Inc()
	e.notify(job)
	e.scheduleNext()
	return job
}

// Retry сбрасывает Failed-задачу обратно в Queued и очищает причину неудачи.
// Для задачи в любом другом статусе ничего не делает и не считается ошибкой.
func (e *Engine) Retry(id string) (model.Job, error) {
	e.mu.Lock()
	job, err := e.store.Get(id)
	if err != nil {
		e.mu.Unlock()
		return model.Job{}, err
	}
	if job.Status != model.StatusFailed {
		e.mu.Unlock()
		return job, nil
	}
	updated, _ := e.store.Update(id, func(j model.Job) model.Job {
		j.Status = model.StatusQueued
		j.Error = ""
		// новая попытка получит новый идентификатор передачи
		j.UploadID = ""
		return j
	})
	e.save()
	e.mu.Unlock()

	metrics.JobsRetried.Inc()
	e.notify(updated)
	e.scheduleNext()
	return updated, nil
}

// Jobs возвращает снапшот коллекции в порядке постановки.
func (e *Engine) Jobs() []model.Job {
	return e.store.All()
}

func (e *Engine) Counts() Counts {
	var c Counts
	for _, j := range e.store.All() {
		switch j.Status {
		case model.StatusQueued:
			c.Queued++
		case model.StatusUploading:
			c.Uploading++
			if c.Progress == nil {
				c.Progress = j.Progress
			}
		}
	}
	return c
}

// Subscribe регистрирует наблюдателя изменений. Колбэк получает копию
// измененной записи; вызывается вне внутренних блокировок движка.
// Возвращает функцию отписки.
func (e *Engine) Subscribe(fn func(model.Job)) func() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	e.nextSub++
	id := e.nextSub
	e.subs[id] = fn
	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs, id)
	}
}

// Reconcile согласует локальные записи с исходами, о которых сообщает шлюз.
//
// Вызывается на старте процесса и при возврате приложения "на передний план".
// Пассы сериализованы: следующий не начнется, пока не завершится текущий.
// Повторное применение уже учтенного исхода ничего не меняет.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()

	log := slog.With("op", "reconcile")

	if err := e.gw.ReconnectSession(ctx); err != nil {
		// сессию восстановить не удалось, но журнал все равно пробуем прочитать
		log.Warn("reconnect session failed", "error", err)
	}

	transfers, err := e.gw.PendingTransfers(ctx)
	if err != nil {
		return err
	}

	byUpload := make(map[string]string)
	for _, j := range e.store.All() {
		if j.UploadID != "" {
			byUpload[j.UploadID] = j.ID
		}
	}

	applied := 0
	for _, tr := range transfers {
		if tr.Outcome == gateway.OutcomePending {
			continue // передача действительно еще в полете
		}
		jobID, ok := byUpload[tr.UploadID]
		if !ok {
			// исход без локальной записи: чужая или уже забытая передача
			log.Debug("no job for transfer", "uploadId", tr.UploadID)
			continue
		}
		if e.applyOutcome(jobID, tr) {
			applied++
		}
	}

	log.Info("reconcile done", "transfers", len(transfers), "applied", applied)
	e.scheduleNext()
	return nil
}

// scheduleNext ищет первую Queued-задачу в порядке вставки и запускает ее
// передачу. Пока слот single-flight занят, новые задачи не стартуют.
func (e *Engine) scheduleNext() {
	e.mu.Lock()
	if e.processing != "" {
		e.mu.Unlock()
		return
	}

	var next model.Job
	found := false
	for _, j := range e.store.All() {
		if j.Status == model.StatusQueued {
			next, found = j, true
			break
		}
	}
	if !found {
		e.mu.Unlock()
		return
	}

	// Шаг захвата: статус меняется до любого асинхронного вызова, иначе
	// повторный скан успел бы выбрать ту же запись еще раз.
	e.processing = next.ID
	claimed, _ := e.store.Update(next.ID, func(j model.Job) model.Job {
		j.Status = model.StatusUploading
		return j
	})
	e.save()
	e.mu.Unlock()

	e.notify(claimed)
	go e.startTransfer(claimed)
}

// startTransfer передает задачу шлюзу. Синхронная ошибка старта переводит
// запись в Failed и освобождает слот; следующая задача стартует сразу же.
func (e *Engine) startTransfer(job model.Job) {
	log := slog.With("op", "startTransfer", "id", job.ID)

	name := job.Label()
	contentType := job.Type
	if contentType == "" {
		contentType = InferType(name)
	}

	uploadID, err := e.gw.StartTransfer(context.Background(), gateway.StartRequest{
		URI:         job.URI,
		URL:         e.cfg.UploadURL,
		FileName:    name,
		ContentType: contentType,
		Headers: map[string]string{
			"X-Platform": e.cfg.Platform,
			"Accept":     "application/json",
		},
	})
	if err != nil {
		log.Warn("start failed", "error", err)
		e.applyOutcome(job.ID, gateway.Transfer{
			Outcome: gateway.OutcomeFailed,
			Error:   err.Error(),
		})
		return
	}

	metrics.TransfersStarted.Inc()
	log.Debug("transfer started", "uploadId", uploadID)

	e.mu.Lock()
	updated, uerr := e.store.Update(job.ID, func(j model.Job) model.Job {
		if j.UploadID == "" { // присваивается один раз
			j.UploadID = uploadID
		}
		return j
	})
	if uerr == nil {
		e.save()
		e.listeners[job.ID] = []gateway.Subscription{
			e.gw.Subscribe(gateway.EventProgress, uploadID, func(ev gateway.Event) {
				e.onProgress(job.ID, ev)
			}),
			e.gw.Subscribe(gateway.EventCompleted, uploadID, func(ev gateway.Event) {
				e.applyOutcome(job.ID, gateway.Transfer{
					Outcome:  gateway.OutcomeCompleted,
					Response: ev.Response,
				})
			}),
			e.gw.Subscribe(gateway.EventFailed, uploadID, func(ev gateway.Event) {
				e.applyOutcome(job.ID, gateway.Transfer{
					Outcome: gateway.OutcomeFailed,
					Error:   ev.Error,
				})
			}),
		}
	}
	e.mu.Unlock()

	if uerr == nil {
		e.notify(updated)
	}

	// Исход, случившийся до регистрации подписок, события уже не пошлет,
	// но он записан в журнале шлюза — дочитываем его сразу, не дожидаясь
	// внешнего пасса реконсиляции.
	trs, terr := e.gw.PendingTransfers(context.Background())
	if terr != nil {
		return
	}
	for _, tr := range trs {
		if tr.UploadID == uploadID && tr.Outcome != gateway.OutcomePending {
			e.applyOutcome(job.ID, tr)
			return
		}
	}
}

// onProgress обновляет процент передачи. Статус не меняется; поздний
// progress после терминального события молча игнорируется.
func (e *Engine) onProgress(jobID string, ev gateway.Event) {
	e.mu.Lock()
	job, err := e.store.Get(jobID)
	if err != nil || job.Status != model.StatusUploading {
		e.mu.Unlock()
		return
	}
	pct := min(max(ev.Progress, 0), 100)
	updated, _ := e.store.Update(jobID, func(j model.Job) model.Job {
		j.Progress = &pct
		return j
	})
	e.save()
	e.mu.Unlock()

	e.notify(updated)
}

// applyOutcome переводит запись в терминальный статус по исходу передачи.
// Единая точка для живых событий и реконсиляции, за счет чего обе ветки
// идемпотентны: уже терминальная запись не меняется. Возвращает true, если
// состояние записи изменилось.
func (e *Engine) applyOutcome(jobID string, tr gateway.Transfer) bool {
	e.mu.Lock()
	job, err := e.store.Get(jobID)
	if err != nil {
		e.mu.Unlock()
		return false
	}
	if job.Status.Terminal() {
		e.releaseLocked(jobID)
		e.mu.Unlock()
		return false
	}

	var updated model.Job
	switch tr.Outcome {
	case gateway.OutcomeCompleted:
		fileID, fileURL, perr := parseUploadResponse(tr.Response)
		if perr != nil {
			updated, _ = e.store.Update(jobID, func(j model.Job) model.Job {
				j.Status = model.StatusFailed
				j.Error = errInvalidResponse
				j.Progress = nil
				return j
			})
			metrics.JobsFailed.Inc()
		} else {
			updated, _ = e.store.Update(jobID, func(j model.Job) model.Job {
				j.Status = model.StatusSuccess
				j.Error = ""
				j.FileID = fileID
				j.FileURL = fileURL
				j.Progress = nil
				return j
			})
			metrics.JobsSucceeded.Inc()
		}

	case gateway.OutcomeFailed:
		msg := tr.Error
		if msg == "" {
			msg = errUploadFailed
		}
		updated, _ = e.store.Update(jobID, func(j model.Job) model.Job {
			j.Status = model.StatusFailed
			j.Error = msg
			j.Progress = nil
			return j
		})
		metrics.JobsFailed.Inc()

	default:
		e.mu.Unlock()
		return false
	}

	e.save()
	e.releaseLocked(jobID)
	e.mu.Unlock()

	e.notify(updated)
	e.scheduleNext()
	return true
}

// releaseLocked снимает подписки задачи и освобождает слот single-flight.
// Вызывается под e.mu.
func (e *Engine) releaseLocked(jobID string) {
	for _, sub := range e.listeners[jobID] {
		sub.Unsubscribe()
	}
	delete(e.listeners, jobID)
	if e.processing == jobID {
		e.processing = ""
	}
}

// save пишет снапшот коллекции и обновляет gauge-метрики. Вызывается под e.mu.
func (e *Engine) save() {
	jobs := e.store.All()
	e.queue.Save(context.Background(), jobs)

	var queued, uploading int
	for _, j := range jobs {
		switch j.Status {
		case model.StatusQueued:
			queued++
		case model.StatusUploading:
			uploading++
		}
	}
	metrics.QueuedJobs.Set(float64(queued))
	metrics.UploadingJobs.Set(float64(uploading))
}

func (e *Engine) notify(job model.Job) {
	e.subsMu.Lock()
	fns := make([]func(model.Job), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subsMu.Unlock()

	for _, fn := range fns {
		fn(job)
	}
}

// parseUploadResponse извлекает file_id и file_url из тела ответа сервера.
// Отсутствие полей или не-объектная форма допустимы (поля остаются пустыми),
// нераспарсиваемое тело — ошибка. Пустое тело эквивалентно пустому объекту.
func parseUploadResponse(body string) (fileID, fileURL string, err error) {
	if body == "" {
		return "", "", nil
	}
	var payload any
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return "", "", err
	}
	obj, _ := payload.(map[string]any)
	if v, ok := obj["file_id"].(string); ok {
		fileID = v
	}
	if v, ok := obj["file_url"].(string); ok {
		fileURL = v
	}
	return fileID, fileURL, nil
}
