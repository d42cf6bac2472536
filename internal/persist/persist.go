// Package persist сохраняет и восстанавливает снапшот очереди загрузок.
//
// Семантика только "вся коллекция целиком": один сериализованный массив
// записей под фиксированным ключом, никакого инкрементального диффа.
// Коллекция в памяти авторитетна для текущей сессии, поэтому ошибки
// сохранения не всплывают к пользователю — только в лог.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"uploadq/internal/kvstore"
	"uploadq/internal/model"
)

const queueKey = "upload_queue_v1"

// KV — минимальный контракт долговременного хранилища.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type Queue struct {
	kv KV
}

func NewQueue(kv KV) *Queue {
	return &Queue{kv: kv}
}

// Load восстанавливает сохраненную коллекцию задач.
//
// Отсутствие ключа и поврежденные данные не считаются ошибкой: возвращается
// пустая коллекция. Записи с неизвестным статусом отбрасываются по одной,
// остальная коллекция сохраняется.
func (q *Queue) Load(ctx context.Context) []model.Job {
	log := slog.With("op", "loadQueue")

	raw, err := q.kv.Get(ctx, queueKey)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			log.Warn("load failed, starting empty", "error", err)
		}
		return nil
	}

	var jobs []model.Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		log.Warn("corrupt snapshot, starting empty", "error", err)
		return nil
	}

	valid := jobs[:0]
	for _, j := range jobs {
		if !j.Status.Valid() {
			log.Warn("drop job with unknown status", "id", j.ID, "status", j.Status)
			continue
		}
		valid = append(valid, j)
	}
	return valid
}

// Save сохраняет коллекцию целиком. Лучшее из возможного:
// ошибка записи логируется и проглатывается.
func (q *Queue) Save(ctx context.Context, jobs []model.Job) {
	log := slog.With("op", "saveQueue")

	// пустая коллекция эквивалентна отсутствию ключа
	if len(jobs) == 0 {
		if err := q.kv.Delete(ctx, queueKey); err != nil {
			log.Warn("save failed, in-memory state remains authoritative", "error", err)
		}
		return
	}

	raw, err := json.Marshal(jobs)
	if err != nil {
		log.Error("marshal failed", "error", err)
		return
	}
	if err := q.kv.Put(ctx, queueKey, raw); err != nil {
		log.Warn("save failed, in-memory state remains authoritative", "error", err)
	}
}
