package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"uploadq/internal/kvstore"
)

const journalKey = "upload_journal_v1"

// KV — минимальный контракт долговременного хранилища журнала.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// journal — собственная бухгалтерия сессии: какие передачи запущены и чем
// закончились. Переживает рестарт процесса, благодаря чему реконсиляция
// может дочитать исходы, события о которых были потеряны.
type journal struct {
	mu      sync.Mutex
	kv      KV
	entries []Transfer
	byID    map[string]int
}

func newJournal(kv KV) *journal {
	return &journal{
		kv:   kv,
		byID: make(map[string]int),
	}
}

func (jr *journal) load(ctx context.Context) error {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	raw, err := jr.kv.Get(ctx, journalKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries []Transfer
	if err := json.Unmarshal(raw, &entries); err != nil {
		// поврежденный журнал бесполезен, начинаем с чистого
		slog.Warn("corrupt transfer journal, starting empty", "error", err)
		return nil
	}

	jr.entries = entries
	clear(jr.byID)
	for i, tr := range entries {
		jr.byID[tr.UploadID] = i
	}
	return nil
}

func (jr *journal) add(uploadID string) {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	if _, exists := jr.byID[uploadID]; exists {
		return
	}
	jr.byID[uploadID] = len(jr.entries)
	jr.entries = append(jr.entries, Transfer{UploadID: uploadID, Outcome: OutcomePending})
	jr.persistLocked()
}

// finish фиксирует исход передачи. Уже записанный исход не перезаписывается.
func (jr *journal) finish(uploadID string, outcome Outcome, response, errMsg string) {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	i, exists := jr.byID[uploadID]
	if !exists || jr.entries[i].Outcome != OutcomePending {
		return
	}
	jr.entries[i] = Transfer{
		UploadID: uploadID,
		Outcome:  outcome,
		Response: response,
		Error:    errMsg,
	}
	jr.persistLocked()
}

// markInterrupted переводит в failed все pending-записи, кроме перечисленных
// в live: после рестарта у них нет живой горутины, исход уже не придет.
func (jr *journal) markInterrupted(live map[string]bool, reason string) {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	changed := false
	for i, tr := range jr.entries {
		if tr.Outcome == OutcomePending && !live[tr.UploadID] {
			jr.entries[i] = Transfer{UploadID: tr.UploadID, Outcome: OutcomeFailed, Error: reason}
			changed = true
		}
	}
	if changed {
		jr.persistLocked()
	}
}

func (jr *journal) list() []Transfer {
	jr.mu.Lock()
	defer jr.mu.Unlock()

	out := make([]Transfer, len(jr.entries))
	copy(out, jr.entries)
	return out
}

func (jr *journal) persistLocked() {
	raw, err := json.Marshal(jr.entries)
	if err != nil {
		slog.Error("marshal transfer journal failed", "error", err)
		return
	}
	if err := jr.kv.Put(context.Background(), journalKey, raw); err != nil {
		slog.Warn("save transfer journal failed", "error", err)
	}
}
