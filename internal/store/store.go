// Package store — упорядоченная коллекция записей задач загрузки.
//
// Хранилище не знает бизнес-правил, кроме уникальности ID. Все изменения
// проходят через движок очереди, store лишь гарантирует порядок вставки
// и точечную замену по ID.
package store

import (
	"slices"
	"sync"

	"uploadq/internal/model"
)

type Store struct {
	mu   sync.RWMutex
	jobs []model.Job
	byID map[string]int // позиция в jobs
}

func New() *Store {
	return &Store{
		byID: make(map[string]int),
	}
}

// Reset заменяет содержимое коллекции (восстановление из снапшота).
// Записи с повторяющимся ID отбрасываются, первая остается.
func (s *Store) Reset(jobs []model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = s.jobs[:0]
	clear(s.byID)
	for _, j := range jobs {
		if _, exists := s.byID[j.ID]; exists {
			continue
		}
		s.byID[j.ID] = len(s.jobs)
		s.jobs = append(s.jobs, j)
	}
}

func (s *Store) Append(j model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[j.ID]; exists {
		return model.ErrDuplicateID
	}
	s.byID[j.ID] = len(s.jobs)
	s.jobs = append(s.jobs, j)
	return nil
}

// Update заменяет запись результатом fn, сохраняя позицию в коллекции.
// fn получает копию; смена ID внутри fn игнорируется.
func (s *Store) Update(id string, fn func(model.Job) model.Job) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.byID[id]
	if !exists {
		return model.Job{}, model.ErrJobNotFound
	}
	updated := fn(s.jobs[i])
	updated.ID = id
	s.jobs[i] = updated
	return updated, nil
}

func (s *Store) Get(id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, exists := s.byID[id]
	if !exists {
		return model.Job{}, model.ErrJobNotFound
	}
	return s.jobs[i], nil
}

// All возвращает копию коллекции в порядке вставки.
func (s *Store) All() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.jobs)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
