package gateway

import "sync"

type subKey struct {
	kind     EventKind
	uploadID string
}

// emitter доставляет события передач подписчикам по паре (вид, uploadId).
type emitter struct {
	mu   sync.Mutex
	subs map[subKey]map[int]func(Event)
	next int
}

func newEmitter() *emitter {
	return &emitter{
		subs: make(map[subKey]map[int]func(Event)),
	}
}

func (e *emitter) subscribe(kind EventKind, uploadID string, fn func(Event)) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := subKey{kind: kind, uploadID: uploadID}
	if e.subs[key] == nil {
		e.subs[key] = make(map[int]func(Event))
	}
	e.next++
	id := e.next
	e.subs[key][id] = fn

	return &subscription{emitter: e, key: key, id: id}
}

// emit вызывает подписчиков без удержания мьютекса: колбэки берут свои
// блокировки и могут отписываться прямо из обработчика.
func (e *emitter) emit(kind EventKind, ev Event) {
	key := subKey{kind: kind, uploadID: ev.UploadID}

	e.mu.Lock()
	fns := make([]func(Event), 0, len(e.subs[key]))
	for _, fn := range e.subs[key] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

type subscription struct {
	emitter *emitter
	key     subKey
	id      int
}

func (s *subscription) Unsubscribe() {
	s.emitter.mu.Lock()
	defer s.emitter.mu.Unlock()

	delete(s.emitter.subs[s.key], s.id)
	if len(s.emitter.subs[s.key]) == 0 {
		delete(s.emitter.subs, s.key)
	}
}
