package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"uploadq/internal/logger"
	"uploadq/internal/model"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API локальный, представление подключается с произвольного origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub раздает изменения записей всем подключенным websocket-клиентам.
// Подписывается на движок очереди через Engine.Subscribe(hub.Publish).
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	updates chan model.Job
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		updates: make(chan model.Job, 64),
	}
}

type jobUpdate struct {
	Type string    `json:"type"`
	Job  model.Job `json:"job"`
}

// Run запускает цикл рассылки. Вызывается один раз.
func (h *Hub) Run() {
	go func() {
		for job := range h.updates {
			raw, err := json.Marshal(jobUpdate{Type: "job_update", Job: job})
			if err != nil {
				slog.Error("marshal job update failed", "error", err)
				continue
			}
			h.broadcast(raw)
		}
	}()
}

// Publish ставит изменение в очередь рассылки. Не блокирует: при
// переполненном буфере обновление отбрасывается, клиент дочитает
// актуальное состояние из GET /jobs.
func (h *Hub) Publish(job model.Job) {
	select {
	case h.updates <- job:
	default:
	}
}

func (h *Hub) broadcast(raw []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		delete(h.clients, conn)
		conn.Close()
	}
}

// ServeWS апгрейдит соединение и держит его до закрытия клиентом.
// Входящие сообщения не ожидаются и игнорируются.
func ServeWS(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", "error", err)
			return
		}
		hub.register(conn)

		go func() {
			defer hub.unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
