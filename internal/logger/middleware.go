package logger

import (
	"bufio"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"runtime/debug"
	"time"
)

// HTTPLogging создает middleware для логирования HTTP-запросов.
// Каждому запросу присваивается случайный reqID, логгер с ним кладется в контекст.
func HTTPLogging(log *slog.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := log.With("reqID", rand.Uint64(), "from", r.RemoteAddr, "method", r.Method, "url", r.URL.String())

		sw := &statusWriter{ResponseWriter: w}
		r = r.WithContext(Context(r.Context(), log))
		start := time.Now()

		// Паника в обработчике не должна ронять сервер
		defer func() {
			if p := recover(); p != nil {
				log.Error("*** panic recovered ***",
					"panic", p,
					"stack", debug.Stack())
				http.Error(sw, "internal error", http.StatusInternalServerError)
				return
			}
			log.Debug("request done", "status", sw.Status(), "duration", time.Since(start))
		}()

		h.ServeHTTP(sw, r)
	})
}

// statusWriter запоминает статус ответа для итогового лога.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	if sw.status == 0 {
		sw.status = status
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Status() int {
	if sw.status == 0 {
		return http.StatusOK
	}
	return sw.status
}

// Hijack передает соединение обработчику. Websocket-апгрейд приводит
// ResponseWriter к http.Hijacker напрямую, обертке нельзя его прятать.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}
