// Package gateway абстрагирует фоновый механизм передачи файлов.
//
// Шлюз владеет собственной сессией передач: движок очереди ссылается на нее,
// но никогда не изменяет напрямую. Контракт рассчитан на то, что передачи
// переживают разрывы в доставке событий: итоговые исходы можно перечитать
// через PendingTransfers после переподключения сессии.
package gateway

import "context"

type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event — событие одной передачи. Заполненность полей зависит от вида:
// Progress только у progress, Response у completed, Error у failed.
type Event struct {
	UploadID string
	Progress int
	Response string
	Error    string
}

type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Transfer — состояние одной передачи с точки зрения шлюза.
type Transfer struct {
	UploadID string  `json:"uploadId"`
	Outcome  Outcome `json:"outcome"`
	Response string  `json:"response,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// StartRequest описывает одну передачу: что, куда и под каким именем.
type StartRequest struct {
	URI         string            // локатор исходного файла
	URL         string            // endpoint назначения
	FileName    string            // имя файла в content-disposition
	ContentType string            // тип содержимого части file
	Headers     map[string]string // статические заголовки запроса
}

type Subscription interface {
	Unsubscribe()
}

// Gateway — контракт, потребляемый движком очереди.
//
// ReconnectSession обязателен один раз на время жизни процесса до первого
// PendingTransfers: после холодного старта слушатель событий сессии сам
// по себе не восстанавливается.
type Gateway interface {
	StartTransfer(ctx context.Context, req StartRequest) (string, error)
	PendingTransfers(ctx context.Context) ([]Transfer, error)
	ReconnectSession(ctx context.Context) error
	Subscribe(kind EventKind, uploadID string, fn func(Event)) Subscription
}
