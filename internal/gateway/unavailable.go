package gateway

import (
	"context"
	"fmt"
	"runtime"
)

// Unavailable — заглушка для платформ без фонового механизма передачи.
// Каждая попытка старта синхронно завершается описательной ошибкой;
// движок очереди превращает ее в постоянный Failed для конкретной задачи.
type Unavailable struct{}

func (Unavailable) StartTransfer(ctx context.Context, req StartRequest) (string, error) {
	return "", fmt.Errorf("background transfer is not available on %s", runtime.GOOS)
}

func (Unavailable) PendingTransfers(ctx context.Context) ([]Transfer, error) {
	return nil, nil
}

func (Unavailable) ReconnectSession(ctx context.Context) error {
	return nil
}

func (Unavailable) Subscribe(kind EventKind, uploadID string, fn func(Event)) Subscription {
	return noopSubscription{}
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}
