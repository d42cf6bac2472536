package logger

import (
	"log/slog"
	"os"

	"uploadq/internal/config"
)

func SetupDefault(cfg config.Logger) {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	var h slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Plaintext {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
