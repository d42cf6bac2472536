package config

import (
	"log/slog"
	"runtime"
	"time"
)

type Logger struct {
	Level     slog.Level
	Plaintext bool
}

type Server struct {
	Addr string
}

type Storage struct {
	Path string // файл базы sqlite
}

type Gateway struct {
	RequestTimeout time.Duration // общий таймаут одной передачи
	Disabled       bool          // эмуляция платформы без фонового механизма передачи
}

type Upload struct {
	URL      string // endpoint приема файлов
	Platform string // значение заголовка X-Platform
}

type Config struct {
	Logger  Logger
	Server  Server
	Storage Storage
	Gateway Gateway
	Upload  Upload
}

func Load() (Config, error) {
	var ge getenv
	cfg := Config{
		Logger: Logger{
			Level:     ge.LogLevel("LOG_LEVEL", false, slog.LevelInfo),
			Plaintext: ge.Bool("LOG_PLAINTEXT", false, false),
		},
		Server: Server{
			Addr: ge.String("SERVER_ADDR", false, ":8080"),
		},
		Storage: Storage{
			Path: ge.String("STORAGE_PATH", false, "uploadq.db"),
		},
		Gateway: Gateway{
			RequestTimeout: ge.Duration("GATEWAY_TIMEOUT", false, 5*time.Minute),
			Disabled:       ge.Bool("GATEWAY_DISABLED", false, false),
		},
		Upload: Upload{
			URL:      ge.String("UPLOAD_URL", true, ""),
			Platform: ge.String("UPLOAD_PLATFORM", false, runtime.GOOS),
		},
	}
	return cfg, ge.Err()
}
