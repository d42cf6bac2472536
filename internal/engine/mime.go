package engine

import (
	"path/filepath"
	"strings"
)

const defaultMIMEType = "image/jpeg"

var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
}

// InferType подбирает MIME-тип по расширению имени файла.
// Неизвестное расширение — image/jpeg: очередь исторически фотографическая.
func InferType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := mimeTypes[ext]; ok {
		return t
	}
	return defaultMIMEType
}
