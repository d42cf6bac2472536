package engine

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		fileName string
		want     string
	}{
		{"a.png", "image/png"},
		{"photo.jpg", "image/jpeg"},
		{"photo.jpeg", "image/jpeg"},
		{"anim.gif", "image/gif"},
		{"pic.webp", "image/webp"},
		{"doc.pdf", "application/pdf"},
		{"PHOTO.PNG", "image/png"}, // регистр расширения не важен
		{"archive.zip", "image/jpeg"},
		{"noext", "image/jpeg"},
		{"", "image/jpeg"},
		{"weird.name.png", "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.fileName, func(t *testing.T) {
			be.Equal(t, InferType(tt.fileName), tt.want)
		})
	}
}
