// Тестовый сервер приема файлов. Принимает multipart POST на /api/upload,
// складывает файлы в каталог uploads и отвечает JSON с file_id и file_url.
// Нужен для ручной проверки очереди без настоящего бэкенда.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	serverPort  = ":8090"
	uploadsDir  = "uploads"
	maxFileSize = 100 << 20 // 100 MB
)

var failEvery = flag.Int("fail", 0, "Fail every Nth upload with HTTP 500 (0 = never).")

var uploadCount atomic.Int64

func main() {
	flag.Parse()

	if err := os.MkdirAll(uploadsDir, 0755); err != nil {
		log.Fatal("create uploads directory failed:", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload", handleUpload)
	mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(uploadsDir))))

	log.Println("upload server on", serverPort)
	log.Fatal(http.ListenAndServe(serverPort, mux))
}

func handleUpload(w http.ResponseWriter, r *http.Request) {
	n := uploadCount.Add(1)
	if *failEvery > 0 && n%int64(*failEvery) == 0 {
		log.Printf("[%d] injected failure", n)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "injected failure",
		})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFileSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "multipart part 'file' is required",
		})
		return
	}
	defer file.Close()

	fileID := uuid.NewString()
	ext := filepath.Ext(header.Filename)

	dst, err := os.Create(filepath.Join(uploadsDir, fileID+ext))
	if err != nil {
		log.Printf("[%d] create file failed: %v", n, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "cannot store file",
		})
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, file)
	if err != nil {
		log.Printf("[%d] store file failed: %v", n, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "cannot store file",
		})
		return
	}

	log.Printf("[%d] stored %s as %s (%d bytes, %s)",
		n, header.Filename, fileID+ext, size, header.Header.Get("Content-Type"))

	writeJSON(w, http.StatusOK, map[string]string{
		"file_id":  fileID,
		"file_url": fmt.Sprintf("http://localhost%s/files/%s", serverPort, fileID+ext),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
