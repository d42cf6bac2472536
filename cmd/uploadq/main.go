package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"uploadq/internal/engine"
	"uploadq/internal/model"
)

var (
	addr     = flag.String("a", "http://localhost:8080", "Server address.")
	name     = flag.String("n", "", "Display name for the enqueued file (single file only).")
	mimeType = flag.String("t", "", "Explicit MIME type for the enqueued file.")
	retryID  = flag.String("r", "", "Retry the failed job with this id.")
	list     = flag.Bool("l", false, "List jobs, most recent first.")
	watch    = flag.Bool("w", false, "Watch live job updates.")
	verbose  = flag.Bool("v", false, "Enable debug logging.")
)

func main() {
	flag.Parse()
	setupLogger()

	switch {
	case *retryID != "":
		retryJob(*retryID)
	case *list:
		listJobs()
	case *watch:
		watchJobs()
	default:
		files := flag.Args()
		if len(files) == 0 {
			fmt.Fprintln(os.Stderr, "files required")
			flag.PrintDefaults()
			os.Exit(1)
		}
		if *name != "" && len(files) > 1 {
			log.Fatal("-n is allowed with a single file only")
		}
		for _, f := range files {
			enqueueFile(f)
		}
	}
}

type jobResponse struct {
	Job model.Job `json:"job"`
}

type listJobsResponse struct {
	Jobs   []model.Job   `json:"jobs"`
	Counts engine.Counts `json:"counts"`
}

func enqueueFile(file string) {
	abs, err := filepath.Abs(file)
	if err != nil {
		log.Fatalf("resolve path failed: %v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		log.Fatalf("cannot read file: %v", err)
	}

	req := map[string]string{"uri": abs}
	if *name != "" {
		req["fileName"] = *name
	} else {
		req["fileName"] = filepath.Base(abs)
	}
	if *mimeType != "" {
		req["type"] = *mimeType
	}

	var resp jobResponse
	postJSON("/api/jobs", req, &resp)
	printJob(resp.Job)
}

func retryJob(id string) {
	var resp jobResponse
	postJSON("/api/jobs/"+id+"/retry", nil, &resp)
	printJob(resp.Job)
}

func listJobs() {
	httpResp, err := http.Get(*addr + "/api/jobs")
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		fatalHTTP(httpResp)
	}

	var resp listJobsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		log.Fatalf("decode response failed: %v", err)
	}

	fmt.Printf("queued=%d uploading=%d", resp.Counts.Queued, resp.Counts.Uploading)
	if resp.Counts.Progress != nil {
		fmt.Printf(" progress=%d%%", *resp.Counts.Progress)
	}
	fmt.Println()

	for _, job := range resp.Jobs {
		printJob(job)
	}
}

// watchJobs печатает изменения записей по мере их поступления с сервера.
func watchJobs() {
	wsURL := strings.Replace(*addr, "http", "ws", 1) + "/api/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		log.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()

	slog.Debug("connected", "url", wsURL)

	for {
		var update struct {
			Type string    `json:"type"`
			Job  model.Job `json:"job"`
		}
		if err := conn.ReadJSON(&update); err != nil {
			log.Fatalf("connection lost: %v", err)
		}
		printJob(update.Job)
	}
}

func printJob(job model.Job) {
	line := fmt.Sprintf("%s\t%-9s\t%s", job.ID, job.Status, job.Label())
	if job.Progress != nil {
		line += fmt.Sprintf("\t%d%%", *job.Progress)
	}
	if job.Error != "" {
		line += "\t" + job.Error
	}
	if job.FileURL != "" {
		line += "\t" + job.FileURL
	}
	fmt.Println(line)
}

func postJSON(path string, req any, resp any) {
	var body io.Reader
	if req != nil {
		raw, err := json.Marshal(req)
		if err != nil {
			log.Fatalf("marshal request failed: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	httpResp, err := http.Post(*addr+path, "application/json", body)
	if err != nil {
		log.Fatalf("request failed: %v", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
		fatalHTTP(httpResp)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		log.Fatalf("decode response failed: %v", err)
	}
}

func fatalHTTP(resp *http.Response) {
	msg, _ := io.ReadAll(resp.Body)
	log.Fatalf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

func setupLogger() {
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(
		os.Stderr,
		&slog.HandlerOptions{Level: level},
	)))
}
