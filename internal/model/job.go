package model

import (
	"encoding/json"
	"time"
)

// Status — состояние жизненного цикла задачи загрузки.
//
// Допустимые переходы: Queued -> Uploading -> {Success, Failed},
// Failed -> Queued (повторная попытка). Success — окончательное состояние.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusUploading Status = "Uploading"
	StatusSuccess   Status = "Success"
	StatusFailed    Status = "Failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusUploading, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Terminal сообщает, является ли состояние окончательным.
// Failed формально окончательное, но может быть сброшено явным retry.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Job представляет одну задачу загрузки файла и единицу персистентности.
//
// Гарантируется, что ID уникален в пределах всей коллекции и не меняется.
// UploadID присваивается шлюзом после фактического старта передачи,
// до старта пустой. Progress определён только в статусе Uploading.
type Job struct {
	ID        string    // ключ персистентности и UI
	URI       string    // локатор исходного файла
	FileName  string    // отображаемое имя, может быть пустым
	Type      string    // MIME-тип, если не задан — выводится из расширения
	Status    Status    //
	Timestamp time.Time // момент постановки в очередь
	Error     string    // причина неудачи, только в Failed
	UploadID  string    // идентификатор передачи, ключ реконсиляции
	FileID    string    // из ответа сервера
	FileURL   string    // из ответа сервера
	Progress  *int      // проценты 0..100, только в Uploading
}

// Label возвращает отображаемое имя файла.
// Если имя не задано, строится из идентификатора задачи.
func (j Job) Label() string {
	if j.FileName != "" {
		return j.FileName
	}
	id := j.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "photo_" + id + ".jpg"
}

// jobJSON — сохраняемое представление задачи. Формат зафиксирован:
// одна запись снапшота очереди, timestamp в миллисекундах unix.
type jobJSON struct {
	ID        string `json:"id"`
	URI       string `json:"uri"`
	FileName  string `json:"fileName,omitempty"`
	Type      string `json:"type,omitempty"`
	Status    Status `json:"status"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
	UploadID  string `json:"uploadId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
	FileURL   string `json:"fileUrl,omitempty"`
	Progress  *int   `json:"progress,omitempty"`
}

func (j Job) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobJSON{
		ID:        j.ID,
		URI:       j.URI,
		FileName:  j.FileName,
		Type:      j.Type,
		Status:    j.Status,
		Timestamp: j.Timestamp.UnixMilli(),
		Error:     j.Error,
		UploadID:  j.UploadID,
		FileID:    j.FileID,
		FileURL:   j.FileURL,
		Progress:  j.Progress,
	})
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var raw jobJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*j = Job{
		ID:        raw.ID,
		URI:       raw.URI,
		FileName:  raw.FileName,
		Type:      raw.Type,
		Status:    raw.Status,
		Timestamp: time.UnixMilli(raw.Timestamp),
		Error:     raw.Error,
		UploadID:  raw.UploadID,
		FileID:    raw.FileID,
		FileURL:   raw.FileURL,
		Progress:  raw.Progress,
	}
	return nil
}
