package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const downloadsBucket = "downloads"

// DownloadRecord describes an attachment fetched to local disk.
type DownloadRecord struct {
	ID        string    `json:"id"`
	MessageID int64     `json:"message_id"`
	Filename  string    `json:"filename"`
	Source    string    `json:"source"`
	Size      int64     `json:"size"`
	Mime      string    `json:"mime,omitempty"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// DownloadStore writes attachment content under dir and indexes it in BoltDB.
type DownloadStore struct {
	db  *bbolt.DB
	dir string
}

func OpenDownloadStore(dbPath, dir string) (*DownloadStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(downloadsBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DownloadStore{db: db, dir: dir}, nil
}

func (s *DownloadStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save copies src to disk and records where it came from.
func (s *DownloadStore) Save(messageID int64, filename, source string, src io.Reader) (DownloadRecord, error) {
	if s == nil || s.db == nil {
		return DownloadRecord{}, fmt.Errorf("download store not initialized")
	}
	cleaned := sanitizeFileName(filename)
	if cleaned == "" {
		cleaned = "attachment.bin"
	}
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+"-"+cleaned)
	dst, err := os.Create(path)
	if err != nil {
		return DownloadRecord{}, err
	}
	size, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return DownloadRecord{}, err
	}
	rec := DownloadRecord{
		ID:        id,
		MessageID: messageID,
		Filename:  cleaned,
		Source:    source,
		Size:      size,
		Mime:      detectMime(path),
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return DownloadRecord{}, err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(downloadsBucket)).Put([]byte(rec.ID), data)
	})
	if err != nil {
		return DownloadRecord{}, err
	}
	return rec, nil
}

// List returns the newest records first.
func (s *DownloadStore) List(limit int) ([]DownloadRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records := make([]DownloadRecord, 0, limit)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(downloadsBucket))
		if bucket == nil {
			return nil
		}
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			var rec DownloadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *DownloadStore) Get(id string) (DownloadRecord, error) {
	if s == nil || s.db == nil {
		return DownloadRecord{}, fmt.Errorf("download store not initialized")
	}
	var rec DownloadRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(downloadsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("download %s not found", id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

func sanitizeFileName(name string) string {
	cleaned := filepath.Base(name)
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "." {
		return ""
	}
	if cleaned == "/" || cleaned == "\\" || cleaned == string(filepath.Separator) {
		return ""
	}
	return cleaned
}

func detectMime(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}
