package storage

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const cookiesBucket = "cookies"

// cookieRecord is the persisted form of a cookie; only the attributes a
// client-side jar needs are kept.
type cookieRecord struct {
	Name     string        `json:"name"`
	Value    string        `json:"value"`
	Expires  time.Time     `json:"expires"`
	SameSite http.SameSite `json:"same_site"`
	Secure   bool          `json:"secure"`
}

// CookieJar keeps named cookies with fixed expirations, either in BoltDB or
// in memory when no path is configured. Expired cookies read as absent.
type CookieJar struct {
	db   *bbolt.DB
	now  func() time.Time
	seal Sealer

	mu  sync.Mutex
	mem map[string]cookieRecord
}

// OpenCookieJar opens (or creates) a BoltDB-backed jar at path.
func OpenCookieJar(path string) (*CookieJar, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(cookiesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &CookieJar{db: db, now: time.Now}, nil
}

// NewMemoryCookieJar returns a jar that lives only as long as the process.
func NewMemoryCookieJar() *CookieJar {
	return &CookieJar{now: time.Now, mem: make(map[string]cookieRecord)}
}

// Sealer encrypts persisted cookie records. The record name is bound to the
// sealed value.
type Sealer interface {
	Seal(name string, plaintext []byte) ([]byte, error)
	Open(name string, payload []byte) ([]byte, error)
}

var errUnreadable = errors.New("cookie record unreadable")

// UseSealer encrypts records written from now on; records that cannot be
// opened read as absent and are dropped.
func (j *CookieJar) UseSealer(s Sealer) {
	j.seal = s
}

// SetClock overrides the time source used for expiry checks.
func (j *CookieJar) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

func (j *CookieJar) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Set stores c, replacing any cookie of the same name.
func (j *CookieJar) Set(c *http.Cookie) error {
	rec := cookieRecord{
		Name:     c.Name,
		Value:    c.Value,
		Expires:  c.Expires.UTC(),
		SameSite: c.SameSite,
		Secure:   c.Secure,
	}
	if j.db == nil {
		j.mu.Lock()
		j.mem[c.Name] = rec
		j.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if j.seal != nil {
		if data, err = j.seal.Seal(c.Name, data); err != nil {
			return err
		}
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cookiesBucket)).Put([]byte(c.Name), data)
	})
}

// Get returns the named cookie, or nil when it is missing or expired.
func (j *CookieJar) Get(name string) (*http.Cookie, error) {
	rec, ok, err := j.load(name)
	if errors.Is(err, errUnreadable) {
		return nil, j.Remove(name)
	}
	if err != nil || !ok {
		return nil, err
	}
	if !rec.Expires.IsZero() && !j.now().Before(rec.Expires) {
		if err := j.Remove(name); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &http.Cookie{
		Name:     rec.Name,
		Value:    rec.Value,
		Expires:  rec.Expires,
		SameSite: rec.SameSite,
		Secure:   rec.Secure,
	}, nil
}

// Remove deletes the named cookie; removing a missing cookie is not an error.
func (j *CookieJar) Remove(name string) error {
	if j.db == nil {
		j.mu.Lock()
		delete(j.mem, name)
		j.mu.Unlock()
		return nil
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cookiesBucket)).Delete([]byte(name))
	})
}

func (j *CookieJar) load(name string) (cookieRecord, bool, error) {
	if j.db == nil {
		j.mu.Lock()
		defer j.mu.Unlock()
		rec, ok := j.mem[name]
		return rec, ok, nil
	}
	var (
		rec   cookieRecord
		found bool
	)
	err := j.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(cookiesBucket)).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		if j.seal != nil {
			plain, err := j.seal.Open(name, data)
			if err != nil {
				return errUnreadable
			}
			data = plain
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return errUnreadable
		}
		return nil
	})
	return rec, found, err
}
