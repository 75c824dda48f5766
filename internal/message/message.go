package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Message is a single direct message as exchanged with the chat API.
type Message struct {
	ID          int64        `json:"id"`
	SenderID    int64        `json:"user_id"`
	ReceiverID  int64        `json:"receiver_id"`
	Body        string       `json:"message"`
	CreatedAt   Timestamp    `json:"created_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a stored file referenced by a message. Path is
// relative to the API base location.
type Attachment struct {
	ID        int64  `json:"id,omitempty"`
	MessageID int64  `json:"message_id,omitempty"`
	Filename  string `json:"filename"`
	Path      string `json:"file_path"`
	Mimetype  string `json:"mimetype,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

// User is an identity listed by the directory endpoint.
type User struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayName prefers the full name, then the email, then the numeric id.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.Email != "" {
		return u.Email
	}
	return "#" + strconv.FormatInt(u.ID, 10)
}

// Between reports whether the message belongs to the conversation of a and b,
// in either direction.
func (m Message) Between(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Routable reports whether the message carries both endpoints.
func (m Message) Routable() bool {
	return m.SenderID != 0 && m.ReceiverID != 0
}

// URL resolves the attachment against the API base location.
func (a Attachment) URL(base string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(a.Path, "/")
}

// Timestamp decodes both RFC 3339 values and the naive ISO 8601 form
// emitted by Python's isoformat (no zone, interpreted as UTC).
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", raw)
}
