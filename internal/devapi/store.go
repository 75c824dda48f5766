package devapi

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"direct-chat/internal/message"
)

var (
	// ErrNotFound is returned when a user or message does not exist, or the
	// message is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEmail is returned when registering an email twice.
	ErrDuplicateEmail = errors.New("email already registered")
)

// Store persists users, messages and attachment metadata.
type Store interface {
	CreateUser(ctx context.Context, u message.User, passwordHash string) (message.User, error)
	UserByEmail(ctx context.Context, email string) (message.User, string, error)
	Users(ctx context.Context, exclude int64) ([]message.User, error)
	CreateMessage(ctx context.Context, m message.Message) (message.Message, error)
	Message(ctx context.Context, id int64) (message.Message, error)
	UpdateMessage(ctx context.Context, id, owner int64, body string) (message.Message, error)
	DeleteMessage(ctx context.Context, id, owner int64) error
	History(ctx context.Context, self, peer int64) ([]message.Message, error)
	Ping(ctx context.Context) error
}

type memUser struct {
	user message.User
	hash string
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    []memUser
	messages map[int64]message.Message
	nextUser int64
	nextMsg  int64
	nextAtt  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[int64]message.Message)}
}

func (s *MemoryStore) CreateUser(_ context.Context, u message.User, passwordHash string) (message.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.user.Email, u.Email) {
			return message.User{}, ErrDuplicateEmail
		}
	}
	s.nextUser++
	u.ID = s.nextUser
	s.users = append(s.users, memUser{user: u, hash: passwordHash})
	return u, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (message.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.user.Email, email) {
			return existing.user, existing.hash, nil
		}
	}
	return message.User{}, "", ErrNotFound
}

func (s *MemoryStore) Users(_ context.Context, exclude int64) ([]message.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.User, 0, len(s.users))
	for _, existing := range s.users {
		if existing.user.ID != exclude {
			out = append(out, existing.user)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateMessage(_ context.Context, m message.Message) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	m.ID = s.nextMsg
	if m.CreatedAt.IsZero() {
		m.CreatedAt = message.At(time.Now().UTC())
	}
	atts := make([]message.Attachment, len(m.Attachments))
	for i, att := range m.Attachments {
		s.nextAtt++
		att.ID = s.nextAtt
		att.MessageID = m.ID
		atts[i] = att
	}
	m.Attachments = atts
	s.messages[m.ID] = m
	return m, nil
}

func (s *MemoryStore) Message(_ context.Context, id int64) (message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return message.Message{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, id, owner int64, body string) (message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.SenderID != owner {
		return message.Message{}, ErrNotFound
	}
	m.Body = body
	s.messages[id] = m
	return m, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id, owner int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.SenderID != owner {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) History(_ context.Context, self, peer int64) ([]message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]message.Message, 0)
	for _, m := range s.messages {
		if m.Between(self, peer) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt.Time) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt.Time)
	})
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
