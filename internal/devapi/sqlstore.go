package devapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"direct-chat/internal/message"
)

const uniqueViolation = "23505"

// SQLStore persists to PostgreSQL through database/sql (pgx driver).
type SQLStore struct {
	DB *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{DB: db}
}

// RunMigrations creates the tables used by the store.
func RunMigrations(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			receiver_id BIGINT NOT NULL REFERENCES users(id),
			message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id BIGSERIAL PRIMARY KEY,
			message_id BIGINT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			filename TEXT NOT NULL,
			file_path TEXT NOT NULL,
			mimetype TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (user_id, receiver_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u message.User, passwordHash string) (message.User, error) {
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, first_name, last_name, password_hash) VALUES ($1, $2, $3, $4) RETURNING id`,
		u.Email, u.FirstName, u.LastName, passwordHash,
	).Scan(&u.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return message.User{}, ErrDuplicateEmail
		}
		return message.User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) UserByEmail(ctx context.Context, email string) (message.User, string, error) {
	var (
		u    message.User
		hash string
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, first_name, last_name, password_hash FROM users WHERE lower(email)=lower($1)`, email,
	).Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return message.User{}, "", ErrNotFound
	}
	if err != nil {
		return message.User{}, "", fmt.Errorf("select user: %w", err)
	}
	return u, hash, nil
}

func (s *SQLStore) Users(ctx context.Context, exclude int64) ([]message.User, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, email, first_name, last_name FROM users WHERE id <> $1 ORDER BY id`, exclude)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()
	users := make([]message.User, 0)
	for rows.Next() {
		var u message.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLStore) CreateMessage(ctx context.Context, m message.Message) (message.Message, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return message.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var created time.Time
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (user_id, receiver_id, message) VALUES ($1, $2, $3) RETURNING id, created_at`,
		m.SenderID, m.ReceiverID, m.Body,
	).Scan(&m.ID, &created)
	if err != nil {
		return message.Message{}, fmt.Errorf("insert message: %w", err)
	}
	m.CreatedAt = message.At(created.UTC())

	atts := make([]message.Attachment, len(m.Attachments))
	for i, att := range m.Attachments {
		att.MessageID = m.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO attachments (message_id, filename, file_path, mimetype, size) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			att.MessageID, att.Filename, att.Path, att.Mimetype, att.Size,
		).Scan(&att.ID)
		if err != nil {
			return message.Message{}, fmt.Errorf("insert attachment: %w", err)
		}
		atts[i] = att
	}
	m.Attachments = atts
	if err := tx.Commit(); err != nil {
		return message.Message{}, fmt.Errorf("commit: %w", err)
	}
	return m, nil
}

func (s *SQLStore) Message(ctx context.Context, id int64) (message.Message, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, user_id, receiver_id, COALESCE(message, ''), created_at FROM messages WHERE id=$1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return message.Message{}, err
	}
	return s.withAttachments(ctx, m)
}

func (s *SQLStore) UpdateMessage(ctx context.Context, id, owner int64, body string) (message.Message, error) {
	row := s.DB.QueryRowContext(ctx,
		`UPDATE messages SET message=$1 WHERE id=$2 AND user_id=$3
		 RETURNING id, user_id, receiver_id, COALESCE(message, ''), created_at`, body, id, owner)
	m, err := scanMessage(row)
	if err != nil {
		return message.Message{}, err
	}
	return s.withAttachments(ctx, m)
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id, owner int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND user_id=$2`, id, owner)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) History(ctx context.Context, self, peer int64) ([]message.Message, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, receiver_id, COALESCE(message, ''), created_at
		FROM messages
		WHERE (user_id=$1 AND receiver_id=$2) OR (user_id=$2 AND receiver_id=$1)
		ORDER BY created_at ASC, id ASC
	`, self, peer)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer rows.Close()
	history := make([]message.Message, 0)
	index := map[int64]int{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		index[m.ID] = len(history)
		history = append(history, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return history, nil
	}

	attRows, err := s.DB.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.filename, a.file_path, a.mimetype, a.size
		FROM attachments a JOIN messages m ON m.id = a.message_id
		WHERE (m.user_id=$1 AND m.receiver_id=$2) OR (m.user_id=$2 AND m.receiver_id=$1)
		ORDER BY a.id
	`, self, peer)
	if err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}
	defer attRows.Close()
	for attRows.Next() {
		att, err := scanAttachment(attRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[att.MessageID]; ok {
			history[i].Attachments = append(history[i].Attachments, att)
		}
	}
	return history, attRows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SQLStore) withAttachments(ctx context.Context, m message.Message) (message.Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, message_id, filename, file_path, mimetype, size FROM attachments WHERE message_id=$1 ORDER BY id`, m.ID)
	if err != nil {
		return message.Message{}, fmt.Errorf("select attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return message.Message{}, err
		}
		m.Attachments = append(m.Attachments, att)
	}
	return m, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (message.Message, error) {
	var (
		m       message.Message
		created time.Time
	)
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Body, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return message.Message{}, ErrNotFound
	}
	if err != nil {
		return message.Message{}, fmt.Errorf("scan message: %w", err)
	}
	m.CreatedAt = message.At(created.UTC())
	return m, nil
}

func scanAttachment(row scanner) (message.Attachment, error) {
	var att message.Attachment
	if err := row.Scan(&att.ID, &att.MessageID, &att.Filename, &att.Path, &att.Mimetype, &att.Size); err != nil {
		return message.Attachment{}, fmt.Errorf("scan attachment: %w", err)
	}
	return att, nil
}
