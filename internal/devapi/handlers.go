package devapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/mail"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"direct-chat/internal/authutil"
	"direct-chat/internal/message"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

type registerRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type fieldError struct {
	Loc []string `json:"loc"`
	Msg string   `json:"msg"`
}

type healthPayload struct {
	Status    string `json:"status"`
	DBEnabled bool   `json:"dbEnabled"`
	Message   string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail any) {
	writeJSON(w, status, map[string]any{"detail": detail})
}

func (s *Server) writeHealthJSON(w http.ResponseWriter, status int, dbEnabled bool, msg string) {
	state := "ok"
	if status >= 400 {
		state = "error"
	}
	writeJSON(w, status, healthPayload{Status: state, DBEnabled: dbEnabled, Message: msg})
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.HealthChecks.Add(1)
		_, persistent := s.store.(*SQLStore)
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("health ping failed")
			s.writeHealthJSON(w, http.StatusServiceUnavailable, persistent, err.Error())
			return
		}
		s.writeHealthJSON(w, http.StatusOK, persistent, "ok")
	}
}

func (s *Server) loginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.LoginAttempts.Add(1)
		if !s.limiter.Allow(clientHost(r)) {
			s.metrics.LoginThrottled.Add(1)
			writeDetail(w, http.StatusTooManyRequests, "Too many login attempts")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid form")
			return
		}
		email := strings.TrimSpace(r.PostForm.Get("username"))
		password := r.PostForm.Get("password")
		user, hash, err := s.store.UserByEmail(r.Context(), email)
		if err == nil {
			err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
		}
		if err != nil {
			if !errors.Is(err, ErrNotFound) && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				s.log.Error().Err(err).Msg("login lookup")
			}
			s.metrics.LoginFailures.Add(1)
			writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}
		access, err := authutil.IssueToken(user.ID, authutil.KindAccess, accessTTL)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "token error")
			return
		}
		refresh, err := authutil.IssueToken(user.ID, authutil.KindRefresh, refreshTTL)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "token error")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"})
	}
}

func (s *Server) refreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := authutil.ValidateToken(parseTokenFromHeader(r.Header.Get("Authorization")), authutil.KindRefresh)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		access, err := authutil.IssueToken(userID, authutil.KindAccess, accessTTL)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "token error")
			return
		}
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, TokenType: "bearer"})
	}
}

func (s *Server) registerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.metrics.RegisterAttempts.Add(1)
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid payload")
			return
		}
		req.Email = strings.TrimSpace(req.Email)
		if errs := validateRegistration(req); len(errs) > 0 {
			writeDetail(w, http.StatusUnprocessableEntity, errs)
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, "hash error")
			return
		}
		user, err := s.store.CreateUser(r.Context(), message.User{
			Email:     req.Email,
			FirstName: strings.TrimSpace(req.FirstName),
			LastName:  strings.TrimSpace(req.LastName),
		}, string(hash))
		if errors.Is(err, ErrDuplicateEmail) {
			writeDetail(w, http.StatusBadRequest, "Email already registered")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("register")
			writeDetail(w, http.StatusInternalServerError, "store failed")
			return
		}
		writeJSON(w, http.StatusCreated, user)
	}
}

func validateRegistration(req registerRequest) []fieldError {
	var errs []fieldError
	add := func(field, msg string) {
		errs = append(errs, fieldError{Loc: []string{"body", field}, Msg: msg})
	}
	if utf8.RuneCountInString(req.FirstName) > 50 {
		add("first_name", "ensure this value has at most 50 characters")
	}
	if utf8.RuneCountInString(req.LastName) > 50 {
		add("last_name", "ensure this value has at most 50 characters")
	}
	if _, err := mail.ParseAddress(req.Email); err != nil || !strings.Contains(req.Email, "@") {
		add("email", "value is not a valid email address")
	}
	if len(req.Password) < 8 {
		add("password", "ensure this value has at least 8 characters")
	}
	return errs
}

func (s *Server) usersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := s.store.Users(r.Context(), userFrom(r.Context()))
		if err != nil {
			s.log.Error().Err(err).Msg("list users")
			writeDetail(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func (s *Server) historyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, ok := pathID(w, r)
		if !ok {
			return
		}
		history, err := s.store.History(r.Context(), userFrom(r.Context()), peer)
		if err != nil {
			s.log.Error().Err(err).Msg("history")
			writeDetail(w, http.StatusInternalServerError, "query failed")
			return
		}
		writeJSON(w, http.StatusOK, history)
	}
}

func (s *Server) createMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid multipart form")
			return
		}
		defer r.MultipartForm.RemoveAll()

		body := r.FormValue("message")
		if utf8.RuneCountInString(body) > maxBodyRunes {
			writeDetail(w, http.StatusUnprocessableEntity, []fieldError{{Loc: []string{"body", "message"}, Msg: "ensure this value has at most 500 characters"}})
			return
		}
		receiver, err := strconv.ParseInt(r.FormValue("receiver_id"), 10, 64)
		if err != nil || receiver <= 0 {
			writeDetail(w, http.StatusUnprocessableEntity, []fieldError{{Loc: []string{"body", "receiver_id"}, Msg: "value is not a valid integer"}})
			return
		}

		var atts []message.Attachment
		for _, fh := range r.MultipartForm.File["files"] {
			att, err := s.saveUpload(user, fh)
			if err != nil {
				for _, done := range atts {
					_ = os.Remove(s.diskPath(done.Path))
				}
				writeDetail(w, http.StatusBadRequest, err.Error())
				return
			}
			atts = append(atts, att)
		}

		msg, err := s.store.CreateMessage(r.Context(), message.Message{
			SenderID:    user,
			ReceiverID:  receiver,
			Body:        body,
			Attachments: atts,
		})
		if err != nil {
			s.log.Error().Err(err).Msg("create message")
			writeDetail(w, http.StatusInternalServerError, "store failed")
			return
		}
		s.metrics.MessagesCreated.Add(1)
		s.hub.Send(msg, msg.ReceiverID, msg.SenderID)
		writeJSON(w, http.StatusOK, msg)
	}
}

// saveUpload writes one file under <upload dir>/<user>/<uuid><ext>.
func (s *Server) saveUpload(user int64, fh *multipart.FileHeader) (message.Attachment, error) {
	if fh.Size > maxUploadSize {
		return message.Attachment{}, fmt.Errorf("File %s exceeds maximum size of 5 MB", fh.Filename)
	}
	src, err := fh.Open()
	if err != nil {
		return message.Attachment{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	defer src.Close()

	original := sanitizeUploadName(fh.Filename)
	rel := path.Join("uploads", strconv.FormatInt(user, 10), uuid.NewString()+filepath.Ext(original))
	dst := s.diskPath(rel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return message.Attachment{}, err
	}
	out, err := os.Create(dst)
	if err != nil {
		return message.Attachment{}, err
	}
	size, err := io.Copy(out, io.LimitReader(src, maxUploadSize+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && size > maxUploadSize {
		err = fmt.Errorf("File %s exceeds maximum size of 5 MB", fh.Filename)
	}
	if err != nil {
		_ = os.Remove(dst)
		return message.Attachment{}, err
	}
	s.metrics.Uploads.Add(1)
	mime := fh.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	return message.Attachment{Filename: original, Path: rel, Mimetype: mime, Size: size}, nil
}

// diskPath maps an "uploads/..." attachment path into the upload dir.
func (s *Server) diskPath(rel string) string {
	return filepath.Join(s.uploadDir, filepath.FromSlash(strings.TrimPrefix(rel, "uploads/")))
}

func sanitizeUploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r > 127 && utf8.ValidRune(r):
			b.WriteRune(r)
		}
	}
	out := strings.TrimRight(b.String(), " ")
	if out == "" || out == "." || out == ".." {
		return "file"
	}
	return out
}

func (s *Server) updateMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req struct {
			Message *string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "invalid payload")
			return
		}
		user := userFrom(r.Context())
		var (
			msg message.Message
			err error
		)
		if req.Message == nil {
			msg, err = s.store.Message(r.Context(), id)
			if err == nil && msg.SenderID != user {
				err = ErrNotFound
			}
		} else {
			if utf8.RuneCountInString(*req.Message) > maxBodyRunes {
				writeDetail(w, http.StatusUnprocessableEntity, []fieldError{{Loc: []string{"body", "message"}, Msg: "ensure this value has at most 500 characters"}})
				return
			}
			msg, err = s.store.UpdateMessage(r.Context(), id, user, *req.Message)
		}
		if errors.Is(err, ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Message not found")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("update message")
			writeDetail(w, http.StatusInternalServerError, "store failed")
			return
		}
		s.metrics.MessagesEdited.Add(1)
		writeJSON(w, http.StatusOK, msg)
	}
}

func (s *Server) deleteMessageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		err := s.store.DeleteMessage(r.Context(), id, userFrom(r.Context()))
		if errors.Is(err, ErrNotFound) {
			writeDetail(w, http.StatusNotFound, "Message not found")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("delete message")
			writeDetail(w, http.StatusInternalServerError, "store failed")
			return
		}
		s.metrics.MessagesDeleted.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "message_id": id})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid id")
		return 0, false
	}
	return id, true
}
