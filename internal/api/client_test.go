package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"direct-chat/internal/chaterr"
	"direct-chat/internal/message"
)

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

func TestLoginSendsFormAndDecodesTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/login", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "a@b.io", r.PostForm.Get("username"))
		assert.Equal(t, "Secret1!", r.PostForm.Get("password"))
		_ = json.NewEncoder(w).Encode(TokenPair{AccessToken: "acc", RefreshToken: "ref", TokenType: "bearer"})
	}))
	defer srv.Close()

	pair, err := New(srv.URL).Login(context.Background(), "a@b.io", "Secret1!")
	require.NoError(t, err)
	assert.Equal(t, "acc", pair.AccessToken)
	assert.Equal(t, "ref", pair.RefreshToken)
}

func TestLoginUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Incorrect email or password"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Login(context.Background(), "a@b.io", "wrong")
	var authErr *chaterr.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, "Incorrect email or password", chaterr.UserMessage(err))
}

func TestLoginServerErrorIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Login(context.Background(), "a@b.io", "pw")
	var fe *chaterr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
	assert.Equal(t, "Something went wrong. Try again.", chaterr.UserMessage(err))
}

func TestAuthorizedCallsCarryBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/chat/messages/42", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"user_id":42,"receiver_id":7,"message":"hi","created_at":"2024-05-01T10:00:00.123456","attachments":[]}]`))
	}))
	defer srv.Close()

	client := New(srv.URL).WithTokens(staticToken("tok"))
	msgs, err := client.History(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Body)
	assert.Equal(t, 2024, msgs[0].CreatedAt.Year())
}

func TestSendUsesMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("message"))
		assert.Equal(t, "42", r.FormValue("receiver_id"))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 1)
		assert.Equal(t, "note.txt", files[0].Filename)
		f, err := files[0].Open()
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "contents", string(data))
		_, _ = w.Write([]byte(`{"id":9,"user_id":7,"receiver_id":42,"message":"hello","created_at":"2024-05-01T10:00:00","attachments":[{"filename":"note.txt","file_path":"uploads/7/x.txt"}]}`))
	}))
	defer srv.Close()

	msg, err := New(srv.URL).Send(context.Background(), 42, "hello", []Upload{{Name: "note.txt", Content: strings.NewReader("contents")}})
	require.NoError(t, err)
	assert.Equal(t, int64(9), msg.ID)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, srv.URL+"/uploads/7/x.txt", New(srv.URL+"/").AttachmentURL(msg.Attachments[0]))
}

func TestEditAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_, _ = w.Write([]byte(`{"id":5,"user_id":7,"receiver_id":42,"message":"` + body["message"] + `","created_at":null}`))
		case http.MethodDelete:
			if r.URL.Path == "/chat/messages/6" {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"detail":"Message not found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"deleted","message_id":5}`))
		}
	}))
	defer srv.Close()

	client := New(srv.URL)
	msg, err := client.Edit(context.Background(), 5, "changed")
	require.NoError(t, err)
	assert.Equal(t, "changed", msg.Body)

	res, err := client.Delete(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Status: "deleted", MessageID: 5}, res)

	_, err = client.Delete(context.Background(), 6)
	var fe *chaterr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Message not found", fe.Detail)
}

func TestRegisterMapsServerErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		field   string
		message string
		form    string
	}{
		{name: "flat detail", body: `{"detail":"Email already registered"}`, form: "Email already registered"},
		{name: "field map", body: `{"first_name":["Too long"]}`, field: "firstName", message: "Too long"},
		{name: "located", body: `{"detail":[{"loc":["body","confirm_password"],"msg":"mismatch"}]}`, field: "confirmPassword", message: "mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).Register(context.Background(), Registration{Email: "a@b.io"})
			var verr *chaterr.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			if tc.field != "" {
				assert.Equal(t, tc.message, verr.Field(tc.field))
			}
			assert.Equal(t, tc.form, verr.Message)
		})
	}
}

func TestStreamURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/ws?token=abc", New("http://localhost:8000/").StreamURL("abc"))
	assert.Equal(t, "wss://chat.example/api/ws?token=a%2Bb", New("https://chat.example/api").StreamURL("a+b"))
}

func TestDownloadReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uploads/7/a.txt", r.URL.Path)
		_, _ = w.Write([]byte("file"))
	}))
	defer srv.Close()

	rc, err := New(srv.URL).Download(context.Background(), message.Attachment{Path: "uploads/7/a.txt"})
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "file", string(data))
}
