package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"direct-chat/internal/chaterr"
	"direct-chat/internal/message"
)

const defaultTimeout = 15 * time.Second

// TokenSource hands out the bearer token attached to authenticated calls.
type TokenSource interface {
	AccessToken() string
}

// TokenPair is the body returned by /login and /refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// Registration is the /register payload.
type Registration struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// DeleteResult is the /chat/messages/{id} DELETE body.
type DeleteResult struct {
	Status    string `json:"status"`
	MessageID int64  `json:"message_id"`
}

// Client is a thin wrapper over the chat REST API.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

type Option func(*Client)

// WithHTTPClient replaces the default client (15s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTokens returns a copy of c that authenticates with ts.
func (c *Client) WithTokens(ts TokenSource) *Client {
	cp := *c
	cp.tokens = ts
	return &cp
}

// Base is the API base location without a trailing slash.
func (c *Client) Base() string { return c.base }

// AttachmentURL resolves a stored attachment path against the base.
func (c *Client) AttachmentURL(att message.Attachment) string {
	return att.URL(c.base)
}

// StreamURL builds the websocket endpoint carrying token in the query.
func (c *Client) StreamURL(token string) string {
	u, err := url.Parse(c.base)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

// Login exchanges credentials for a token pair. Rejected credentials are
// reported as *chaterr.AuthError.
func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	req, err := c.newRequest(ctx, http.MethodPost, "/login", strings.NewReader(form.Encode()))
	if err != nil {
		return TokenPair{}, &chaterr.FetchError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var pair TokenPair
	err = c.do(req, "login", &pair)
	var fe *chaterr.FetchError
	if errors.As(err, &fe) && fe.Status == http.StatusUnauthorized {
		return TokenPair{}, &chaterr.AuthError{Status: fe.Status, Detail: fe.Detail}
	}
	return pair, err
}

// Refresh obtains a new access token using the refresh token as bearer.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/refresh", nil)
	if err != nil {
		return TokenPair{}, &chaterr.FetchError{Op: "refresh", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	var pair TokenPair
	if err := c.do(req, "refresh", &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Register creates an account. Server-side field problems come back as a
// *chaterr.ValidationError keyed by client field names.
func (c *Client) Register(ctx context.Context, reg Registration) (message.User, error) {
	var user message.User
	req, err := c.jsonRequest(ctx, http.MethodPost, "/register", reg)
	if err != nil {
		return user, &chaterr.FetchError{Op: "register", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return user, &chaterr.FetchError{Op: "register", Err: err}
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		if verr := registrationErrors(body); verr != nil {
			return user, verr
		}
		return user, &chaterr.FetchError{Op: "register", Status: resp.StatusCode, Detail: detailOf(body)}
	}
	if err := json.Unmarshal(body, &user); err != nil {
		return user, &chaterr.FetchError{Op: "register", Status: resp.StatusCode, Err: err}
	}
	return user, nil
}

// Users lists the directory; the server excludes the caller.
func (c *Client) Users(ctx context.Context) ([]message.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users", nil)
	if err != nil {
		return nil, &chaterr.FetchError{Op: "users", Err: err}
	}
	var users []message.User
	if err := c.do(req, "users", &users); err != nil {
		return nil, err
	}
	return users, nil
}

// History returns the conversation with peer in server order.
func (c *Client) History(ctx context.Context, peer int64) ([]message.Message, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/chat/messages/"+strconv.FormatInt(peer, 10), nil)
	if err != nil {
		return nil, &chaterr.FetchError{Op: "history", Err: err}
	}
	var msgs []message.Message
	if err := c.do(req, "history", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Upload is one file part of a send.
type Upload struct {
	Name    string
	Content io.Reader
}

// OpenUpload opens a local file for sending.
func OpenUpload(path string) (Upload, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return Upload{}, nil, err
	}
	return Upload{Name: filepath.Base(path), Content: f}, f.Close, nil
}

// Send posts a message with optional files as multipart form data.
func (c *Client) Send(ctx context.Context, receiver int64, body string, files []Upload) (message.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("message", body)
	_ = mw.WriteField("receiver_id", strconv.FormatInt(receiver, 10))
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return message.Message{}, &chaterr.FetchError{Op: "send", Err: err}
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return message.Message{}, &chaterr.FetchError{Op: "send", Err: fmt.Errorf("read %s: %w", f.Name, err)}
		}
	}
	if err := mw.Close(); err != nil {
		return message.Message{}, &chaterr.FetchError{Op: "send", Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/chat/messages", &buf)
	if err != nil {
		return message.Message{}, &chaterr.FetchError{Op: "send", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var msg message.Message
	if err := c.do(req, "send", &msg); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// Edit replaces the body of one of the caller's messages.
func (c *Client) Edit(ctx context.Context, id int64, body string) (message.Message, error) {
	req, err := c.jsonRequest(ctx, http.MethodPut, "/chat/messages/"+strconv.FormatInt(id, 10), map[string]string{"message": body})
	if err != nil {
		return message.Message{}, &chaterr.FetchError{Op: "edit", Err: err}
	}
	var msg message.Message
	if err := c.do(req, "edit", &msg); err != nil {
		return message.Message{}, err
	}
	return msg, nil
}

// Delete removes one of the caller's messages.
func (c *Client) Delete(ctx context.Context, id int64) (DeleteResult, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/chat/messages/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return DeleteResult{}, &chaterr.FetchError{Op: "delete", Err: err}
	}
	var res DeleteResult
	if err := c.do(req, "delete", &res); err != nil {
		return DeleteResult{}, err
	}
	return res, nil
}

// Download streams the content of an attachment. The caller closes it.
func (c *Client) Download(ctx context.Context, att message.Attachment) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AttachmentURL(att), nil)
	if err != nil {
		return nil, &chaterr.FetchError{Op: "download", Err: err}
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &chaterr.FetchError{Op: "download", Err: err}
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, &chaterr.FetchError{Op: "download", Status: resp.StatusCode, Detail: detailOf(body)}
	}
	return resp.Body, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)
	return req, nil
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, payload interface{}) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.tokens == nil {
		return
	}
	if tok := c.tokens.AccessToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &chaterr.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &chaterr.FetchError{Op: op, Status: resp.StatusCode, Detail: detailOf(body)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &chaterr.FetchError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
