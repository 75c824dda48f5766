package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"direct-chat/internal/api"
	"direct-chat/internal/authutil"
	"direct-chat/internal/devapi"
	"direct-chat/internal/session"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type staticToken string

func (s staticToken) AccessToken() string { return string(s) }

type harness struct {
	srv *devapi.Server
	url string
	bob *api.Client
	dir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := devapi.New(devapi.NewMemoryStore(), devapi.WithUploadDir(t.TempDir()), devapi.WithLoginRate(100, 100))
	ts := httptestServer(t, srv)
	client := api.New(ts)
	ctx := context.Background()
	for _, reg := range []api.Registration{
		{FirstName: "Alice", LastName: "Test", Email: "alice@example.com", Password: "Secret123!"},
		{FirstName: "Bob", LastName: "Test", Email: "bob@example.com", Password: "Secret123!"},
	} {
		_, err := client.Register(ctx, reg)
		require.NoError(t, err)
	}
	pair, err := client.Login(ctx, "bob@example.com", "Secret123!")
	require.NoError(t, err)
	return &harness{srv: srv, url: ts, bob: client.WithTokens(staticToken(pair.AccessToken)), dir: t.TempDir()}
}

func (h *harness) start(t *testing.T) (*App, *syncBuffer) {
	t.Helper()
	cfg := &Config{
		APIURL:   h.url,
		DataDir:  h.dir,
		LogFile:  filepath.Join(h.dir, "chat.log"),
		LogLevel: "debug",
		Timeout:  5 * time.Second,
		NoColor:  true,
		UseCLI:   true,
	}
	cfg.fillPaths()
	a, err := NewApp(cfg)
	require.NoError(t, err)
	out := &syncBuffer{}
	a.SetOutput(out)
	a.SetInput(strings.NewReader(""))
	a.Start()
	t.Cleanup(a.Shutdown)
	return a, out
}

func eventually(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), want) },
		3*time.Second, 10*time.Millisecond, "output never contained %q:\n%s", want, out.String())
}

func TestLoginChatEditDelete(t *testing.T) {
	h := newHarness(t)
	a, out := h.start(t)
	eventually(t, out, "please log in")

	a.ProcessLine("/login alice@example.com Secret123!")
	eventually(t, out, "logged in as #1")
	eventually(t, out, "Bob Test (#2)")
	require.Eventually(t, func() bool { return h.srv.Hub().Connected() == 1 }, 3*time.Second, 10*time.Millisecond)

	a.ProcessLine("/chat bob test")
	eventually(t, out, "chat with Bob Test")

	a.ProcessLine("hello bob")
	eventually(t, out, "you #1: hello bob")

	_, err := h.bob.Send(context.Background(), 1, "hi alice", nil)
	require.NoError(t, err)
	eventually(t, out, "Bob Test #2: hi alice")

	a.ProcessLine("/edit 1 hello again")
	eventually(t, out, "#1 (edited): hello again")

	a.ProcessLine("/edit 2 not mine")
	require.NotContains(t, out.String(), "#2 (edited)")

	a.ProcessLine("/delete 1")
	eventually(t, out, "message 1 deleted")

	a.ProcessLine("/stats")
	eventually(t, out, "sent=1")
	eventually(t, out, "edited=1 deleted=1")
	eventually(t, out, "users=1 fetched=")

	a.ProcessLine("/logout")
	eventually(t, out, "logged out")
	require.Eventually(t, func() bool { return h.srv.Hub().Connected() == 0 }, 3*time.Second, 10*time.Millisecond)

	a.ProcessLine("/users")
	eventually(t, out, "Please log in first.")
}

func TestEditPromptThenPlainLine(t *testing.T) {
	h := newHarness(t)
	a, out := h.start(t)
	a.ProcessLine("/login alice@example.com Secret123!")
	eventually(t, out, "logged in as #1")
	a.ProcessLine("/chat 2")
	eventually(t, out, "chat with Bob Test")
	a.ProcessLine("first draft")
	eventually(t, out, "you #1: first draft")

	a.ProcessLine("/edit 1")
	eventually(t, out, `editing #1 (was "first draft")`)
	a.ProcessLine("final text")
	eventually(t, out, "#1 (edited): final text")
}

func TestLoginFailureAndValidation(t *testing.T) {
	h := newHarness(t)
	a, out := h.start(t)

	a.ProcessLine("/login alice@example.com wrong-password")
	eventually(t, out, "Incorrect email or password")

	a.ProcessLine("/register Al Ice not-an-email short short")
	eventually(t, out, "registration failed")

	a.ProcessLine("/register Carol Test carol@example.com Secret123! Secret123!")
	eventually(t, out, "Registration was successful! Log in as carol@example.com")

	a.ProcessLine("hello?")
	eventually(t, out, "Please log in first.")
}

func TestSessionRestoredAfterRestart(t *testing.T) {
	h := newHarness(t)
	a, out := h.start(t)
	a.ProcessLine("/login alice@example.com Secret123!")
	eventually(t, out, "logged in as #1")
	a.Shutdown()

	_, out = h.start(t)
	eventually(t, out, "session restored")
	eventually(t, out, "Bob Test (#2)")
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	h := newHarness(t)
	a, out := h.start(t)
	a.ProcessLine("/login alice@example.com Secret123!")
	eventually(t, out, "logged in as #1")
	a.ProcessLine("/chat bob@example.com")
	eventually(t, out, "chat with Bob Test")

	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("file body"), 0o644))
	a.ProcessLine("/attach " + path)
	eventually(t, out, "attached "+path)

	a.ProcessLine("see attached")
	eventually(t, out, "you #1: see attached [files:")

	a.ProcessLine("/open 1")
	eventually(t, out, "saved note.txt to ")

	a.ProcessLine("/downloads")
	eventually(t, out, "#1 note.txt (9 bytes)")

	records, err := a.Downloads.List(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	data, err := os.ReadFile(records[0].Path)
	require.NoError(t, err)
	require.Equal(t, "file body", string(data))
}

func TestStreamRestartsAfterPolicyClose(t *testing.T) {
	h := newHarness(t)
	a, out := h.start(t)
	a.ProcessLine("/login alice@example.com Secret123!")
	eventually(t, out, "logged in as #1")
	require.Eventually(t, func() bool { return h.srv.Hub().Connected() == 1 }, 3*time.Second, 10*time.Millisecond)

	a.stopStream()
	require.Eventually(t, func() bool { return h.srv.Hub().Connected() == 0 }, 3*time.Second, 10*time.Millisecond)

	expired, err := authutil.IssueToken(1, authutil.KindAccess, -time.Minute)
	require.NoError(t, err)
	require.NoError(t, a.Jar.Set(&http.Cookie{
		Name:    session.AccessCookie,
		Value:   expired,
		Expires: time.Now().Add(time.Hour),
	}))
	rejectedBefore := h.srv.MetricsSnapshot().StreamsRejected.Load()

	a.startStream()
	require.Eventually(t, func() bool { return h.srv.Hub().Connected() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Greater(t, h.srv.MetricsSnapshot().StreamsRejected.Load(), rejectedBefore)
	require.NotEqual(t, expired, a.Session.AccessToken())
	require.True(t, a.Session.Authenticated())
	require.EqualValues(t, 3, a.Metrics.Streams.Load())
}

func TestQuitClosesDone(t *testing.T) {
	h := newHarness(t)
	a, _ := h.start(t)
	a.ProcessLine("/quit")
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatalf("quit did not close Done")
	}
}

func httptestServer(t *testing.T, srv *devapi.Server) string {
	t.Helper()
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts.URL
}
