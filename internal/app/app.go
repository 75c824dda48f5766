package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"direct-chat/internal/api"
	"direct-chat/internal/chaterr"
	"direct-chat/internal/conversation"
	"direct-chat/internal/crypto"
	"direct-chat/internal/directory"
	"direct-chat/internal/logging"
	"direct-chat/internal/session"
	"direct-chat/internal/storage"
	"direct-chat/internal/stream"
	"direct-chat/internal/ui"
)

// App wires the session, the REST client, the live stream and the
// conversation view to the terminal front ends.
type App struct {
	Cfg *Config

	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
	logOut io.Closer

	Client    *api.Client
	Session   *session.Store
	Directory *directory.Directory
	View      *conversation.View
	Jar       *storage.CookieJar
	Downloads *storage.DownloadStore
	Metrics   *Metrics

	sink ui.Sink
	tui  *ui.TUIDisplay
	out  io.Writer
	in   io.Reader

	streamMu     sync.Mutex
	stream       *stream.Client
	streamCancel context.CancelFunc
	streamDone   chan struct{}

	attachMu sync.Mutex
	attached []string

	startOnce    sync.Once
	shutdownOnce sync.Once
	quit         chan struct{}
}

// NewApp wires all client dependencies according to the provided config.
func NewApp(cfg *Config) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		Cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		Metrics: &Metrics{},
		out:     os.Stdout,
		in:      os.Stdin,
		quit:    make(chan struct{}),
	}

	if cfg.LogFile != "" {
		logger, closer, err := logging.OpenFile(cfg.LogFile, cfg.LogLevel)
		if err != nil {
			cancel()
			return nil, err
		}
		a.log, a.logOut = logger, closer
	} else {
		a.log = logging.New(os.Stderr, cfg.LogLevel)
	}

	jar, err := storage.OpenCookieJar(cfg.SessionDB)
	if err != nil {
		a.log.Warn().Err(err).Msg("session db unavailable, running without persistence")
		jar = storage.NewMemoryCookieJar()
	}
	if cfg.SessionKey != "" {
		sealer, err := crypto.NewSealer(cfg.SessionKey)
		if err != nil {
			a.log.Warn().Err(err).Msg("session key unusable, session stored unencrypted")
		} else {
			jar.UseSealer(sealer)
		}
	}
	a.Jar = jar

	downloads, err := storage.OpenDownloadStore(cfg.DownloadsDB, cfg.DownloadsDir)
	if err != nil {
		a.log.Warn().Err(err).Msg("download store unavailable, /open disabled")
	}
	a.Downloads = downloads

	base := api.New(cfg.APIURL, api.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	a.Session = session.New(base, jar, session.WithLogger(a.log.With().Str("component", "session").Logger()))
	a.Client = base.WithTokens(a.Session)
	a.Directory = directory.New(a.Client, a.Session.Identity)
	a.View = conversation.New(a.Client, a.Session.Identity,
		conversation.WithLogger(a.log.With().Str("component", "conversation").Logger()),
		conversation.WithListener(a.render),
	)
	return a, nil
}

// SetOutput redirects CLI output; it must be called before Start.
func (a *App) SetOutput(w io.Writer) {
	if w != nil {
		a.out = w
	}
}

// SetInput replaces stdin as the CLI command source; call before Start.
func (a *App) SetInput(r io.Reader) {
	if r != nil {
		a.in = r
	}
}

// Context is cancelled on shutdown.
func (a *App) Context() context.Context { return a.ctx }

// Done is closed when the user asks to quit.
func (a *App) Done() <-chan struct{} { return a.quit }

// Start launches the user interfaces and, when a session survives in the
// cookie jar, resumes it.
func (a *App) Start() {
	a.startOnce.Do(func() {
		var sinks []ui.Sink
		if a.Cfg.UseCLI {
			sinks = append(sinks, ui.NewCLIDisplay(a.out, ui.ShouldUseColor(a.Cfg.NoColor)))
		}
		if a.Cfg.UseTUI {
			a.tui = ui.NewTUIDisplay(ui.TUIHandlers{
				Submit: a.ProcessLine,
				Select: func(id int64) { a.openConversation(id) },
			})
			sinks = append(sinks, a.tui)
			go func() {
				if err := a.tui.Run(a.ctx); err != nil {
					a.log.Error().Err(err).Msg("tui stopped")
				}
				a.requestQuit()
			}()
		}
		a.sink = ui.NewMultiSink(sinks...)

		switch {
		case a.Session.Authenticated() && a.Session.Guard(a.ctx) == nil:
			a.sink.ShowSystem("session restored")
			a.onLogin()
		case a.Cfg.Email != "" && a.Cfg.Password != "":
			a.login(a.Cfg.Email, a.Cfg.Password)
		default:
			a.sink.ShowSystem("please log in: /login <email> <password> (or /register, /help)")
		}

		if a.Cfg.UseCLI {
			go a.ReadInput(a.in)
		}
	})
}

// Shutdown stops background routines and releases resources.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.stopStream()
		a.cancel()
		if a.tui != nil {
			a.tui.Stop()
		}
		if a.Downloads != nil {
			_ = a.Downloads.Close()
		}
		if a.Jar != nil {
			_ = a.Jar.Close()
		}
		if a.logOut != nil {
			_ = a.logOut.Close()
		}
	})
}

func (a *App) requestQuit() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
}

// WaitForShutdown blocks until SIGINT/SIGTERM or /quit, then stops the app.
func WaitForShutdown(app *App) {
	if app == nil {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-app.Done():
	}
	app.log.Info().Msg("shutting down")
	app.Shutdown()
}

// onLogin loads the directory and opens the live stream.
func (a *App) onLogin() {
	if err := a.refreshUsers(); err != nil {
		a.report("load users", err)
	}
	a.startStream()
}

// onLogout tears down everything tied to the session.
func (a *App) onLogout(reason string) {
	a.stopStream()
	a.View.Deselect()
	a.Directory.Clear()
	a.clearAttachments()
	if err := a.Session.Logout(); err != nil {
		a.log.Warn().Err(err).Msg("clear session")
	}
	a.sink.UpdateUsers(nil, 0)
	a.sink.ShowSystem(reason)
}

func (a *App) startStream() {
	a.streamMu.Lock()
	defer a.streamMu.Unlock()
	if a.stream != nil {
		return
	}
	ctx, cancel := context.WithCancel(a.ctx)
	client := stream.New(a.Client.StreamURL, a.Session,
		stream.WithLogger(a.log.With().Str("component", "stream").Logger()))
	done := make(chan struct{})
	a.stream, a.streamCancel, a.streamDone = client, cancel, done
	a.View.SetPublisher(client)
	a.Metrics.Streams.Add(1)

	go a.consumeEvents(client)
	go func() {
		defer close(done)
		err := client.Run(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		a.streamEnded(client, err)
	}()
}

func (a *App) stopStream() {
	a.streamMu.Lock()
	cancel, done := a.streamCancel, a.streamDone
	a.stream, a.streamCancel, a.streamDone = nil, nil, nil
	a.streamMu.Unlock()
	a.View.SetPublisher(nil)
	if cancel != nil {
		cancel()
		<-done
	}
}

// streamEnded handles a stream the server refused, either at the handshake or
// with a policy close after the upgrade. A session that still holds the
// rejected token is refreshed; the stream restarts on the fresh token and the
// user is logged out when no refresh is possible.
func (a *App) streamEnded(client *stream.Client, err error) {
	a.log.Warn().Err(err).Msg("stream stopped")
	a.streamMu.Lock()
	if a.stream != client {
		a.streamMu.Unlock()
		return
	}
	cancel := a.streamCancel
	a.stream, a.streamCancel, a.streamDone = nil, nil, nil
	a.streamMu.Unlock()
	cancel()
	a.View.SetPublisher(nil)

	var serr *chaterr.StreamError
	if !errors.As(err, &serr) {
		return
	}
	rejected := a.Session.AccessToken()
	if guardErr := a.Session.Guard(a.ctx); guardErr != nil {
		a.onLogout("session expired, please log in again")
		return
	}
	if a.Session.AccessToken() == rejected {
		if refreshErr := a.Session.Refresh(a.ctx); refreshErr != nil {
			a.log.Warn().Err(refreshErr).Msg("refresh after stream rejection")
			a.onLogout("session expired, please log in again")
			return
		}
	}
	if a.ctx.Err() == nil && a.Session.AccessToken() != "" {
		a.startStream()
	}
}

func (a *App) consumeEvents(client *stream.Client) {
	for msg := range client.Events() {
		a.Metrics.Received.Add(1)
		self := a.Session.Identity()
		if msg.SenderID != self && msg.SenderID != a.View.Peer() {
			a.sink.ShowNotification(ui.Notification{
				Text:      "new message",
				Level:     "info",
				From:      a.Directory.Name(msg.SenderID),
				Timestamp: msg.CreatedAt.Time,
			})
		}
		a.View.HandleEvent(msg)
	}
}

func (a *App) render(snap conversation.Snapshot) {
	if a.sink == nil {
		return
	}
	peer, ok := a.Directory.Lookup(formatID(snap.Peer))
	if !ok {
		peer.ID = snap.Peer
	}
	a.sink.ShowConversation(ui.Conversation{
		Peer:          peer,
		Self:          a.Session.Identity(),
		State:         snap.State.String(),
		Messages:      snap.Messages,
		Editing:       snap.Editing,
		AttachmentURL: a.View.AttachmentURL,
	})
}

func (a *App) refreshUsers() error {
	users, err := a.Directory.Refresh(a.ctx)
	if err != nil {
		return err
	}
	a.sink.UpdateUsers(users, a.View.Peer())
	return nil
}

// report logs err and shows the inline message for it.
func (a *App) report(action string, err error) {
	if err == nil {
		return
	}
	a.Metrics.Failures.Add(1)
	a.log.Warn().Err(err).Str("action", action).Msg("action failed")
	if errors.Is(err, chaterr.ErrLoginRequired) {
		a.onLogout(chaterr.UserMessage(err))
		return
	}
	a.sink.ShowNotification(ui.Notification{Text: chaterr.UserMessage(err), Level: "error"})
}
