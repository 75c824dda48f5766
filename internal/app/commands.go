package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"direct-chat/internal/api"
	"direct-chat/internal/chaterr"
	"direct-chat/internal/session"
)

const helpText = "commands: /login <email> <password> | /register <first> <last> <email> <password> <confirm> | /logout | " +
	"/users | /chat <id|email|name> | /close | /history | /attach [path] | /detach | /edit <id> [text] | /cancel | " +
	"/delete <id> | /open <id> | /downloads | /stats | /whoami | /quit"

// ReadInput feeds lines from r to ProcessLine until EOF.
func (a *App) ReadInput(r io.Reader) {
	buf := bufio.NewReader(r)
	for {
		line, err := buf.ReadString('\n')
		if line != "" {
			a.ProcessLine(line)
		}
		if err != nil {
			if err != io.EOF {
				a.log.Warn().Err(err).Msg("stdin")
			}
			return
		}
	}
}

// ProcessLine runs a command or, for plain text, sends it (or completes an
// edit in progress).
func (a *App) ProcessLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.HasPrefix(line, "/") {
		a.handleCommand(line)
		return
	}
	if id := a.View.Editing(); id != 0 {
		a.editMessage(id, line)
		return
	}
	a.sendMessage(line)
}

func (a *App) handleCommand(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	switch parts[0] {
	case "/login":
		if len(parts) < 3 {
			a.sink.ShowSystem("usage: /login <email> <password>")
			return
		}
		a.login(parts[1], parts[2])
	case "/register":
		if len(parts) < 6 {
			a.sink.ShowSystem("usage: /register <first> <last> <email> <password> <confirm>")
			return
		}
		a.register(session.Form{
			FirstName:       parts[1],
			LastName:        parts[2],
			Email:           parts[3],
			Password:        parts[4],
			ConfirmPassword: parts[5],
		})
	case "/logout":
		a.onLogout("logged out")
	case "/whoami":
		if !a.guard() {
			return
		}
		a.sink.ShowSystem(fmt.Sprintf("logged in as #%d", a.Session.Identity()))
	case "/users":
		if !a.guard() {
			return
		}
		if err := a.refreshUsers(); err != nil {
			a.report("users", err)
		}
	case "/chat":
		if len(parts) < 2 {
			a.sink.ShowSystem("usage: /chat <id|email|name>")
			return
		}
		if !a.guard() {
			return
		}
		ref := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		user, ok := a.Directory.Lookup(ref)
		if !ok {
			if err := a.refreshUsers(); err != nil {
				a.report("users", err)
				return
			}
			user, ok = a.Directory.Lookup(ref)
		}
		if !ok {
			a.sink.ShowSystem(fmt.Sprintf("no user matches %q", ref))
			return
		}
		a.openConversation(user.ID)
	case "/close":
		a.View.Deselect()
		a.sink.UpdateUsers(a.Directory.List(), 0)
	case "/history":
		peer := a.View.Peer()
		if peer == 0 {
			a.sink.ShowSystem("no conversation selected")
			return
		}
		a.openConversation(peer)
	case "/attach":
		if len(parts) < 2 {
			a.sink.ShowSystem(fmt.Sprintf("attached: %v", a.attachments()))
			return
		}
		path := strings.TrimSpace(strings.TrimPrefix(line, parts[0]))
		a.attach(path)
	case "/detach":
		a.clearAttachments()
		a.sink.ShowSystem("attachments cleared")
	case "/edit":
		id, ok := a.parseID(parts, "usage: /edit <id> [text]")
		if !ok || !a.guard() {
			return
		}
		if len(parts) == 2 {
			body, err := a.View.BeginEdit(id)
			if err != nil {
				a.report("edit", err)
				return
			}
			a.sink.ShowSystem(fmt.Sprintf("editing #%d (was %q); type the new text or /cancel", id, body))
			return
		}
		text := strings.TrimSpace(line[strings.Index(line, parts[1])+len(parts[1]):])
		if _, err := a.View.BeginEdit(id); err != nil {
			a.report("edit", err)
			return
		}
		a.editMessage(id, text)
	case "/cancel":
		a.View.CancelEdit()
		a.sink.ShowSystem("edit cancelled")
	case "/delete":
		id, ok := a.parseID(parts, "usage: /delete <id>")
		if !ok || !a.guard() {
			return
		}
		if err := a.View.Delete(a.ctx, id); err != nil {
			a.report("delete", err)
			return
		}
		a.Metrics.Deleted.Add(1)
	case "/open":
		id, ok := a.parseID(parts, "usage: /open <id>")
		if !ok || !a.guard() {
			return
		}
		a.download(id)
	case "/downloads":
		a.listDownloads()
	case "/stats":
		stats := a.Metrics.String()
		if at := a.Directory.Fetched(); !at.IsZero() {
			stats += fmt.Sprintf(" users=%d fetched=%s", len(a.Directory.List()), at.Format("15:04:05"))
		}
		a.sink.ShowSystem(stats)
	case "/quit":
		a.sink.ShowSystem("bye")
		a.requestQuit()
	default:
		a.sink.ShowSystem(helpText)
	}
}

func (a *App) login(email, password string) {
	if err := a.Session.Login(a.ctx, email, password); err != nil {
		a.report("login", err)
		return
	}
	a.sink.ShowSystem(fmt.Sprintf("logged in as #%d", a.Session.Identity()))
	a.onLogin()
}

func (a *App) register(form session.Form) {
	user, err := a.Session.Register(a.ctx, form)
	if err != nil {
		var verr *chaterr.ValidationError
		if errors.As(err, &verr) {
			a.sink.ShowSystem("registration failed: " + verr.Error())
			return
		}
		a.report("register", err)
		return
	}
	a.sink.ShowSystem(fmt.Sprintf("Registration was successful! Log in as %s", user.Email))
}

// guard enforces an authenticated session for protected commands.
func (a *App) guard() bool {
	if err := a.Session.Guard(a.ctx); err != nil {
		a.onLogout(chaterr.UserMessage(chaterr.ErrLoginRequired))
		return false
	}
	a.startStream()
	return true
}

func (a *App) openConversation(peer int64) {
	if !a.guard() {
		return
	}
	a.sink.UpdateUsers(a.Directory.List(), peer)
	if err := a.View.Select(a.ctx, peer); err != nil {
		a.report("history", err)
	}
}

func (a *App) sendMessage(text string) {
	if !a.guard() {
		return
	}
	paths := a.attachments()
	uploads := make([]api.Upload, 0, len(paths))
	for _, path := range paths {
		up, closeFn, err := api.OpenUpload(path)
		if err != nil {
			a.report("attach", err)
			return
		}
		defer closeFn()
		uploads = append(uploads, up)
	}
	if _, err := a.View.Send(a.ctx, text, uploads); err != nil {
		a.report("send", err)
		return
	}
	a.clearAttachments()
	a.Metrics.Sent.Add(1)
}

func (a *App) editMessage(id int64, text string) {
	if !a.guard() {
		a.View.CancelEdit()
		return
	}
	if err := a.View.Edit(a.ctx, id, text); err != nil {
		a.report("edit", err)
		return
	}
	a.Metrics.Edited.Add(1)
}

func (a *App) parseID(parts []string, usage string) (int64, bool) {
	if len(parts) < 2 {
		a.sink.ShowSystem(usage)
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(parts[1], "#"), 10, 64)
	if err != nil || id <= 0 {
		a.sink.ShowSystem(usage)
		return 0, false
	}
	return id, true
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
