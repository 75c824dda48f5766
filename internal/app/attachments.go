package app

import (
	"fmt"
	"os"
	"strings"

	"direct-chat/internal/chaterr"
)

// maxUploadSize mirrors the server's per-file limit.
const maxUploadSize = 5 << 20

func (a *App) attach(path string) {
	info, err := os.Stat(path)
	if err != nil {
		a.sink.ShowSystem(fmt.Sprintf("cannot attach %s: %v", path, err))
		return
	}
	if info.IsDir() {
		a.sink.ShowSystem(fmt.Sprintf("cannot attach %s: is a directory", path))
		return
	}
	if info.Size() > maxUploadSize {
		a.sink.ShowSystem(fmt.Sprintf("cannot attach %s: larger than 5MB", path))
		return
	}
	a.attachMu.Lock()
	a.attached = append(a.attached, path)
	n := len(a.attached)
	a.attachMu.Unlock()
	a.sink.ShowSystem(fmt.Sprintf("attached %s (%d file(s) will go with the next message)", path, n))
}

func (a *App) attachments() []string {
	a.attachMu.Lock()
	defer a.attachMu.Unlock()
	out := make([]string, len(a.attached))
	copy(out, a.attached)
	return out
}

func (a *App) clearAttachments() {
	a.attachMu.Lock()
	a.attached = nil
	a.attachMu.Unlock()
}

// download fetches every attachment of a message in the open conversation.
func (a *App) download(id int64) {
	if a.Downloads == nil {
		a.sink.ShowSystem("downloads are disabled")
		return
	}
	msg, ok := a.View.Find(id)
	if !ok {
		a.report("open", chaterr.NewValidation("Message not found"))
		return
	}
	if len(msg.Attachments) == 0 {
		a.sink.ShowSystem(fmt.Sprintf("message #%d has no attachments", id))
		return
	}
	for _, att := range msg.Attachments {
		body, err := a.Client.Download(a.ctx, att)
		if err != nil {
			a.report("download", err)
			continue
		}
		rec, err := a.Downloads.Save(msg.ID, att.Filename, a.Client.AttachmentURL(att), body)
		body.Close()
		if err != nil {
			a.report("download", err)
			continue
		}
		a.Metrics.Downloads.Add(1)
		a.sink.ShowSystem(fmt.Sprintf("saved %s to %s", rec.Filename, rec.Path))
	}
}

func (a *App) listDownloads() {
	if a.Downloads == nil {
		a.sink.ShowSystem("downloads are disabled")
		return
	}
	records, err := a.Downloads.List(20)
	if err != nil {
		a.report("downloads", err)
		return
	}
	if len(records) == 0 {
		a.sink.ShowSystem("no downloads yet")
		return
	}
	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("#%d %s (%d bytes) -> %s", rec.MessageID, rec.Filename, rec.Size, rec.Path))
	}
	a.sink.ShowSystem("downloads:\n" + strings.Join(lines, "\n"))
}
