package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"direct-chat/internal/message"
)

// TUIHandlers run on a single worker goroutine in the order the user acted.
type TUIHandlers struct {
	Submit func(line string)
	Select func(userID int64)
}

// TUIDisplay renders the user list and the selected chat using tview.
type TUIDisplay struct {
	app      *tview.Application
	messages *tview.TextView
	input    *tview.InputField
	users    *tview.List
	status   *tview.TextView
	handlers TUIHandlers
	work     *workQueue
	once     sync.Once

	mu      sync.Mutex
	userIDs []int64
}

func NewTUIDisplay(handlers TUIHandlers) *TUIDisplay {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetRegions(false).
		SetScrollable(true)
	messages.SetBorder(true).SetTitle("Select a user to start chatting")

	users := tview.NewList().ShowSecondaryText(false)
	users.SetBorder(true).SetTitle("Users")

	status := tview.NewTextView().SetDynamicColors(true)

	input := tview.NewInputField().
		SetLabel("> ").
		SetFieldTextColor(tcell.ColorWhite)

	td := &TUIDisplay{
		app:      tview.NewApplication(),
		messages: messages,
		input:    input,
		users:    users,
		status:   status,
		handlers: handlers,
		work:     newWorkQueue(),
	}

	input.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			text := strings.TrimSpace(input.GetText())
			if text != "" && td.handlers.Submit != nil {
				td.work.Push(func() { td.handlers.Submit(text) })
			}
			input.SetText("")
		}
	})

	users.SetSelectedFunc(func(index int, _ string, _ string, _ rune) {
		td.mu.Lock()
		var id int64
		if index >= 0 && index < len(td.userIDs) {
			id = td.userIDs[index]
		}
		td.mu.Unlock()
		if id != 0 && td.handlers.Select != nil {
			td.work.Push(func() { td.handlers.Select(id) })
		}
		td.app.SetFocus(input)
	})

	chat := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, false).
		AddItem(status, 1, 0, false).
		AddItem(input, 1, 0, true)

	layout := tview.NewFlex().
		AddItem(users, 0, 1, false).
		AddItem(chat, 0, 3, true)

	td.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyTab {
			if td.app.GetFocus() == input {
				td.app.SetFocus(users)
			} else {
				td.app.SetFocus(input)
			}
			return nil
		}
		return event
	})

	td.app.SetRoot(layout, true).EnableMouse(true)
	return td
}

func (t *TUIDisplay) Run(ctx context.Context) error {
	go t.work.Run(ctx)
	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	return t.app.Run()
}

func (t *TUIDisplay) Stop() {
	t.once.Do(func() {
		t.app.Stop()
	})
}

func (t *TUIDisplay) ShowConversation(conv Conversation) {
	title := "Select a user to start chatting"
	if conv.Peer.ID != 0 {
		title = "Chat with " + conv.Peer.DisplayName()
	}
	var b strings.Builder
	if conv.State == "loading_history" {
		b.WriteString("[gray]loading history...[-]\n")
	}
	for _, msg := range conv.Messages {
		b.WriteString(formatTUILine(conv, msg))
	}
	content := b.String()
	t.app.QueueUpdateDraw(func() {
		t.messages.SetTitle(title)
		t.messages.SetText(content)
		t.messages.ScrollToEnd()
	})
}

func (t *TUIDisplay) ShowSystem(text string) {
	content := fmt.Sprintf("[green]%s[-]", tview.Escape(text))
	t.app.QueueUpdateDraw(func() {
		t.status.SetText(content)
	})
}

func (t *TUIDisplay) UpdateUsers(users []message.User, selected int64) {
	ids := make([]int64, len(users))
	labels := make([]string, len(users))
	current := -1
	for i, u := range users {
		ids[i] = u.ID
		labels[i] = tview.Escape(u.DisplayName())
		if u.ID == selected {
			current = i
		}
	}
	t.mu.Lock()
	t.userIDs = ids
	t.mu.Unlock()
	t.app.QueueUpdateDraw(func() {
		t.users.Clear()
		for _, label := range labels {
			t.users.AddItem(label, "", 0, nil)
		}
		if current >= 0 {
			t.users.SetCurrentItem(current)
		}
	})
}

func (t *TUIDisplay) ShowNotification(n Notification) {
	color := "orange"
	if n.Level == "error" {
		color = "red"
	}
	text := n.Text
	if n.From != "" {
		text = n.From + ": " + text
	}
	content := fmt.Sprintf("[%s]%s[-]", color, tview.Escape(text))
	t.app.QueueUpdateDraw(func() {
		t.status.SetText(content)
	})
}

func formatTUILine(conv Conversation, msg message.Message) string {
	nameColor := "lightgreen"
	if msg.SenderID == conv.Self {
		nameColor = "yellow"
	}
	marker := ""
	if msg.ID == conv.Editing {
		marker = " [orange](editing)[-]"
	}
	line := fmt.Sprintf("[gray][%s][-] [%s]%s[-] [gray]#%d[-]%s: %s",
		clock(msg.CreatedAt), nameColor, tview.Escape(senderLabel(conv, msg)), msg.ID, marker, tview.Escape(msg.Body))
	if links := attachmentLinks(conv, msg); len(links) > 0 {
		line += fmt.Sprintf(" [orange](files: %s)[-]", tview.Escape(strings.Join(links, ", ")))
	}
	return line + "\n"
}
