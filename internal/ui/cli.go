package ui

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"direct-chat/internal/message"
)

const (
	ansiReset = "\x1b[0m"
	ansiTime  = "\x1b[36m"
	ansiName  = "\x1b[33m"
	ansiSelf  = "\x1b[35m"
	ansiSys   = "\x1b[32m"
	ansiErr   = "\x1b[31m"
)

// CLIDisplay renders chat events as lines. Conversation snapshots are
// diffed against what was already printed so only changes are written.
type CLIDisplay struct {
	out   io.Writer
	color bool

	mu    sync.Mutex
	peer  int64
	state string
	shown map[int64]string
	order []int64
}

func NewCLIDisplay(out io.Writer, color bool) *CLIDisplay {
	if out == nil {
		out = os.Stdout
	}
	return &CLIDisplay{out: out, color: color, shown: make(map[int64]string)}
}

func (c *CLIDisplay) ShowConversation(conv Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conv.Peer.ID != c.peer {
		c.peer = conv.Peer.ID
		c.state = ""
		c.shown = make(map[int64]string)
		c.order = nil
		if conv.Peer.ID == 0 {
			c.system("conversation closed")
			return
		}
		c.system(fmt.Sprintf("chat with %s", conv.Peer.DisplayName()))
	}
	if conv.State != c.state {
		c.state = conv.State
		if conv.State == "loading_history" {
			c.system("loading history...")
		}
	}

	present := make(map[int64]struct{}, len(conv.Messages))
	for _, msg := range conv.Messages {
		present[msg.ID] = struct{}{}
		body, seen := c.shown[msg.ID]
		switch {
		case !seen:
			c.shown[msg.ID] = msg.Body
			c.order = append(c.order, msg.ID)
			fmt.Fprintln(c.out, c.formatLine(conv, msg, ""))
		case body != msg.Body:
			c.shown[msg.ID] = msg.Body
			fmt.Fprintln(c.out, c.formatLine(conv, msg, " (edited)"))
		}
	}
	kept := c.order[:0]
	for _, id := range c.order {
		if _, ok := present[id]; ok {
			kept = append(kept, id)
			continue
		}
		delete(c.shown, id)
		c.system(fmt.Sprintf("message %d deleted", id))
	}
	c.order = kept
}

func (c *CLIDisplay) ShowSystem(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.system(text)
}

func (c *CLIDisplay) UpdateUsers(users []message.User, selected int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(users) == 0 {
		c.system("no other users yet")
		return
	}
	names := make([]string, 0, len(users))
	for _, u := range users {
		label := fmt.Sprintf("%s (#%d)", u.DisplayName(), u.ID)
		if u.ID == selected {
			label = "*" + label
		}
		names = append(names, label)
	}
	msg := fmt.Sprintf("users: %s", strings.Join(names, ", "))
	if c.color {
		fmt.Fprintf(c.out, "%s[users]%s %s\n", ansiSys, ansiReset, msg)
		return
	}
	fmt.Fprintf(c.out, "[users] %s\n", msg)
}

func (c *CLIDisplay) ShowNotification(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := n.Timestamp.Format("15:04:05")
	prefix := "NOTIFY"
	if n.Level != "" {
		prefix = strings.ToUpper(n.Level)
	}
	line := fmt.Sprintf("[%s] %s: %s", ts, prefix, n.Text)
	if n.From != "" {
		line = fmt.Sprintf("[%s] %s from %s: %s", ts, prefix, n.From, n.Text)
	}
	if c.color {
		color := ansiSys
		if n.Level == "error" {
			color = ansiErr
		}
		fmt.Fprintf(c.out, "%s%s%s\n", color, line, ansiReset)
		return
	}
	fmt.Fprintln(c.out, line)
}

func (c *CLIDisplay) system(text string) {
	ts := time.Now().Format("15:04:05")
	if c.color {
		fmt.Fprintf(c.out, "%s[%s]%s %sSYSTEM%s: %s\n", ansiTime, ts, ansiReset, ansiSys, ansiReset, text)
		return
	}
	fmt.Fprintf(c.out, "[%s] SYSTEM: %s\n", ts, text)
}

func (c *CLIDisplay) formatLine(conv Conversation, msg message.Message, label string) string {
	ts := clock(msg.CreatedAt)
	name := senderLabel(conv, msg)
	var line string
	if c.color {
		nameColor := ansiName
		if msg.SenderID == conv.Self {
			nameColor = ansiSelf
		}
		line = fmt.Sprintf("%s[%s]%s %s%s%s #%d%s: %s", ansiTime, ts, ansiReset, nameColor, name, ansiReset, msg.ID, label, msg.Body)
	} else {
		line = fmt.Sprintf("[%s] %s #%d%s: %s", ts, name, msg.ID, label, msg.Body)
	}
	if links := attachmentLinks(conv, msg); len(links) > 0 {
		line += fmt.Sprintf(" [files: %s]", strings.Join(links, ", "))
	}
	return line
}

// ShouldUseColor determines if ANSI coloring should be enabled for CLI output.
func ShouldUseColor(disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if runtime.GOOS == "windows" {
		if os.Getenv("WT_SESSION") != "" || os.Getenv("ANSICON") != "" || strings.EqualFold(os.Getenv("ConEmuANSI"), "ON") {
			return true
		}
		return false
	}
	return true
}
