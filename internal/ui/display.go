package ui

import (
	"time"

	"direct-chat/internal/message"
)

// Conversation is what a display needs to draw the selected chat.
type Conversation struct {
	Peer     message.User
	Self     int64
	State    string
	Messages []message.Message
	Editing  int64
	// AttachmentURL resolves attachment paths; nil shows the raw path.
	AttachmentURL func(message.Attachment) string
}

// Notification is used for alerts such as a message from a peer that is not
// on screen, or an error reported by an action.
type Notification struct {
	Text      string    `json:"text"`
	Level     string    `json:"level"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
}

// Sink is the unified interface every UI surface must satisfy.
type Sink interface {
	ShowConversation(Conversation)
	ShowSystem(string)
	UpdateUsers(users []message.User, selected int64)
	ShowNotification(Notification)
}

type multiSink struct {
	sinks []Sink
}

// NewMultiSink fans chat events out to each registered sink.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) ShowConversation(c Conversation) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowConversation(c)
		}
	}
}

func (m *multiSink) ShowSystem(text string) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowSystem(text)
		}
	}
}

func (m *multiSink) UpdateUsers(users []message.User, selected int64) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.UpdateUsers(users, selected)
		}
	}
}

func (m *multiSink) ShowNotification(n Notification) {
	for _, sink := range m.sinks {
		if sink != nil {
			sink.ShowNotification(n)
		}
	}
}

func senderLabel(c Conversation, msg message.Message) string {
	if msg.SenderID == c.Self {
		return "you"
	}
	return c.Peer.DisplayName()
}

func attachmentLinks(c Conversation, msg message.Message) []string {
	links := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		target := att.Path
		if c.AttachmentURL != nil {
			target = c.AttachmentURL(att)
		}
		links = append(links, att.Filename+" <"+target+">")
	}
	return links
}

func clock(ts message.Timestamp) string {
	if ts.IsZero() {
		return "--:--:--"
	}
	return ts.Local().Format("15:04:05")
}
