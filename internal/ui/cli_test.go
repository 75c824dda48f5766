package ui

import (
	"bytes"
	"strings"
	"testing"

	"direct-chat/internal/message"
)

func conv(msgs ...message.Message) Conversation {
	return Conversation{
		Peer:     message.User{ID: 42, FirstName: "Ann", LastName: "Lee"},
		Self:     7,
		State:    "live",
		Messages: msgs,
		AttachmentURL: func(a message.Attachment) string {
			return a.URL("http://api")
		},
	}
}

func TestCLIPrintsOnlyNewMessages(t *testing.T) {
	var buf bytes.Buffer
	d := NewCLIDisplay(&buf, false)

	first := message.Message{ID: 1, SenderID: 42, ReceiverID: 7, Body: "hi"}
	d.ShowConversation(conv(first))
	buf.Reset()

	second := message.Message{ID: 2, SenderID: 7, ReceiverID: 42, Body: "yo",
		Attachments: []message.Attachment{{Filename: "a.txt", Path: "uploads/7/a.txt"}}}
	d.ShowConversation(conv(first, second))

	out := buf.String()
	if strings.Contains(out, "hi") {
		t.Fatalf("reprinted an old message: %q", out)
	}
	if !strings.Contains(out, "you #2: yo") || !strings.Contains(out, "a.txt <http://api/uploads/7/a.txt>") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCLIReportsEditsAndDeletes(t *testing.T) {
	var buf bytes.Buffer
	d := NewCLIDisplay(&buf, false)
	a := message.Message{ID: 1, SenderID: 7, ReceiverID: 42, Body: "before"}
	b := message.Message{ID: 2, SenderID: 42, ReceiverID: 7, Body: "reply"}
	d.ShowConversation(conv(a, b))
	buf.Reset()

	a.Body = "after"
	d.ShowConversation(conv(a))

	out := buf.String()
	if !strings.Contains(out, "#1 (edited): after") {
		t.Fatalf("edit not reported: %q", out)
	}
	if !strings.Contains(out, "message 2 deleted") {
		t.Fatalf("delete not reported: %q", out)
	}
}

func TestCLIAnnouncesPeerSwitch(t *testing.T) {
	var buf bytes.Buffer
	d := NewCLIDisplay(&buf, false)
	d.ShowConversation(conv())
	if !strings.Contains(buf.String(), "chat with Ann Lee") {
		t.Fatalf("missing header: %q", buf.String())
	}
	buf.Reset()
	d.ShowConversation(Conversation{})
	if !strings.Contains(buf.String(), "conversation closed") {
		t.Fatalf("missing close notice: %q", buf.String())
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	var a, b bytes.Buffer
	sink := NewMultiSink(NewCLIDisplay(&a, false), nil, NewCLIDisplay(&b, false))
	sink.UpdateUsers([]message.User{{ID: 42, Email: "ann@x.io"}}, 42)
	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, "*ann@x.io (#42)") {
			t.Fatalf("unexpected users line %q", out)
		}
	}
}
