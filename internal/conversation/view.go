package conversation

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"direct-chat/internal/api"
	"direct-chat/internal/chaterr"
	"direct-chat/internal/message"
)

// MaxBodyLength is the longest message body accepted, in characters.
const MaxBodyLength = 500

type State int

const (
	NoConversation State = iota
	LoadingHistory
	Live
)

func (s State) String() string {
	switch s {
	case LoadingHistory:
		return "loading_history"
	case Live:
		return "live"
	default:
		return "no_conversation"
	}
}

// Backend is the REST surface the view drives.
type Backend interface {
	History(ctx context.Context, peer int64) ([]message.Message, error)
	Send(ctx context.Context, receiver int64, body string, files []api.Upload) (message.Message, error)
	Edit(ctx context.Context, id int64, body string) (message.Message, error)
	Delete(ctx context.Context, id int64) (api.DeleteResult, error)
	AttachmentURL(att message.Attachment) string
}

// Publisher forwards a sent message to the live stream.
type Publisher interface {
	Publish(msg message.Message) error
}

// Snapshot is a copy of the view for rendering.
type Snapshot struct {
	State    State
	Peer     int64
	Messages []message.Message
	Editing  int64
}

// View holds the message list of the selected conversation and merges
// history with stream events. Every transition happens under mu; network
// calls run outside it and are checked against the selection id on return.
type View struct {
	backend Backend
	self    func() int64
	log     zerolog.Logger

	mu        sync.Mutex
	pub       Publisher
	listener  func(Snapshot)
	state     State
	peer      int64
	selection uint64
	entries   []message.Message
	ids       map[int64]struct{}
	pending   []message.Message
	editing   int64
}

type Option func(*View)

func WithLogger(l zerolog.Logger) Option {
	return func(v *View) { v.log = l }
}

func WithPublisher(p Publisher) Option {
	return func(v *View) { v.pub = p }
}

// WithListener registers fn to receive a snapshot after every change.
func WithListener(fn func(Snapshot)) Option {
	return func(v *View) { v.listener = fn }
}

// New builds a view. self returns the local user id.
func New(backend Backend, self func() int64, opts ...Option) *View {
	v := &View{
		backend: backend,
		self:    self,
		log:     zerolog.Nop(),
		ids:     make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// SetPublisher replaces the stream publisher; nil disables publishing.
func (v *View) SetPublisher(p Publisher) {
	v.mu.Lock()
	v.pub = p
	v.mu.Unlock()
}

// SetListener replaces the change listener.
func (v *View) SetListener(fn func(Snapshot)) {
	v.mu.Lock()
	v.listener = fn
	v.mu.Unlock()
}

func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *View) Peer() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.peer
}

// Find returns the entry with id in the current list.
func (v *View) Find(id int64) (message.Message, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i := v.indexLocked(id); i >= 0 {
		return v.entries[i], true
	}
	return message.Message{}, false
}

// Select switches to peer and loads its history. Events for peer that arrive
// while loading are held and replayed after the history. A result that comes
// back after another selection was made is dropped. On a failed load the
// list stays empty and the error is returned.
func (v *View) Select(ctx context.Context, peer int64) error {
	v.mu.Lock()
	v.selection++
	sel := v.selection
	v.peer = peer
	v.resetLocked()
	v.state = LoadingHistory
	v.mu.Unlock()
	v.notify()

	history, err := v.backend.History(ctx, peer)

	v.mu.Lock()
	if sel != v.selection {
		v.mu.Unlock()
		v.log.Debug().Int64("peer", peer).Msg("discarding stale history")
		return nil
	}
	v.state = Live
	if err != nil {
		v.pending = nil
		v.mu.Unlock()
		v.log.Warn().Err(err).Int64("peer", peer).Msg("load history")
		v.notify()
		return err
	}
	self := v.self()
	for _, msg := range history {
		if msg.Between(self, peer) {
			v.appendLocked(msg)
		}
	}
	for _, msg := range v.pending {
		v.appendLocked(msg)
	}
	v.pending = nil
	v.mu.Unlock()
	v.notify()
	return nil
}

// Deselect leaves the conversation and drops any result still in flight.
func (v *View) Deselect() {
	v.mu.Lock()
	v.selection++
	v.peer = 0
	v.state = NoConversation
	v.resetLocked()
	v.mu.Unlock()
	v.notify()
}

// HandleEvent merges a stream message. Messages outside the selected
// conversation are ignored.
func (v *View) HandleEvent(msg message.Message) {
	v.mu.Lock()
	changed := v.acceptLocked(msg)
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

// Send posts body (and files) to the selected peer, appends the stored
// message and publishes it on the stream.
func (v *View) Send(ctx context.Context, body string, files []api.Upload) (message.Message, error) {
	if verr := validateBody(body, true); verr != nil {
		return message.Message{}, verr
	}
	v.mu.Lock()
	if v.state == NoConversation {
		v.mu.Unlock()
		return message.Message{}, chaterr.NewValidation("Select a conversation first")
	}
	peer := v.peer
	v.mu.Unlock()

	msg, err := v.backend.Send(ctx, peer, body, files)
	if err != nil {
		v.log.Warn().Err(err).Int64("peer", peer).Msg("send message")
		return message.Message{}, err
	}

	v.mu.Lock()
	changed := v.acceptLocked(msg)
	pub := v.pub
	v.mu.Unlock()
	if changed {
		v.notify()
	}
	if pub != nil {
		if err := pub.Publish(msg); err != nil {
			v.log.Warn().Err(err).Int64("message", msg.ID).Msg("publish sent message")
		}
	}
	return msg, nil
}

// BeginEdit marks id as being edited and returns its current body. Only the
// local user's messages can be edited.
func (v *View) BeginEdit(id int64) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	msg, err := v.ownLocked(id, "edit")
	if err != nil {
		return "", err
	}
	v.editing = id
	return msg.Body, nil
}

func (v *View) CancelEdit() {
	v.mu.Lock()
	v.editing = 0
	v.mu.Unlock()
	v.notify()
}

// Editing is the id currently being edited, zero when none.
func (v *View) Editing() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.editing
}

// Edit replaces the body of an own message after the server confirms. Only
// the body of the local entry changes. The editing marker is cleared whether
// or not the edit succeeds.
func (v *View) Edit(ctx context.Context, id int64, body string) error {
	v.mu.Lock()
	_, err := v.ownLocked(id, "edit")
	if err == nil {
		if verr := validateBody(body, false); verr != nil {
			err = verr
		}
	}
	sel := v.selection
	if err != nil {
		v.editing = 0
		v.mu.Unlock()
		v.notify()
		return err
	}
	v.mu.Unlock()

	updated, err := v.backend.Edit(ctx, id, body)

	v.mu.Lock()
	v.editing = 0
	if err == nil && sel == v.selection {
		if i := v.indexLocked(id); i >= 0 {
			v.entries[i].Body = updated.Body
		}
	}
	v.mu.Unlock()
	v.notify()
	if err != nil {
		v.log.Warn().Err(err).Int64("message", id).Msg("edit message")
	}
	return err
}

// Delete removes an own message once the server confirms it.
func (v *View) Delete(ctx context.Context, id int64) error {
	v.mu.Lock()
	_, err := v.ownLocked(id, "delete")
	sel := v.selection
	v.mu.Unlock()
	if err != nil {
		return err
	}

	if _, err := v.backend.Delete(ctx, id); err != nil {
		v.log.Warn().Err(err).Int64("message", id).Msg("delete message")
		return err
	}

	v.mu.Lock()
	if sel == v.selection {
		if i := v.indexLocked(id); i >= 0 {
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
			delete(v.ids, id)
			if v.editing == id {
				v.editing = 0
			}
		}
	}
	v.mu.Unlock()
	v.notify()
	return nil
}

// AttachmentURL resolves att against the API base location.
func (v *View) AttachmentURL(att message.Attachment) string {
	return v.backend.AttachmentURL(att)
}

func (v *View) acceptLocked(msg message.Message) bool {
	if v.state == NoConversation || !msg.Between(v.self(), v.peer) {
		return false
	}
	if v.state == LoadingHistory {
		v.pending = append(v.pending, msg)
		return false
	}
	return v.appendLocked(msg)
}

func (v *View) appendLocked(msg message.Message) bool {
	if _, seen := v.ids[msg.ID]; seen {
		return false
	}
	v.ids[msg.ID] = struct{}{}
	v.entries = append(v.entries, msg)
	return true
}

func (v *View) indexLocked(id int64) int {
	if _, ok := v.ids[id]; !ok {
		return -1
	}
	for i := range v.entries {
		if v.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *View) ownLocked(id int64, action string) (message.Message, error) {
	i := v.indexLocked(id)
	if i < 0 {
		return message.Message{}, chaterr.NewValidation("Message not found")
	}
	msg := v.entries[i]
	if msg.SenderID != v.self() {
		return message.Message{}, chaterr.NewValidation("You can only " + action + " your own messages")
	}
	return msg, nil
}

func (v *View) resetLocked() {
	v.entries = nil
	v.ids = make(map[int64]struct{})
	v.pending = nil
	v.editing = 0
}

func (v *View) snapshotLocked() Snapshot {
	msgs := make([]message.Message, len(v.entries))
	copy(msgs, v.entries)
	return Snapshot{State: v.state, Peer: v.peer, Messages: msgs, Editing: v.editing}
}

func (v *View) notify() {
	v.mu.Lock()
	fn := v.listener
	var snap Snapshot
	if fn != nil {
		snap = v.snapshotLocked()
	}
	v.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

func validateBody(body string, requireText bool) *chaterr.ValidationError {
	if requireText && strings.TrimSpace(body) == "" {
		return chaterr.NewValidation("Message cannot be empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return chaterr.NewValidation("Message cannot be longer than 500 characters")
	}
	return nil
}
