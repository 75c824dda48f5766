package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"direct-chat/internal/api"
	"direct-chat/internal/chaterr"
	"direct-chat/internal/message"
)

const self int64 = 7

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) History(ctx context.Context, peer int64) ([]message.Message, error) {
	args := m.Called(ctx, peer)
	msgs, _ := args.Get(0).([]message.Message)
	return msgs, args.Error(1)
}

func (m *mockBackend) Send(ctx context.Context, receiver int64, body string, files []api.Upload) (message.Message, error) {
	args := m.Called(ctx, receiver, body, files)
	return args.Get(0).(message.Message), args.Error(1)
}

func (m *mockBackend) Edit(ctx context.Context, id int64, body string) (message.Message, error) {
	args := m.Called(ctx, id, body)
	return args.Get(0).(message.Message), args.Error(1)
}

func (m *mockBackend) Delete(ctx context.Context, id int64) (api.DeleteResult, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(api.DeleteResult), args.Error(1)
}

func (m *mockBackend) AttachmentURL(att message.Attachment) string {
	return att.URL("http://api.test")
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []message.Message
	err  error
}

func (p *recordingPublisher) Publish(msg message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return p.err
}

func msg(id, from, to int64, body string) message.Message {
	return message.Message{ID: id, SenderID: from, ReceiverID: to, Body: body}
}

func newView(b Backend, opts ...Option) *View {
	return New(b, func() int64 { return self }, opts...)
}

func ids(v *View) []int64 {
	snap := v.Snapshot()
	out := make([]int64, 0, len(snap.Messages))
	for _, m := range snap.Messages {
		out = append(out, m.ID)
	}
	return out
}

func liveView(t *testing.T, b *mockBackend, peer int64, history []message.Message, opts ...Option) *View {
	t.Helper()
	b.On("History", mock.Anything, peer).Return(history, nil).Once()
	v := newView(b, opts...)
	require.NoError(t, v.Select(context.Background(), peer))
	require.Equal(t, Live, v.State())
	return v
}

func TestHistoryThenStreamEvent(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(1, 42, 7, "hi")})

	v.HandleEvent(msg(2, 7, 42, "yo"))

	snap := v.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "hi", snap.Messages[0].Body)
	assert.Equal(t, "yo", snap.Messages[1].Body)
}

func TestEventsForOtherConversationsIgnored(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, nil)

	v.HandleEvent(msg(3, 99, 7, "other peer"))
	v.HandleEvent(msg(4, 42, 99, "peer to someone else"))
	v.HandleEvent(msg(5, 7, 7, "self loop"))

	assert.Empty(t, v.Snapshot().Messages)
}

func TestEventsWithoutSelectionIgnored(t *testing.T) {
	v := newView(&mockBackend{})
	v.HandleEvent(msg(1, 42, 7, "hi"))
	assert.Equal(t, NoConversation, v.State())
	assert.Empty(t, v.Snapshot().Messages)
}

func TestDuplicateEventsCollapse(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(1, 42, 7, "hi")})

	v.HandleEvent(msg(1, 42, 7, "hi"))
	v.HandleEvent(msg(2, 42, 7, "again"))
	v.HandleEvent(msg(2, 42, 7, "again"))

	assert.Equal(t, []int64{1, 2}, ids(v))
}

func TestSwitchingClearsList(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(1, 42, 7, "hi")})

	b.On("History", mock.Anything, int64(43)).Return([]message.Message{msg(10, 43, 7, "hey")}, nil).Once()
	require.NoError(t, v.Select(context.Background(), 43))

	assert.Equal(t, []int64{10}, ids(v))
	assert.Equal(t, int64(43), v.Peer())
}

func TestEventsDuringLoadAreReplayedOnce(t *testing.T) {
	b := &mockBackend{}
	release := make(chan struct{})
	v := newView(b)
	b.On("History", mock.Anything, int64(42)).
		Run(func(mock.Arguments) { <-release }).
		Return([]message.Message{msg(1, 42, 7, "hi"), msg(2, 7, 42, "yo")}, nil).Once()

	done := make(chan error, 1)
	go func() { done <- v.Select(context.Background(), 42) }()
	require.Eventually(t, func() bool { return v.State() == LoadingHistory }, time.Second, time.Millisecond)

	v.HandleEvent(msg(2, 7, 42, "yo"))
	v.HandleEvent(msg(3, 42, 7, "new"))
	assert.Empty(t, v.Snapshot().Messages)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, []int64{1, 2, 3}, ids(v))
}

func TestStaleHistoryDiscarded(t *testing.T) {
	b := &mockBackend{}
	release := make(chan struct{})
	v := newView(b)
	b.On("History", mock.Anything, int64(42)).
		Run(func(mock.Arguments) { <-release }).
		Return([]message.Message{msg(1, 42, 7, "old peer")}, nil).Once()
	b.On("History", mock.Anything, int64(43)).
		Return([]message.Message{msg(10, 43, 7, "current")}, nil).Once()

	done := make(chan error, 1)
	go func() { done <- v.Select(context.Background(), 42) }()
	require.Eventually(t, func() bool { return v.State() == LoadingHistory }, time.Second, time.Millisecond)

	require.NoError(t, v.Select(context.Background(), 43))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []int64{10}, ids(v))
	assert.Equal(t, int64(43), v.Peer())
}

func TestHistoryFailureLeavesEmptyLiveList(t *testing.T) {
	b := &mockBackend{}
	b.On("History", mock.Anything, int64(42)).Return(nil, &chaterr.FetchError{Op: "history", Status: 500}).Once()
	v := newView(b)

	err := v.Select(context.Background(), 42)
	var fe *chaterr.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, Live, v.State())
	assert.Empty(t, v.Snapshot().Messages)

	v.HandleEvent(msg(5, 42, 7, "later"))
	assert.Equal(t, []int64{5}, ids(v))
}

func TestSendAppendsAndPublishes(t *testing.T) {
	b := &mockBackend{}
	pub := &recordingPublisher{}
	v := liveView(t, b, 42, nil, WithPublisher(pub))
	echoed := msg(9, 7, 42, "hello")
	b.On("Send", mock.Anything, int64(42), "hello", []api.Upload(nil)).Return(echoed, nil).Once()

	got, err := v.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, echoed, got)
	assert.Equal(t, []int64{9}, ids(v))
	require.Len(t, pub.sent, 1)

	v.HandleEvent(echoed)
	assert.Equal(t, []int64{9}, ids(v))
}

func TestSendPublishFailureIsNotAnError(t *testing.T) {
	b := &mockBackend{}
	pub := &recordingPublisher{err: &chaterr.StreamError{Op: "publish"}}
	v := liveView(t, b, 42, nil, WithPublisher(pub))
	b.On("Send", mock.Anything, int64(42), "hello", []api.Upload(nil)).Return(msg(9, 7, 42, "hello"), nil).Once()

	_, err := v.Send(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, ids(v))
}

func TestSendLengthLimit(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, nil)

	_, err := v.Send(context.Background(), strings.Repeat("a", 501), nil)
	var verr *chaterr.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = v.Send(context.Background(), "   ", nil)
	require.True(t, errors.As(err, &verr))

	b.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	exact := strings.Repeat("é", 500)
	b.On("Send", mock.Anything, int64(42), exact, []api.Upload(nil)).Return(msg(11, 7, 42, exact), nil).Once()
	_, err = v.Send(context.Background(), exact, nil)
	require.NoError(t, err)
}

func TestSendWithoutSelection(t *testing.T) {
	b := &mockBackend{}
	v := newView(b)
	_, err := v.Send(context.Background(), "hi", nil)
	var verr *chaterr.ValidationError
	require.True(t, errors.As(err, &verr))
	b.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEditPatchesOnlyBody(t *testing.T) {
	b := &mockBackend{}
	original := message.Message{
		ID: 1, SenderID: 7, ReceiverID: 42, Body: "before",
		CreatedAt:   message.At(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		Attachments: []message.Attachment{{Filename: "a.txt", Path: "uploads/7/a.txt"}},
	}
	v := liveView(t, b, 42, []message.Message{original, msg(2, 42, 7, "reply")})
	b.On("Edit", mock.Anything, int64(1), "after").
		Return(message.Message{ID: 1, SenderID: 7, ReceiverID: 42, Body: "after"}, nil).Once()

	body, err := v.BeginEdit(1)
	require.NoError(t, err)
	assert.Equal(t, "before", body)
	assert.Equal(t, int64(1), v.Editing())

	require.NoError(t, v.Edit(context.Background(), 1, "after"))
	assert.Zero(t, v.Editing())

	snap := v.Snapshot()
	require.Len(t, snap.Messages, 2)
	want := original
	want.Body = "after"
	assert.Equal(t, want, snap.Messages[0])
	assert.Equal(t, "reply", snap.Messages[1].Body)
}

func TestEditFailureClearsMarkerAndReturnsError(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(1, 7, 42, "before")})
	b.On("Edit", mock.Anything, int64(1), "after").Return(message.Message{}, &chaterr.FetchError{Op: "edit", Status: 404}).Once()

	_, err := v.BeginEdit(1)
	require.NoError(t, err)
	err = v.Edit(context.Background(), 1, "after")
	require.Error(t, err)
	assert.Zero(t, v.Editing())
	assert.Equal(t, "before", v.Snapshot().Messages[0].Body)
}

func TestEditRejectsForeignMessage(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(2, 42, 7, "theirs")})

	_, err := v.BeginEdit(2)
	require.Error(t, err)
	require.Error(t, v.Edit(context.Background(), 2, "mine now"))
	require.Error(t, v.Edit(context.Background(), 99, "missing"))
	b.AssertNotCalled(t, "Edit", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteRemovesExactlyOneEntry(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(1, 7, 42, "a"), msg(2, 42, 7, "b"), msg(3, 7, 42, "c")})
	b.On("Delete", mock.Anything, int64(3)).Return(api.DeleteResult{Status: "deleted", MessageID: 3}, nil).Once()

	require.NoError(t, v.Delete(context.Background(), 3))
	assert.Equal(t, []int64{1, 2}, ids(v))
}

func TestDeleteFailureKeepsEntry(t *testing.T) {
	b := &mockBackend{}
	v := liveView(t, b, 42, []message.Message{msg(1, 7, 42, "a")})
	b.On("Delete", mock.Anything, int64(1)).Return(api.DeleteResult{}, &chaterr.FetchError{Op: "delete", Status: 500}).Once()

	require.Error(t, v.Delete(context.Background(), 1))
	assert.Equal(t, []int64{1}, ids(v))
}

func TestDeselectDropsEverything(t *testing.T) {
	b := &mockBackend{}
	var snaps []Snapshot
	v := liveView(t, b, 42, []message.Message{msg(1, 42, 7, "hi")}, WithListener(func(s Snapshot) { snaps = append(snaps, s) }))

	v.Deselect()
	assert.Equal(t, NoConversation, v.State())
	assert.Empty(t, v.Snapshot().Messages)
	v.HandleEvent(msg(2, 42, 7, "late"))
	assert.Empty(t, v.Snapshot().Messages)
	require.NotEmpty(t, snaps)
	assert.Equal(t, NoConversation, snaps[len(snaps)-1].State)
}

func TestAttachmentURL(t *testing.T) {
	v := newView(&mockBackend{})
	assert.Equal(t, "http://api.test/uploads/7/a.png", v.AttachmentURL(message.Attachment{Path: "uploads/7/a.png"}))
}
