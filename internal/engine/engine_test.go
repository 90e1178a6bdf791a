package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/conversation"
	"zenj-service/internal/db"
	"zenj-service/internal/directory"
	"zenj-service/internal/models"
	"zenj-service/internal/notifier"
	"zenj-service/internal/repositories"
	"zenj-service/internal/repositories/memory"
	"zenj-service/internal/responder"
)

type typingCall struct {
	conversationID string
	actorID        string
	started        bool
}

type recordingPresence struct {
	mu     sync.Mutex
	typing []typingCall
	events []models.Event
	closed []string
}

func (p *recordingPresence) PublishTyping(conversationID, actorID string, started bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, typingCall{conversationID, actorID, started})
}

func (p *recordingPresence) Broadcast(conversationID string, event models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPresence) CloseRoom(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, conversationID)
}

func (p *recordingPresence) Members(string) []string { return nil }

func (p *recordingPresence) typingCalls() []typingCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]typingCall(nil), p.typing...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notifier.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note notifier.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type fixture struct {
	engine   *Engine
	dir      *directory.Service
	log      *conversation.Log
	presence *recordingPresence
	notifier *recordingNotifier
}

type stores struct {
	users    repositories.UserRepository
	contacts repositories.ContactRepository
	messages repositories.MessageRepository
}

func memoryStores(*testing.T) stores {
	store := memory.NewStore()
	return stores{users: store, contacts: store, messages: store}
}

// sqliteStores backs the fixture with the SQL repositories, which honor
// context deadlines unlike the memory store.
func sqliteStores(t *testing.T) stores {
	t.Helper()
	conn, err := db.Connect(db.DriverSQLite, filepath.Join(t.TempDir(), "engine.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return stores{
		users:    repositories.NewUserRepo(conn),
		contacts: repositories.NewContactRepo(conn),
		messages: repositories.NewMessageRepo(conn),
	}
}

var backends = map[string]func(*testing.T) stores{
	"memory": memoryStores,
	"sqlite": sqliteStores,
}

func newFixture(t *testing.T, r responder.Responder) *fixture {
	t.Helper()
	return newFixtureOn(t, memoryStores(t), r)
}

func newFixtureOn(t *testing.T, st stores, r responder.Responder) *fixture {
	t.Helper()
	dir := directory.New(st.users, st.contacts, zap.NewNop())
	log := conversation.New(st.messages, dir, zap.NewNop())
	dir.SetPurger(log)
	p := &recordingPresence{}
	n := &recordingNotifier{}
	e := New(dir, log, p, r, n, Config{ResponderTimeout: time.Second}, zap.NewNop())
	return &fixture{engine: e, dir: dir, log: log, presence: p, notifier: n}
}

func (f *fixture) contact(t *testing.T, actor, name string) models.Contact {
	t.Helper()
	c, err := f.dir.CreateContact(context.Background(), actor, models.ContactSpec{Name: name})
	require.NoError(t, err)
	return c
}

func echo() responder.Responder {
	return responder.Func(func(_ context.Context, req responder.Request) (responder.Reply, error) {
		return responder.Reply{Content: "re: " + req.Content}, nil
	})
}

func TestSendAppendsReplyAndBumpsUnreadWhenUnfocused(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	res, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: " hi "})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Message.Content)
	assert.Equal(t, int64(1), res.Message.Seq)
	require.NotNil(t, res.Reply)
	assert.Equal(t, "re: hi", res.Reply.Content)
	assert.Equal(t, models.SenderAssistant, res.Reply.SenderID)
	assert.Equal(t, "Zed", res.Reply.SenderName)
	assert.Equal(t, int64(2), res.Reply.Seq)
	assert.Nil(t, res.Failure)

	got, err := f.dir.Contact(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Equal(t, "re: hi", got.LastMessage)
	assert.Equal(t, 1, f.notifier.count())

	calls := f.presence.typingCalls()
	require.Len(t, calls, 2)
	assert.True(t, calls[0].started)
	assert.False(t, calls[1].started)

	state, err := f.engine.State(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.False(t, state.AwaitingReply)
}

func TestSendWhileFocusedKeepsUnreadAtZero(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	_, err := f.engine.Select(ctx, "A", c.ID)
	require.NoError(t, err)
	_, err = f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
	require.NoError(t, err)

	got, err := f.dir.Contact(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
	assert.Zero(t, f.notifier.count())
}

func TestSelectResetsUnread(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	for i := 0; i < 2; i++ {
		_, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
		require.NoError(t, err)
	}
	got, err := f.engine.Select(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)

	id, ok := f.engine.Focused("A")
	assert.True(t, ok)
	assert.Equal(t, c.ID, id)

	f.engine.Unfocus("A")
	_, ok = f.engine.Focused("A")
	assert.False(t, ok)
}

func TestMutedContactIsNotNotified(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")
	muted := true
	_, err := f.dir.UpdateContact(ctx, "A", c.ID, models.ContactPatch{Muted: &muted})
	require.NoError(t, err)

	_, err = f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
	require.NoError(t, err)
	assert.Zero(t, f.notifier.count())

	got, err := f.dir.Contact(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	_, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "   "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Type: "video", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.engine.Send(ctx, "A", "missing", models.OutgoingMessage{Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	_, err = f.engine.Send(ctx, "B", c.ID, models.OutgoingMessage{Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	page, err := f.log.Read(ctx, c.ID, models.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestSendMediaUsesPlaceholder(t *testing.T) {
	var got responder.Request
	f := newFixture(t, responder.Func(func(_ context.Context, req responder.Request) (responder.Reply, error) {
		got = req
		return responder.Reply{Content: "nice"}, nil
	}))
	c := f.contact(t, "A", "Zed")

	res, err := f.engine.Send(context.Background(), "A", c.ID, models.OutgoingMessage{Type: models.MessageImage, MediaRef: "blob://1"})
	require.NoError(t, err)
	assert.Equal(t, "Image", res.Message.Content)
	assert.Equal(t, models.MessageImage, got.MediaType)
	assert.Equal(t, "blob://1", got.MediaRef)
	assert.Equal(t, models.DefaultPersona, got.Persona)
}

func TestBlockedConversationRejectsSendAndSelect(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	_, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "before"})
	require.NoError(t, err)
	_, err = f.engine.Select(ctx, "A", c.ID)
	require.NoError(t, err)

	_, err = f.engine.Block(ctx, "A", c.ID)
	require.NoError(t, err)
	_, ok := f.engine.Focused("A")
	assert.False(t, ok)

	_, err = f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	_, err = f.engine.Select(ctx, "A", c.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.ErrorIs(t, f.engine.CanAccess(ctx, "A", c.ID), apperr.ErrInvalidState)

	_, err = f.engine.Unblock(ctx, "A", c.ID)
	require.NoError(t, err)
	page, err := f.engine.Read(ctx, "A", c.ID, models.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
}

func TestResponderFailureAppendsFailureRecord(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixtureOn(t, backend(t), responder.Func(func(context.Context, responder.Request) (responder.Reply, error) {
				return responder.Reply{}, errors.New("model offline")
			}))
			ctx := context.Background()
			c := f.contact(t, "A", "Zed")

			res, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrResponder)
			assert.Equal(t, "hi", res.Message.Content)
			assert.Nil(t, res.Reply)
			require.NotNil(t, res.Failure)
			assert.Equal(t, models.SubtypeResponderFailure, res.Failure.Subtype)
			assert.Equal(t, models.SenderSystem, res.Failure.SenderID)

			got, err := f.dir.Contact(ctx, "A", c.ID)
			require.NoError(t, err)
			assert.Zero(t, got.UnreadCount)
			assert.Zero(t, f.notifier.count())

			state, err := f.engine.State(ctx, "A", c.ID)
			require.NoError(t, err)
			assert.False(t, state.AwaitingReply)

			calls := f.presence.typingCalls()
			require.NotEmpty(t, calls)
			assert.False(t, calls[len(calls)-1].started)
		})
	}
}

func TestResponderTimeoutLeavesFailureRecord(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixtureOn(t, backend(t), responder.Func(func(ctx context.Context, _ responder.Request) (responder.Reply, error) {
				<-ctx.Done()
				return responder.Reply{}, ctx.Err()
			}))
			f.engine.cfg.ResponderTimeout = 20 * time.Millisecond
			ctx := context.Background()
			c := f.contact(t, "A", "Zed")

			res, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
			assert.ErrorIs(t, err, apperr.ErrResponder)
			assert.ErrorIs(t, err, context.DeadlineExceeded)
			require.NotNil(t, res.Failure)

			page, err := f.log.Read(ctx, c.ID, models.PageRequest{})
			require.NoError(t, err)
			require.Len(t, page.Messages, 2)
			assert.Equal(t, "hi", page.Messages[0].Content)
			assert.Equal(t, models.SubtypeResponderFailure, page.Messages[1].Subtype)

			got, err := f.dir.Contact(ctx, "A", c.ID)
			require.NoError(t, err)
			assert.Equal(t, models.Snippet(failureNotice), got.LastMessage)
		})
	}
}

func TestReplyAfterDeadlineIsStillRecorded(t *testing.T) {
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			f := newFixtureOn(t, backend(t), responder.Func(func(ctx context.Context, _ responder.Request) (responder.Reply, error) {
				<-ctx.Done()
				return responder.Reply{Content: "just in time"}, nil
			}))
			f.engine.cfg.ResponderTimeout = 20 * time.Millisecond
			ctx := context.Background()
			c := f.contact(t, "A", "Zed")

			res, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
			require.NoError(t, err)
			require.NotNil(t, res.Reply)
			assert.Equal(t, "just in time", res.Reply.Content)

			got, err := f.dir.Contact(ctx, "A", c.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, got.UnreadCount)
			assert.Equal(t, 1, f.notifier.count())
		})
	}
}

func TestSendsToDistinctConversationsDoNotBlock(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, responder.Func(func(_ context.Context, req responder.Request) (responder.Reply, error) {
		if req.Content == "to a" {
			<-release
		}
		return responder.Reply{Content: "re: " + req.Content}, nil
	}))
	ctx := context.Background()
	a := f.contact(t, "A", "Ann")
	b := f.contact(t, "A", "Bob")

	_, results, err := f.engine.SendAsync(ctx, "A", a.ID, models.OutgoingMessage{Content: "to a"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		res, err := f.engine.Send(ctx, "A", b.ID, models.OutgoingMessage{Content: "to b"})
		if err == nil && (res.Reply == nil || res.Reply.Content != "re: to b") {
			err = errors.New("missing reply for b")
		}
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("send to b waited on the pending turn of a")
	}

	state, err := f.engine.State(ctx, "A", a.ID)
	require.NoError(t, err)
	assert.True(t, state.AwaitingReply)

	close(release)
	out := <-results
	require.NoError(t, out.Err)
	require.NotNil(t, out.Result.Reply)
	require.NoError(t, f.engine.Wait(ctx))
}

func TestCallerCancellationDoesNotAbortTurn(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, responder.Func(func(ctx context.Context, req responder.Request) (responder.Reply, error) {
		<-release
		return responder.Reply{Content: "late"}, ctx.Err()
	}))
	c := f.contact(t, "A", "Zed")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
		done <- res
	}()
	require.Eventually(t, func() bool { return len(f.presence.typingCalls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(release)

	res := <-done
	require.NotNil(t, res.Reply)
	assert.Equal(t, "late", res.Reply.Content)
}

func TestSecondSendWhileAwaitingIsRejected(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, responder.Func(func(context.Context, responder.Request) (responder.Reply, error) {
		<-release
		return responder.Reply{Content: "ok"}, nil
	}))
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	msg, results, err := f.engine.SendAsync(ctx, "A", c.ID, models.OutgoingMessage{Content: "first", ClientMessageID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "first", msg.Content)

	state, err := f.engine.State(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.True(t, state.AwaitingReply)

	_, err = f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "second"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	dup, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "first", ClientMessageID: "c-1"})
	require.NoError(t, err)
	assert.True(t, dup.Duplicate)
	assert.Equal(t, msg.ID, dup.Message.ID)

	close(release)
	out := <-results
	require.NoError(t, out.Err)
	require.NotNil(t, out.Result.Reply)
	require.NoError(t, f.engine.Wait(ctx))

	page, err := f.log.Read(ctx, c.ID, models.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 2)
}

func TestResubmittedClientMessageIsNotAppendedTwice(t *testing.T) {
	calls := 0
	f := newFixture(t, responder.Func(func(context.Context, responder.Request) (responder.Reply, error) {
		calls++
		return responder.Reply{Content: "ok"}, nil
	}))
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	first, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi", ClientMessageID: "c-1"})
	require.NoError(t, err)
	again, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi", ClientMessageID: "c-1"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Message.ID, again.Message.ID)
	assert.Equal(t, 1, calls)
}

func TestGroupSendIsAcknowledgedByGuardian(t *testing.T) {
	called := false
	f := newFixture(t, responder.Func(func(context.Context, responder.Request) (responder.Reply, error) {
		called = true
		return responder.Reply{}, nil
	}))
	ctx := context.Background()
	g, err := f.dir.CreateContact(ctx, "A", models.ContactSpec{Name: "Team", IsGroup: true, Members: []string{"A", "B"}})
	require.NoError(t, err)

	res, err := f.engine.Send(ctx, "B", g.ID, models.OutgoingMessage{Content: "hello all"})
	require.NoError(t, err)
	assert.False(t, called)
	require.NotNil(t, res.Reply)
	assert.Equal(t, models.SenderGuardian, res.Reply.SenderID)
	assert.Equal(t, models.GuardianName, res.Reply.SenderName)
	assert.Equal(t, `Zen Guardian: Acknowledged. I am watching over "Team".`, res.Reply.Content)

	calls := f.presence.typingCalls()
	require.NotEmpty(t, calls)
	assert.Equal(t, models.SenderGuardian, calls[0].actorID)
}

func TestResponderReceivesPriorHistory(t *testing.T) {
	var history [][]models.Message
	f := newFixture(t, responder.Func(func(_ context.Context, req responder.Request) (responder.Reply, error) {
		history = append(history, req.History)
		return responder.Reply{Content: "ok"}, nil
	}))
	ctx := context.Background()
	c := f.contact(t, "A", "Zed")

	_, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "one"})
	require.NoError(t, err)
	_, err = f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "two"})
	require.NoError(t, err)

	require.Len(t, history, 2)
	assert.Empty(t, history[0])
	require.Len(t, history[1], 2)
	assert.Equal(t, "one", history[1][0].Content)
	assert.Equal(t, "ok", history[1][1].Content)
}

func TestReactAndMarkStatus(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	_, err := f.dir.RegisterUser(ctx, "A", "Ada", "")
	require.NoError(t, err)
	c := f.contact(t, "A", "Zed")

	res, err := f.engine.Send(ctx, "A", c.ID, models.OutgoingMessage{Content: "hi"})
	require.NoError(t, err)

	m, err := f.engine.React(ctx, "A", res.Message.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada"}, m.Reactions["👍"])
	m, err = f.engine.React(ctx, "A", res.Message.ID, "👍")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada"}, m.Reactions["👍"])

	_, err = f.engine.React(ctx, "B", res.Message.ID, "👍")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	m, err = f.engine.MarkStatus(ctx, "A", res.Message.ID, models.StatusRead)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, m.Status)
	m, err = f.engine.MarkStatus(ctx, "A", res.Message.ID, models.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, m.Status)

	_, err = f.engine.MarkStatus(ctx, "A", res.Message.ID, models.StatusSent)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteGroupClosesRoom(t *testing.T) {
	f := newFixture(t, echo())
	ctx := context.Background()
	g, err := f.dir.CreateContact(ctx, "A", models.ContactSpec{Name: "Team", IsGroup: true, Members: []string{"A", "B"}})
	require.NoError(t, err)
	_, err = f.engine.Send(ctx, "A", g.ID, models.OutgoingMessage{Content: "hi"})
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.DeleteGroup(ctx, "B", g.ID), apperr.ErrPermission)
	require.NoError(t, f.engine.DeleteGroup(ctx, "A", g.ID))
	assert.Equal(t, []string{g.ID}, f.presence.closed)

	_, err = f.dir.Contact(ctx, "A", g.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
