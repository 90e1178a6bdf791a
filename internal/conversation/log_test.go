package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"zenj-service/internal/apperr"
	"zenj-service/internal/directory"
	"zenj-service/internal/models"
	"zenj-service/internal/repositories/memory"
)

type fixture struct {
	dir *directory.Service
	log *Log
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	dir := directory.New(store, store, zap.NewNop())
	log := New(store, dir, zap.NewNop())
	dir.SetPurger(log)
	return fixture{dir: dir, log: log}
}

func (f fixture) contact(t *testing.T, owner string) models.Contact {
	t.Helper()
	c, err := f.dir.CreateContact(context.Background(), owner, models.ContactSpec{Name: "Zed"})
	require.NoError(t, err)
	return c
}

func text(content string) models.Message {
	return models.Message{SenderID: "alice", SenderName: "Alice", Content: content}
}

func TestAppendAssignsPositionsAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")

	m1, err := f.log.Append(ctx, c.ID, text("hello"))
	require.NoError(t, err)
	m2, err := f.log.Append(ctx, c.ID, text("a message that is definitely longer than forty characters"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), m1.Seq)
	assert.Equal(t, int64(2), m2.Seq)
	assert.NotEmpty(t, m1.ID)
	assert.Equal(t, models.StatusSent, m1.Status)
	assert.Equal(t, models.MessageText, m1.Type)

	got, err := f.dir.Contact(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a message that is definitely longer than", got.LastMessage)
	assert.Len(t, []rune(got.LastMessage), models.SnippetLength)
	require.NotNil(t, got.LastMessageAt)
	assert.True(t, got.LastMessageAt.Equal(m2.CreatedAt))
	assert.Zero(t, got.UnreadCount)

	_, err = f.log.Append(ctx, c.ID, text("bump"), WithUnreadBump(true))
	require.NoError(t, err)
	got, err = f.dir.Contact(ctx, "alice", c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)
}

func TestAppendClampsTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.log.SetClock(func() time.Time { return now })
	first, err := f.log.Append(ctx, c.ID, text("one"))
	require.NoError(t, err)

	now = now.Add(-time.Minute)
	second, err := f.log.Append(ctx, c.ID, text("two"))
	require.NoError(t, err)

	assert.False(t, second.CreatedAt.Before(first.CreatedAt))
	assert.Greater(t, second.Seq, first.Seq)
}

func TestAppendRejectsUnknownAndBlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")

	_, err := f.log.Append(ctx, "missing", text("x"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.dir.Block(ctx, "alice", c.ID)
	require.NoError(t, err)
	_, err = f.log.Append(ctx, c.ID, text("x"))
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	page, err := f.log.Read(ctx, c.ID, models.PageRequest{})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)

	_, err = f.log.Append(ctx, c.ID, models.Message{Type: "video"})
	assert.Error(t, err)
}

func TestReadPagesAreRestartable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")
	for i := 0; i < 7; i++ {
		_, err := f.log.Append(ctx, c.ID, text(fmt.Sprintf("m%d", i)))
		require.NoError(t, err)
	}

	var all []models.Message
	req := models.PageRequest{Limit: 3}
	for {
		page, err := f.log.Read(ctx, c.ID, req)
		require.NoError(t, err)
		all = append(all, page.Messages...)
		if page.Next == 0 {
			break
		}
		req.After = page.Next
	}
	require.Len(t, all, 7)
	for i, m := range all {
		assert.Equal(t, int64(i+1), m.Seq)
	}

	_, err := f.log.Read(ctx, c.ID, models.PageRequest{After: -1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.log.Read(ctx, "missing", models.PageRequest{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestReactIsIdempotentAndCommutative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")
	m, err := f.log.Append(ctx, c.ID, text("hi"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, name := range []string{"Ada", "Bo", "Ada", "Cy", "Bo"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := f.log.React(ctx, m.ID, "❤️", name)
			assert.NoError(t, err)
		}(name)
	}
	wg.Wait()

	got, err := f.log.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Ada", "Bo", "Cy"}, got.Reactions["❤️"])

	_, err = f.log.React(ctx, "missing", "❤️", "Ada")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.log.React(ctx, m.ID, "", "Ada")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestStatusIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")
	m, err := f.log.Append(ctx, c.ID, text("hi"))
	require.NoError(t, err)

	got, err := f.log.MarkRead(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, got.Status)

	got, err = f.log.MarkDelivered(ctx, m.ID)
	require.NoError(t, err, "regression is a no-op, not an error")
	assert.Equal(t, models.StatusRead, got.Status)

	_, err = f.log.MarkRead(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestBlockUnblockKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")
	for _, s := range []string{"a", "b"} {
		_, err := f.log.Append(ctx, c.ID, text(s))
		require.NoError(t, err)
	}
	before, err := f.log.Read(ctx, c.ID, models.PageRequest{})
	require.NoError(t, err)

	_, err = f.dir.Block(ctx, "alice", c.ID)
	require.NoError(t, err)
	_, err = f.dir.Unblock(ctx, "alice", c.ID)
	require.NoError(t, err)

	after, err := f.log.Read(ctx, c.ID, models.PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeleteGroupPurgesLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.dir.CreateContact(ctx, "alice", models.ContactSpec{Name: "G", IsGroup: true, Members: []string{"alice", "bob"}})
	require.NoError(t, err)
	m, err := f.log.Append(ctx, g.ID, text("hi"))
	require.NoError(t, err)

	require.NoError(t, f.dir.DeleteGroup(ctx, "alice", g.ID))

	_, err = f.log.Get(ctx, m.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, found, err := f.log.FindByClientID(ctx, g.ID, "anything")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestConcurrentAppendsKeepTotalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.contact(t, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.log.Append(ctx, c.ID, text(fmt.Sprintf("m%d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	page, err := f.log.Read(ctx, c.ID, models.PageRequest{Limit: 100})
	require.NoError(t, err)
	require.Len(t, page.Messages, 40)
	for i := 1; i < len(page.Messages); i++ {
		prev, cur := page.Messages[i-1], page.Messages[i]
		assert.Equal(t, prev.Seq+1, cur.Seq)
		assert.False(t, cur.CreatedAt.Before(prev.CreatedAt))
	}
}
