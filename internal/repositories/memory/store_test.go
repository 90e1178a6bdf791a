package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenj-service/internal/models"
	"zenj-service/internal/repositories"
)

func seed(t *testing.T, s *Store, conv string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, s.InsertMessage(context.Background(), models.Message{
			ID: fmt.Sprintf("%s-%d", conv, i), ConversationID: conv, Seq: int64(i),
			Status: models.StatusSent, Type: models.MessageText, CreatedAt: time.Now(),
		}))
	}
}

func TestListMessagesCursor(t *testing.T) {
	s := NewStore()
	seed(t, s, "c", 5)

	page, err := s.ListMessages(context.Background(), "c", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, seqs(page))

	page, err = s.ListMessages(context.Background(), "c", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4, 5}, seqs(page))

	page, err = s.ListMessages(context.Background(), "c", 5, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestInsertRejectsStaleSeq(t *testing.T) {
	s := NewStore()
	seed(t, s, "c", 2)
	err := s.InsertMessage(context.Background(), models.Message{ID: "x", ConversationID: "c", Seq: 2})
	assert.Error(t, err)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateContact(ctx, models.Contact{ID: "g", IsGroup: true, Members: []string{"a", "b"}}))

	c, err := s.GetContact(ctx, "g")
	require.NoError(t, err)
	c.Members[0] = "mutated"

	again, err := s.GetContact(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Members[0])
}

func TestConcurrentReactionsCommute(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, "c", 1)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AddReaction(ctx, "c-1", "🔥", fmt.Sprintf("user-%d", i%10))
		}(i)
	}
	wg.Wait()

	m, err := s.GetMessage(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, m.Reactions["🔥"], 10)
}

func TestStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seed(t, s, "c", 1)

	require.NoError(t, s.UpdateStatus(ctx, "c-1", models.StatusRead))
	require.NoError(t, s.UpdateStatus(ctx, "c-1", models.StatusSent))
	m, err := s.GetMessage(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRead, m.Status)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "nope", models.StatusRead), repositories.ErrMessageNotFound)
}

func seqs(msgs []models.Message) []int64 {
	out := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Seq)
	}
	return out
}
