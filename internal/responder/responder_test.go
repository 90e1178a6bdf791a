package responder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zenj-service/internal/models"
)

func TestCannedReplies(t *testing.T) {
	ctx := context.Background()

	r, err := Canned{}.Respond(ctx, Request{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", r.Content)

	r, err = Canned{}.Respond(ctx, Request{MediaType: models.MessageAudio})
	require.NoError(t, err)
	assert.Equal(t, "I listened to your voice note.", r.Content)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Canned{}.Respond(cancelled, Request{Content: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFuncAdapter(t *testing.T) {
	var got Request
	f := Func(func(_ context.Context, req Request) (Reply, error) {
		got = req
		return Reply{Content: "ok"}, nil
	})
	r, err := f.Respond(context.Background(), Request{Persona: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", r.Content)
	assert.Equal(t, "p", got.Persona)
}
