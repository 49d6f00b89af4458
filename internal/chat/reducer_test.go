package chat_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estudemais/estude-mais/internal/chat"
	"github.com/estudemais/estude-mais/internal/models"
)

type scriptedStream struct {
	fragments []string
	err       error
	next      int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.next < len(s.fragments) {
		fragment := s.fragments[s.next]
		s.next++
		return fragment, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

// transcript drives the reducer against a plain message slice, recording
// the placeholder text after every state update.
type transcript struct {
	msgs   []models.Message
	id     string
	states []string
}

func newTranscript(question string) *transcript {
	user, placeholder := chat.NewExchange(question)
	tr := &transcript{
		msgs: []models.Message{user, placeholder},
		id:   placeholder.ID,
	}
	tr.states = append(tr.states, placeholder.Text)
	return tr
}

func (tr *transcript) apply(update func(msgs []models.Message) []models.Message) {
	tr.msgs = update(tr.msgs)
	for _, m := range tr.msgs {
		if m.ID == tr.id {
			tr.states = append(tr.states, m.Text)
		}
	}
}

func (tr *transcript) placeholder() models.Message {
	for _, m := range tr.msgs {
		if m.ID == tr.id {
			return m
		}
	}
	return models.Message{}
}

func TestFold_AppliesFragmentsInArrivalOrder(t *testing.T) {
	tr := newTranscript("Diga olá")
	stream := &scriptedStream{fragments: []string{"Ol", "á, ", "mundo"}}

	final, err := chat.Fold(context.Background(), stream, tr.id, tr.apply)
	require.NoError(t, err)

	assert.Equal(t, "Olá, mundo", final)
	assert.Equal(t, []string{"", "Ol", "Olá, ", "Olá, mundo"}, tr.states)

	placeholder := tr.placeholder()
	assert.Equal(t, "Olá, mundo", placeholder.Text)
	assert.False(t, placeholder.IsError)
}

func TestFold_EmptyStream(t *testing.T) {
	tr := newTranscript("?")

	final, err := chat.Fold(context.Background(), &scriptedStream{}, tr.id, tr.apply)
	require.NoError(t, err)
	assert.Empty(t, final)
	assert.Equal(t, []string{""}, tr.states)
}

func TestFold_FailureMarksPlaceholder(t *testing.T) {
	tr := newTranscript("?")
	stream := &scriptedStream{
		fragments: []string{"parcial"},
		err:       errors.New("connection reset"),
	}

	_, err := chat.Fold(context.Background(), stream, tr.id, tr.apply)
	require.Error(t, err)

	placeholder := tr.placeholder()
	assert.Equal(t, chat.StreamErrorText, placeholder.Text)
	assert.True(t, placeholder.IsError)
}

func TestFold_ContextCancellation(t *testing.T) {
	tr := newTranscript("?")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chat.Fold(ctx, &scriptedStream{fragments: []string{"x"}}, tr.id, tr.apply)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, tr.placeholder().IsError)
}

func TestFold_UnknownIDLeavesTranscriptIntact(t *testing.T) {
	tr := newTranscript("?")
	before := append([]models.Message(nil), tr.msgs...)

	_, err := chat.Fold(context.Background(), &scriptedStream{fragments: []string{"x"}}, "missing-id", tr.apply)
	require.NoError(t, err)
	assert.Equal(t, before, tr.msgs)
}

func TestReplaceByID_DoesNotMutateInput(t *testing.T) {
	msgs := []models.Message{
		{ID: "a", Text: "one"},
		{ID: "b", Text: "two"},
	}

	out := chat.ReplaceByID(msgs, "b", func(m models.Message) models.Message {
		m.Text = "changed"
		return m
	})

	assert.Equal(t, "two", msgs[1].Text)
	assert.Equal(t, "changed", out[1].Text)
	assert.Equal(t, "one", out[0].Text)
}

func TestNewExchange(t *testing.T) {
	user, placeholder := chat.NewExchange("Resuma o capítulo 1")

	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, "Resuma o capítulo 1", user.Text)
	assert.Equal(t, models.RoleModel, placeholder.Role)
	assert.Empty(t, placeholder.Text)
	assert.NotEqual(t, user.ID, placeholder.ID)
	assert.NotZero(t, user.Timestamp)
}
