package chat

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/estudemais/estude-mais/internal/models"
)

// StreamErrorText replaces the placeholder text when a stream fails.
const StreamErrorText = "Erro: Não foi possível analisar no momento. Verifique sua conexão ou tente novamente."

// FragmentStream is a live, resumable cursor over the model's response.
// Recv pulls one fragment at a time; io.EOF signals a clean end.
type FragmentStream interface {
	Recv() (string, error)
}

// Apply runs a functional update against the current transcript of one
// conversation. Implementations must take the latest transcript, pass it
// to update and store the result atomically, so concurrent unrelated state
// changes are never clobbered.
type Apply func(update func(msgs []models.Message) []models.Message)

// NewExchange builds the user message and the empty model placeholder that
// are appended together in one atomic update.
func NewExchange(question string) (user models.Message, placeholder models.Message) {
	now := time.Now().UnixMilli()
	user = models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Text:      question,
		Timestamp: now,
	}
	placeholder = models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleModel,
		Text:      "",
		Timestamp: now,
	}
	return user, placeholder
}

// ReplaceByID returns a copy of msgs with the message carrying id replaced
// by fn's result. Unknown ids leave the transcript untouched.
func ReplaceByID(msgs []models.Message, id string, fn func(models.Message) models.Message) []models.Message {
	out := append([]models.Message(nil), msgs...)
	for i := range out {
		if out[i].ID == id {
			out[i] = fn(out[i])
			return out
		}
	}
	return out
}

// Fold consumes the stream fragment by fragment, replacing the placeholder
// text with the full accumulator after each arrival. On failure the
// placeholder gets the error text and its error flag; the accumulated text
// so far is returned either way.
func Fold(ctx context.Context, stream FragmentStream, placeholderID string, apply Apply) (string, error) {
	accumulated := ""
	for {
		if err := ctx.Err(); err != nil {
			Fail(apply, placeholderID)
			return accumulated, err
		}

		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return accumulated, nil
		}
		if err != nil {
			Fail(apply, placeholderID)
			return accumulated, err
		}

		accumulated += fragment
		text := accumulated
		apply(func(msgs []models.Message) []models.Message {
			return ReplaceByID(msgs, placeholderID, func(m models.Message) models.Message {
				m.Text = text
				return m
			})
		})
	}
}

// Fail marks the placeholder as a failed response.
func Fail(apply Apply, placeholderID string) {
	apply(func(msgs []models.Message) []models.Message {
		return ReplaceByID(msgs, placeholderID, func(m models.Message) models.Message {
			m.Text = StreamErrorText
			m.IsError = true
			return m
		})
	})
}
