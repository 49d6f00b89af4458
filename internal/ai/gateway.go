package ai

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/estudemais/estude-mais/internal/chat"
	"github.com/estudemais/estude-mais/internal/models"
)

var (
	// ErrMissingAPIKey means no credential could be resolved at all. The
	// caller should prompt the user to enter one.
	ErrMissingAPIKey = errors.New("API Key não configurada. Por favor, adicione sua chave nas configurações.")
	// ErrInvalidAPIKey is the stable classification for upstream failures
	// that blame the credential, so the caller can prompt for re-entry
	// instead of showing a raw upstream string.
	ErrInvalidAPIKey = errors.New("API Key inválida ou ausente. Verifique as configurações.")
)

// Gateway is the thin request/response wrapper around the generative-AI
// API. All operations are stateless; conversation context travels in the
// arguments.
type Gateway interface {
	// StreamAnswer asks the tutor a question over the attached files and
	// prior turns. The returned stream is finite and not restartable.
	StreamAnswer(ctx context.Context, question string, files []models.StoredFile, history []models.Message) (chat.FragmentStream, error)
	// GenerateFlashcards produces question/answer pairs from the files.
	// An upstream response with no content yields an empty slice, not an
	// error.
	GenerateFlashcards(ctx context.Context, files []models.StoredFile) ([]models.Flashcard, error)
	// AnalyzeNotice extracts a formatted report from an exam notice. It
	// never fails for "nothing extracted", only for transport or
	// credential problems.
	AnalyzeNotice(ctx context.Context, file models.StoredFile) (string, error)
}

// KeySource supplies a persisted credential, typically backed by the
// metadata store.
type KeySource func() string

// ResolveAPIKey picks the credential: explicitly passed value, then the
// persisted one, then the environment. Absence of all three is a
// configuration error, not a crash.
func ResolveAPIKey(explicit string, stored KeySource) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if stored != nil {
		if key := stored(); key != "" {
			return key, nil
		}
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		return key, nil
	}
	if key := os.Getenv("API_KEY"); key != "" {
		return key, nil
	}
	return "", ErrMissingAPIKey
}

// classifyUpstream rewrites credential complaints from the API into the
// stable invalid-key error and passes everything else through.
func classifyUpstream(message string) error {
	if strings.Contains(strings.ToLower(message), "api key") {
		return ErrInvalidAPIKey
	}
	return nil
}
