package session_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/estudemais/estude-mais/internal/ai"
	"github.com/estudemais/estude-mais/internal/chat"
	"github.com/estudemais/estude-mais/internal/models"
	"github.com/estudemais/estude-mais/internal/persist"
	"github.com/estudemais/estude-mais/internal/session"
	"github.com/estudemais/estude-mais/internal/storage"
)

const testEmail = "aluno@example.com"

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

type fakeGateway struct {
	fragments   []string
	streamErr   error
	midErr      error
	cards       []models.Flashcard
	cardsErr    error
	analysis    string
	analysisErr error

	gotQuestion string
	gotFiles    []models.StoredFile
	gotHistory  []models.Message
}

func (g *fakeGateway) StreamAnswer(ctx context.Context, question string, files []models.StoredFile, history []models.Message) (chat.FragmentStream, error) {
	g.gotQuestion = question
	g.gotFiles = files
	g.gotHistory = history
	if g.streamErr != nil {
		return nil, g.streamErr
	}
	return &scriptedStream{fragments: g.fragments, err: g.midErr}, nil
}

func (g *fakeGateway) GenerateFlashcards(ctx context.Context, files []models.StoredFile) ([]models.Flashcard, error) {
	g.gotFiles = files
	return g.cards, g.cardsErr
}

func (g *fakeGateway) AnalyzeNotice(ctx context.Context, file models.StoredFile) (string, error) {
	g.gotFiles = []models.StoredFile{file}
	return g.analysis, g.analysisErr
}

type fixture struct {
	meta    storage.MetadataStore
	blobs   storage.BlobStore
	coord   *persist.Coordinator
	gateway *fakeGateway
	sess    *session.Session
}

func newFixture(t *testing.T, meta storage.MetadataStore) *fixture {
	t.Helper()
	if meta == nil {
		meta = storage.NewMemoryMetadataStore(0)
	}
	blobs := storage.NewMemoryBlobStore()
	coord := persist.NewCoordinator(meta, blobs, testEmail, 5*time.Millisecond, zap.NewNop())
	gateway := &fakeGateway{}
	user := models.UserProfile{Email: testEmail, Name: "Aluno"}
	sess := session.New(user, coord, gateway, zap.NewNop())
	require.NoError(t, sess.Load(context.Background()))
	return &fixture{meta: meta, blobs: blobs, coord: coord, gateway: gateway, sess: sess}
}

func TestStudyFlow_UploadAskAndStream(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.fragments = []string{"Cap", "ítulo ", "1 trata de..."}

	subject := fx.sess.CreateSubject("Direito Constitucional", "")
	file, err := fx.sess.AttachFile(subject.ID, "edital.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.NotEmpty(t, file.ID)

	require.NoError(t, fx.sess.AskSubject(ctx, subject.ID, "Resuma o capítulo 1"))

	got, ok := fx.sess.Subject(subject.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, models.RoleUser, got.Messages[0].Role)
	assert.Equal(t, "Resuma o capítulo 1", got.Messages[0].Text)
	assert.Equal(t, models.RoleModel, got.Messages[1].Role)
	assert.Equal(t, "Capítulo 1 trata de...", got.Messages[1].Text)
	assert.False(t, got.Messages[1].IsError)

	// The request carried the attached file and the (empty) prior history.
	assert.Equal(t, "Resuma o capítulo 1", fx.gateway.gotQuestion)
	require.Len(t, fx.gateway.gotFiles, 1)
	assert.Equal(t, file.ID, fx.gateway.gotFiles[0].ID)
	assert.Empty(t, fx.gateway.gotHistory)

	// After a persistence cycle the payload is in the blob store and the
	// metadata copy is stripped.
	fx.sess.Flush(ctx)
	payload, err := fx.blobs.Get(ctx, file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.Data, payload)
	raw, err := fx.meta.Get(ctx, "estudemais-subjects-"+testEmail)
	require.NoError(t, err)
	assert.NotContains(t, raw, file.Data)
}

func TestAskSubject_HistoryExcludesNewExchange(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.fragments = []string{"Primeira."}

	subject := fx.sess.CreateSubject("História", "")
	require.NoError(t, fx.sess.AskSubject(ctx, subject.ID, "Primeira pergunta"))

	fx.gateway.fragments = []string{"Segunda."}
	require.NoError(t, fx.sess.AskSubject(ctx, subject.ID, "Segunda pergunta"))

	// The second request sees the first exchange but not itself.
	require.Len(t, fx.gateway.gotHistory, 2)
	assert.Equal(t, "Primeira pergunta", fx.gateway.gotHistory[0].Text)
	assert.Equal(t, "Primeira.", fx.gateway.gotHistory[1].Text)

	got, _ := fx.sess.Subject(subject.ID)
	assert.Len(t, got.Messages, 4)
}

func TestAskSubject_StreamFailureMarksPlaceholder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.fragments = []string{"parcial"}
	fx.gateway.midErr = errors.New("connection reset")

	subject := fx.sess.CreateSubject("Matemática", "")
	err := fx.sess.AskSubject(ctx, subject.ID, "?")
	require.Error(t, err)

	got, _ := fx.sess.Subject(subject.ID)
	require.Len(t, got.Messages, 2)
	assert.True(t, got.Messages[1].IsError)
	assert.Equal(t, chat.StreamErrorText, got.Messages[1].Text)
}

func TestAskSubject_GatewayRefusalMarksPlaceholder(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.streamErr = ai.ErrMissingAPIKey

	subject := fx.sess.CreateSubject("Física", "")
	err := fx.sess.AskSubject(ctx, subject.ID, "?")
	assert.ErrorIs(t, err, ai.ErrMissingAPIKey)

	got, _ := fx.sess.Subject(subject.ID)
	require.Len(t, got.Messages, 2)
	assert.True(t, got.Messages[1].IsError)
}

func TestAskConcurso_SharesChatBehavior(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.analysis = "## Banca Organizadora\nCESPE"
	fx.gateway.fragments = []string{"A prova ", "é em março."}

	concurso, err := fx.sess.CreateConcurso(ctx, "TRF 2025", "edital.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "## Banca Organizadora\nCESPE", concurso.Analysis)

	require.NoError(t, fx.sess.AskConcurso(ctx, concurso.ID, "Quando é a prova?"))

	got, ok := fx.sess.Concurso(concurso.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "A prova é em março.", got.Messages[1].Text)

	// The concurso's single file rode along on the chat request.
	require.Len(t, fx.gateway.gotFiles, 1)
	assert.Equal(t, concurso.File.ID, fx.gateway.gotFiles[0].ID)
}

func TestGenerateFlashcards_MissingCredential(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.cardsErr = ai.ErrMissingAPIKey

	subject := fx.sess.CreateSubject("Química", "")
	_, err := fx.sess.AttachFile(subject.ID, "apostila.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	_, err = fx.sess.GenerateFlashcards(ctx, subject.ID)
	assert.ErrorIs(t, err, ai.ErrMissingAPIKey)

	// Existing cards are untouched on failure.
	got, _ := fx.sess.Subject(subject.ID)
	assert.Empty(t, got.Flashcards)
}

func TestGenerateFlashcards_ReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.cards = []models.Flashcard{{Question: "Q1", Answer: "A1"}}

	subject := fx.sess.CreateSubject("Biologia", "")
	_, err := fx.sess.AttachFile(subject.ID, "resumo.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	cards, err := fx.sess.GenerateFlashcards(ctx, subject.ID)
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	fx.gateway.cards = []models.Flashcard{{Question: "Q2", Answer: "A2"}, {Question: "Q3", Answer: "A3"}}
	_, err = fx.sess.GenerateFlashcards(ctx, subject.ID)
	require.NoError(t, err)

	got, _ := fx.sess.Subject(subject.ID)
	require.Len(t, got.Flashcards, 2)
	assert.Equal(t, "Q2", got.Flashcards[0].Question)
}

func TestGenerateFlashcards_NoFiles(t *testing.T) {
	fx := newFixture(t, nil)
	subject := fx.sess.CreateSubject("Geografia", "")

	_, err := fx.sess.GenerateFlashcards(context.Background(), subject.ID)
	assert.ErrorIs(t, err, session.ErrNoFiles)
}

func TestAttachFile_RejectsNonPDF(t *testing.T) {
	fx := newFixture(t, nil)
	subject := fx.sess.CreateSubject("Artes", "")

	_, err := fx.sess.AttachFile(subject.ID, "foto.png", "image/png", []byte{1, 2, 3})
	assert.ErrorIs(t, err, session.ErrUnsupportedFileType)
}

func TestDeleteSubject_CascadesBlobDeletion(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	subject := fx.sess.CreateSubject("Direito Penal", "")
	file, err := fx.sess.AttachFile(subject.ID, "codigo.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	fx.sess.Flush(ctx)
	_, err = fx.blobs.Get(ctx, file.ID)
	require.NoError(t, err)

	require.NoError(t, fx.sess.DeleteSubject(ctx, subject.ID))
	fx.sess.Flush(ctx)

	_, err = fx.blobs.Get(ctx, file.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, fx.sess.Subjects())
}

func TestDeleteConcurso_CascadesBlobDeletion(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.analysis = "análise"

	concurso, err := fx.sess.CreateConcurso(ctx, "MPU", "edital.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)

	fx.sess.Flush(ctx)
	require.NoError(t, fx.sess.DeleteConcurso(ctx, concurso.ID))
	fx.sess.Flush(ctx)

	_, err = fx.blobs.Get(ctx, concurso.File.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReloadedSessionHydratesPayloads(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	subject := fx.sess.CreateSubject("Português", "")
	file, err := fx.sess.AttachFile(subject.ID, "gramatica.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	fx.sess.Flush(ctx)

	// A fresh session over the same stores sees the skeleton and fills
	// the payload back in from the blob store.
	coord := persist.NewCoordinator(fx.meta, fx.blobs, testEmail, 5*time.Millisecond, zap.NewNop())
	reloaded := session.New(models.UserProfile{Email: testEmail}, coord, &fakeGateway{}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))

	got, ok := reloaded.Subject(subject.ID)
	require.True(t, ok)
	require.Len(t, got.Files, 1)
	assert.Equal(t, file.Data, got.Files[0].Data)
}

func TestQuotaFailureKeepsSessionUsable(t *testing.T) {
	ctx := context.Background()
	// A quota this small cannot hold any collection record.
	fx := newFixture(t, storage.NewMemoryMetadataStore(8))

	subject := fx.sess.CreateSubject("Filosofia", "uma matéria com descrição longa o bastante")
	fx.sess.Flush(ctx)

	assert.Contains(t, fx.sess.QuotaWarning(), "Armazenamento cheio")

	// In-memory state is unchanged and still usable.
	subjects := fx.sess.Subjects()
	require.Len(t, subjects, 1)
	assert.Equal(t, subject.ID, subjects[0].ID)
	fx.sess.CreateSubject("Sociologia", "")
	assert.Len(t, fx.sess.Subjects(), 2)
}

func TestCompleteFocusSession_UpdatesAndPersistsStats(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	require.NoError(t, fx.sess.CompleteFocusSession(ctx, 25))
	require.NoError(t, fx.sess.CompleteFocusSession(ctx, 25))

	stats := fx.sess.Stats()
	assert.Equal(t, 50, stats.TotalMinutes)
	assert.Equal(t, 2, stats.SessionsCompleted)
	assert.NotZero(t, stats.LastStudyDate)

	// Stats are saved immediately, no debounce.
	loaded, err := fx.coord.LoadStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats, loaded)
}

func TestFilePayload(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	subject := fx.sess.CreateSubject("Redação", "")
	file, err := fx.sess.AttachFile(subject.ID, "modelo.pdf", "application/pdf", []byte("%PDF-1.4 conteudo"))
	require.NoError(t, err)

	raw, err := fx.sess.FilePayload(subject.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 conteudo"), raw)

	_, err = fx.sess.FilePayload(subject.ID, "missing")
	assert.ErrorIs(t, err, session.ErrFileNotFound)

	// Reload over a corrupted blob: the preview fails for this file only.
	fx.sess.Flush(ctx)
	require.NoError(t, fx.blobs.Put(ctx, file.ID, "data:application/pdf;base64,not!!base64"))
	coord := persist.NewCoordinator(fx.meta, fx.blobs, testEmail, 5*time.Millisecond, zap.NewNop())
	reloaded := session.New(models.UserProfile{Email: testEmail}, coord, &fakeGateway{}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))

	_, err = reloaded.FilePayload(subject.ID, file.ID)
	assert.ErrorIs(t, err, session.ErrCorruptPayload)
}

func TestFilePayload_UnhydratedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	subject := fx.sess.CreateSubject("Literatura", "")
	file, err := fx.sess.AttachFile(subject.ID, "obra.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	fx.sess.Flush(ctx)

	// The blob vanishes out from under the metadata record; a reload yields
	// a skeleton whose payload cannot be previewed.
	require.NoError(t, fx.blobs.Delete(ctx, file.ID))
	coord := persist.NewCoordinator(fx.meta, fx.blobs, testEmail, 5*time.Millisecond, zap.NewNop())
	reloaded := session.New(models.UserProfile{Email: testEmail}, coord, &fakeGateway{}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))

	_, err = reloaded.FilePayload(subject.ID, file.ID)
	assert.ErrorIs(t, err, session.ErrPayloadUnavailable)
}

func TestUpdateNotes(t *testing.T) {
	fx := newFixture(t, nil)
	subject := fx.sess.CreateSubject("Inglês", "")

	require.NoError(t, fx.sess.UpdateNotes(subject.ID, "revisar phrasal verbs"))
	got, _ := fx.sess.Subject(subject.ID)
	assert.Equal(t, "revisar phrasal verbs", got.Notes)

	assert.ErrorIs(t, fx.sess.UpdateNotes("missing", "x"), session.ErrSubjectNotFound)
}

func TestRemoveFile_CascadesBlobDeletion(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)

	subject := fx.sess.CreateSubject("Espanhol", "")
	file, err := fx.sess.AttachFile(subject.ID, "verbos.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	fx.sess.Flush(ctx)

	require.NoError(t, fx.sess.RemoveFile(ctx, subject.ID, file.ID))
	fx.sess.Flush(ctx)

	_, err = fx.blobs.Get(ctx, file.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	got, _ := fx.sess.Subject(subject.ID)
	assert.Empty(t, got.Files)
}

func TestCreateConcurso_AnalysisFailureStoresNothing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, nil)
	fx.gateway.analysisErr = errors.New("upstream down")

	_, err := fx.sess.CreateConcurso(ctx, "TJ", "edital.pdf", "application/pdf", []byte("%PDF-1.4"))
	require.Error(t, err)
	assert.Empty(t, fx.sess.Concursos())
}
