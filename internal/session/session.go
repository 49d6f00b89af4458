package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/estudemais/estude-mais/internal/ai"
	"github.com/estudemais/estude-mais/internal/chat"
	"github.com/estudemais/estude-mais/internal/models"
	"github.com/estudemais/estude-mais/internal/persist"
)

// PDFMimeType is the only accepted upload type.
const PDFMimeType = "application/pdf"

var (
	ErrSubjectNotFound  = errors.New("subject not found")
	ErrConcursoNotFound = errors.New("concurso not found")
	ErrFileNotFound     = errors.New("file not found")

	// User-facing conditions keep the product's pt-BR wording.
	ErrUnsupportedFileType = errors.New("Por favor, envie apenas arquivos PDF.")
	ErrNoFiles             = errors.New("Esta matéria não possui arquivos para gerar flashcards.")
	ErrPayloadUnavailable  = errors.New("Conteúdo do arquivo não encontrado. Tente recarregar a página.")
	ErrCorruptPayload      = errors.New("O arquivo pode estar corrompido ou incompleto.")
)

// Session holds one user's in-memory state and the operations the UI
// calls. Every mutation is a functional, id-keyed update under the session
// lock and schedules a debounced persistence run.
type Session struct {
	user    models.UserProfile
	coord   *persist.Coordinator
	gateway ai.Gateway
	logger  *zap.Logger

	mu        sync.Mutex
	subjects  []models.Subject
	concursos []models.Concurso
	stats     models.StudyStats
}

func New(user models.UserProfile, coord *persist.Coordinator, gateway ai.Gateway, logger *zap.Logger) *Session {
	return &Session{
		user:    user,
		coord:   coord,
		gateway: gateway,
		logger:  logger,
	}
}

// Load reads the stripped collections from the metadata store and then
// hydrates file payloads from the blob store. The in-memory state is only
// swapped once the whole hydration batch has settled.
func (s *Session) Load(ctx context.Context) error {
	subjects, err := s.coord.LoadSubjects(ctx)
	if err != nil {
		return err
	}
	concursos, err := s.coord.LoadConcursos(ctx)
	if err != nil {
		return err
	}
	stats, err := s.coord.LoadStats(ctx)
	if err != nil {
		return err
	}
	if stats.LastStudyDate == 0 {
		stats.LastStudyDate = time.Now().UnixMilli()
	}

	subjects, concursos, hydrated := s.coord.Hydrate(ctx, subjects, concursos)

	s.mu.Lock()
	s.subjects = subjects
	s.concursos = concursos
	s.stats = stats
	s.mu.Unlock()

	s.logger.Info("Session loaded",
		zap.String("user", s.user.Email),
		zap.Int("subjects", len(subjects)),
		zap.Int("concursos", len(concursos)),
		zap.Bool("hydrated", hydrated))
	return nil
}

// User returns the profile this session was opened for.
func (s *Session) User() models.UserProfile {
	return s.user
}

// Subjects returns a deep copy of the subject collection.
func (s *Session) Subjects() []models.Subject {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneSubjects(s.subjects)
}

// Subject returns a deep copy of one subject.
func (s *Session) Subject(id string) (models.Subject, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subjects {
		if s.subjects[i].ID == id {
			return s.subjects[i].Clone(), true
		}
	}
	return models.Subject{}, false
}

// Concursos returns a deep copy of the concurso collection.
func (s *Session) Concursos() []models.Concurso {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.CloneConcursos(s.concursos)
}

// Concurso returns a deep copy of one concurso.
func (s *Session) Concurso(id string) (models.Concurso, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.concursos {
		if s.concursos[i].ID == id {
			return s.concursos[i].Clone(), true
		}
	}
	return models.Concurso{}, false
}

// Stats returns the current study stats.
func (s *Session) Stats() models.StudyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// QuotaWarning surfaces the sticky storage-full banner text, if any.
func (s *Session) QuotaWarning() string {
	return s.coord.QuotaWarning()
}

// CreateSubject prepends a new empty subject.
func (s *Session) CreateSubject(name, description string) models.Subject {
	subject := models.Subject{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Files:       []models.StoredFile{},
		Messages:    []models.Message{},
		Notes:       "",
		Flashcards:  []models.Flashcard{},
		CreatedAt:   time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.subjects = append([]models.Subject{subject}, s.subjects...)
	s.scheduleLocked()
	s.mu.Unlock()
	return subject.Clone()
}

// DeleteSubject removes the subject and schedules deletion of every blob
// it referenced.
func (s *Session) DeleteSubject(ctx context.Context, id string) error {
	var fileIDs []string
	found := false

	s.mu.Lock()
	kept := s.subjects[:0]
	for i := range s.subjects {
		if s.subjects[i].ID == id {
			found = true
			for _, f := range s.subjects[i].Files {
				fileIDs = append(fileIDs, f.ID)
			}
			continue
		}
		kept = append(kept, s.subjects[i])
	}
	s.subjects = kept
	if found {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	if !found {
		return ErrSubjectNotFound
	}
	s.coord.DeleteBlobs(ctx, fileIDs)
	return nil
}

// UpdateNotes replaces the subject's free-text notes.
func (s *Session) UpdateNotes(id, notes string) error {
	if !s.updateSubject(id, func(subject *models.Subject) {
		subject.Notes = notes
	}) {
		return ErrSubjectNotFound
	}
	return nil
}

// AttachFile encodes an uploaded PDF as a data string and appends it to
// the subject. Only PDFs are accepted.
func (s *Session) AttachFile(subjectID, name, mimeType string, raw []byte) (models.StoredFile, error) {
	if mimeType != PDFMimeType {
		return models.StoredFile{}, ErrUnsupportedFileType
	}

	file := models.StoredFile{
		ID:       uuid.New().String(),
		Name:     name,
		MimeType: mimeType,
		Data:     encodeDataURL(mimeType, raw),
	}
	if !s.updateSubject(subjectID, func(subject *models.Subject) {
		subject.Files = append(subject.Files, file)
	}) {
		return models.StoredFile{}, ErrSubjectNotFound
	}
	return file, nil
}

// RemoveFile detaches a file and schedules deletion of its blob. An
// in-flight AI request that already snapshotted the file list is
// unaffected.
func (s *Session) RemoveFile(ctx context.Context, subjectID, fileID string) error {
	removed := false
	if !s.updateSubject(subjectID, func(subject *models.Subject) {
		kept := subject.Files[:0]
		for _, f := range subject.Files {
			if f.ID == fileID {
				removed = true
				continue
			}
			kept = append(kept, f)
		}
		subject.Files = kept
	}) {
		return ErrSubjectNotFound
	}
	if !removed {
		return ErrFileNotFound
	}
	s.coord.DeleteBlobs(ctx, []string{fileID})
	return nil
}

// UpdateFileNotes replaces the per-file annotation.
func (s *Session) UpdateFileNotes(subjectID, fileID, notes string) error {
	found := false
	if !s.updateSubject(subjectID, func(subject *models.Subject) {
		for i := range subject.Files {
			if subject.Files[i].ID == fileID {
				subject.Files[i].Notes = notes
				found = true
			}
		}
	}) {
		return ErrSubjectNotFound
	}
	if !found {
		return ErrFileNotFound
	}
	return nil
}

// FilePayload decodes a file's payload for preview. A missing payload and
// an undecodable one are distinct, per-file conditions; neither affects
// other files.
func (s *Session) FilePayload(subjectID, fileID string) ([]byte, error) {
	s.mu.Lock()
	var data string
	found := false
	for i := range s.subjects {
		if s.subjects[i].ID != subjectID {
			continue
		}
		for _, f := range s.subjects[i].Files {
			if f.ID == fileID {
				data = f.Data
				found = true
			}
		}
	}
	s.mu.Unlock()

	if !found {
		return nil, ErrFileNotFound
	}
	if data == "" {
		return nil, ErrPayloadUnavailable
	}
	raw, err := base64.StdEncoding.DecodeString(stripDataURL(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	return raw, nil
}

// AskSubject streams a tutor answer into the subject's transcript.
func (s *Session) AskSubject(ctx context.Context, subjectID, question string) error {
	return s.ask(ctx, s.subjectRef(subjectID), ErrSubjectNotFound, question)
}

// AskConcurso streams a tutor answer into the concurso's transcript. Chat
// behaves identically for both record kinds via Conversable.
func (s *Session) AskConcurso(ctx context.Context, concursoID, question string) error {
	return s.ask(ctx, s.concursoRef(concursoID), ErrConcursoNotFound, question)
}

// GenerateFlashcards regenerates the subject's flashcards from its files,
// replacing the old set wholesale.
func (s *Session) GenerateFlashcards(ctx context.Context, subjectID string) ([]models.Flashcard, error) {
	subject, ok := s.Subject(subjectID)
	if !ok {
		return nil, ErrSubjectNotFound
	}
	files := validFiles(subject.Files)
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	cards, err := s.gateway.GenerateFlashcards(ctx, files)
	if err != nil {
		return nil, err
	}

	if !s.updateSubject(subjectID, func(subject *models.Subject) {
		subject.Flashcards = cards
	}) {
		return nil, ErrSubjectNotFound
	}
	return cards, nil
}

// CreateConcurso uploads an exam notice, runs the analysis and prepends
// the resulting record. Nothing is stored when the analysis call fails.
func (s *Session) CreateConcurso(ctx context.Context, name, fileName, mimeType string, raw []byte) (models.Concurso, error) {
	if mimeType != PDFMimeType {
		return models.Concurso{}, ErrUnsupportedFileType
	}

	file := models.StoredFile{
		ID:       uuid.New().String(),
		Name:     fileName,
		MimeType: mimeType,
		Data:     encodeDataURL(mimeType, raw),
	}

	analysis, err := s.gateway.AnalyzeNotice(ctx, file)
	if err != nil {
		return models.Concurso{}, err
	}

	concurso := models.Concurso{
		ID:        uuid.New().String(),
		Name:      name,
		File:      file,
		Analysis:  analysis,
		Messages:  []models.Message{},
		CreatedAt: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	s.concursos = append([]models.Concurso{concurso}, s.concursos...)
	s.scheduleLocked()
	s.mu.Unlock()
	return concurso.Clone(), nil
}

// DeleteConcurso removes the record and schedules deletion of its blob.
func (s *Session) DeleteConcurso(ctx context.Context, id string) error {
	var fileID string
	found := false

	s.mu.Lock()
	kept := s.concursos[:0]
	for i := range s.concursos {
		if s.concursos[i].ID == id {
			found = true
			fileID = s.concursos[i].File.ID
			continue
		}
		kept = append(kept, s.concursos[i])
	}
	s.concursos = kept
	if found {
		s.scheduleLocked()
	}
	s.mu.Unlock()

	if !found {
		return ErrConcursoNotFound
	}
	s.coord.DeleteBlobs(ctx, []string{fileID})
	return nil
}

// CompleteFocusSession records a finished Pomodoro. Stats grow
// monotonically and are persisted immediately.
func (s *Session) CompleteFocusSession(ctx context.Context, minutes int) error {
	s.mu.Lock()
	s.stats.TotalMinutes += minutes
	s.stats.SessionsCompleted++
	s.stats.LastStudyDate = time.Now().UnixMilli()
	stats := s.stats
	s.mu.Unlock()

	return s.coord.SaveStats(ctx, stats)
}

// Flush drains any pending persistence work. Used on shutdown and in
// tests that need a deterministic write.
func (s *Session) Flush(ctx context.Context) {
	s.coord.Flush(ctx)
}

// convRef addresses one conversable record by id. view reads under the
// lock without scheduling; update mutates and schedules persistence.
type convRef struct {
	view   func(fn func(models.Conversable)) bool
	update func(fn func(models.Conversable)) bool
}

func (s *Session) subjectRef(id string) convRef {
	locate := func(fn func(models.Conversable)) bool {
		for i := range s.subjects {
			if s.subjects[i].ID == id {
				fn(&s.subjects[i])
				return true
			}
		}
		return false
	}
	return convRef{
		view: func(fn func(models.Conversable)) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return locate(fn)
		},
		update: func(fn func(models.Conversable)) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !locate(fn) {
				return false
			}
			s.scheduleLocked()
			return true
		},
	}
}

func (s *Session) concursoRef(id string) convRef {
	locate := func(fn func(models.Conversable)) bool {
		for i := range s.concursos {
			if s.concursos[i].ID == id {
				fn(&s.concursos[i])
				return true
			}
		}
		return false
	}
	return convRef{
		view: func(fn func(models.Conversable)) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return locate(fn)
		},
		update: func(fn func(models.Conversable)) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			if !locate(fn) {
				return false
			}
			s.scheduleLocked()
			return true
		},
	}
}

// ask runs the chat exchange: snapshot files and history, insert the user
// message plus the empty placeholder atomically, then fold stream
// fragments into the placeholder. Once started, a stream runs to
// completion or failure; nothing here cancels it.
func (s *Session) ask(ctx context.Context, ref convRef, notFound error, question string) error {
	var files []models.StoredFile
	var history []models.Message
	if !ref.view(func(c models.Conversable) {
		files = validFiles(c.AttachedFiles())
		history = append([]models.Message(nil), c.Thread()...)
	}) {
		return notFound
	}

	userMsg, placeholder := chat.NewExchange(question)
	ref.update(func(c models.Conversable) {
		c.SetThread(append(c.Thread(), userMsg, placeholder))
	})

	apply := chat.Apply(func(update func([]models.Message) []models.Message) {
		ref.update(func(c models.Conversable) {
			c.SetThread(update(c.Thread()))
		})
	})

	stream, err := s.gateway.StreamAnswer(ctx, question, files, history)
	if err != nil {
		chat.Fail(apply, placeholder.ID)
		return err
	}

	if _, err := chat.Fold(ctx, stream, placeholder.ID, apply); err != nil {
		return err
	}
	return nil
}

func (s *Session) updateSubject(id string, fn func(*models.Subject)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subjects {
		if s.subjects[i].ID == id {
			fn(&s.subjects[i])
			s.scheduleLocked()
			return true
		}
	}
	return false
}

// scheduleLocked hands a deep-copied snapshot to the coordinator. Callers
// must hold s.mu.
func (s *Session) scheduleLocked() {
	s.coord.Schedule(models.CloneSubjects(s.subjects), models.CloneConcursos(s.concursos))
}

func validFiles(files []models.StoredFile) []models.StoredFile {
	out := make([]models.StoredFile, 0, len(files))
	for _, f := range files {
		if f.Data != "" {
			out = append(out, f)
		}
	}
	return out
}

func encodeDataURL(mimeType string, raw []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

func stripDataURL(data string) string {
	if i := strings.Index(data, ","); i >= 0 {
		return data[i+1:]
	}
	return data
}
