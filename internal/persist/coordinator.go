package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/estudemais/estude-mais/internal/models"
	"github.com/estudemais/estude-mais/internal/storage"
)

const keyPrefix = "estudemais"

// DefaultDebounce is the quiet period that coalesces rapid successive
// edits into one write.
const DefaultDebounce = time.Second

// QuotaWarningText is the sticky banner shown while the metadata store is
// full. Cleared by the next successful save.
const QuotaWarningText = "Armazenamento cheio! Remova arquivos antigos."

type snapshot struct {
	subjects  []models.Subject
	concursos []models.Concurso
}

// Coordinator owns the dual-store split: heavy file payloads go to the
// blob store, a stripped copy of each collection goes to the metadata
// store, and hydration merges them back on load. One coordinator serves
// one user; the email namespace is fixed at construction.
type Coordinator struct {
	meta     storage.MetadataStore
	blobs    storage.BlobStore
	email    string
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending *snapshot
	quota   string

	// flushMu serializes flushes; when a flush is in flight and a new
	// debounce fires, the later write simply wins.
	flushMu sync.Mutex
}

func NewCoordinator(meta storage.MetadataStore, blobs storage.BlobStore, email string, debounce time.Duration, logger *zap.Logger) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Coordinator{
		meta:     meta,
		blobs:    blobs,
		email:    email,
		debounce: debounce,
		logger:   logger,
	}
}

func (c *Coordinator) subjectsKey() string {
	return fmt.Sprintf("%s-subjects-%s", keyPrefix, c.email)
}

func (c *Coordinator) concursosKey() string {
	return fmt.Sprintf("%s-concursos-%s", keyPrefix, c.email)
}

func (c *Coordinator) statsKey() string {
	return fmt.Sprintf("%s-stats-%s", keyPrefix, c.email)
}

// LoadSubjects reads the stripped subject collection. Records written by
// older versions may lack notes or flashcards; missing fields get their
// zero defaults so the rest of the app never sees nil collections.
func (c *Coordinator) LoadSubjects(ctx context.Context) ([]models.Subject, error) {
	raw, err := c.meta.Get(ctx, c.subjectsKey())
	if errors.Is(err, storage.ErrNotFound) {
		return []models.Subject{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading subjects: %w", err)
	}

	var subjects []models.Subject
	if err := json.Unmarshal([]byte(raw), &subjects); err != nil {
		return nil, fmt.Errorf("error decoding subjects: %w", err)
	}
	for i := range subjects {
		if subjects[i].Files == nil {
			subjects[i].Files = []models.StoredFile{}
		}
		if subjects[i].Messages == nil {
			subjects[i].Messages = []models.Message{}
		}
		if subjects[i].Flashcards == nil {
			subjects[i].Flashcards = []models.Flashcard{}
		}
	}
	return subjects, nil
}

// LoadConcursos reads the stripped concurso collection.
func (c *Coordinator) LoadConcursos(ctx context.Context) ([]models.Concurso, error) {
	raw, err := c.meta.Get(ctx, c.concursosKey())
	if errors.Is(err, storage.ErrNotFound) {
		return []models.Concurso{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading concursos: %w", err)
	}

	var concursos []models.Concurso
	if err := json.Unmarshal([]byte(raw), &concursos); err != nil {
		return nil, fmt.Errorf("error decoding concursos: %w", err)
	}
	for i := range concursos {
		if concursos[i].Messages == nil {
			concursos[i].Messages = []models.Message{}
		}
	}
	return concursos, nil
}

// LoadStats reads the study stats record. An absent record yields zero
// stats, not an error.
func (c *Coordinator) LoadStats(ctx context.Context) (models.StudyStats, error) {
	raw, err := c.meta.Get(ctx, c.statsKey())
	if errors.Is(err, storage.ErrNotFound) {
		return models.StudyStats{}, nil
	}
	if err != nil {
		return models.StudyStats{}, fmt.Errorf("error loading stats: %w", err)
	}

	var stats models.StudyStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return models.StudyStats{}, fmt.Errorf("error decoding stats: %w", err)
	}
	return stats, nil
}

// SaveStats persists stats immediately; stats writes are tiny and are not
// debounced.
func (c *Coordinator) SaveStats(ctx context.Context, stats models.StudyStats) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("error encoding stats: %w", err)
	}
	if err := c.meta.Set(ctx, c.statsKey(), string(raw)); err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			c.setQuotaWarning()
			return err
		}
		return fmt.Errorf("error saving stats: %w", err)
	}
	return nil
}

// Hydrate fills in every empty file payload from the blob store. The
// returned collections are copies and are only complete once every fetch
// in the batch has settled; callers swap them in wholesale. A payload that
// is still absent stays empty, which is a representable state, never an
// error. Re-running with nothing missing skips the store entirely.
func (c *Coordinator) Hydrate(ctx context.Context, subjects []models.Subject, concursos []models.Concurso) ([]models.Subject, []models.Concurso, bool) {
	needs := false
	for _, s := range subjects {
		for _, f := range s.Files {
			if f.Data == "" {
				needs = true
			}
		}
	}
	for _, conc := range concursos {
		if conc.File.Data == "" {
			needs = true
		}
	}
	if !needs {
		return subjects, concursos, false
	}

	hydratedSubjects := models.CloneSubjects(subjects)
	hydratedConcursos := models.CloneConcursos(concursos)

	g, ctx := errgroup.WithContext(ctx)
	for i := range hydratedSubjects {
		for j := range hydratedSubjects[i].Files {
			if hydratedSubjects[i].Files[j].Data != "" {
				continue
			}
			file := &hydratedSubjects[i].Files[j]
			g.Go(func() error {
				file.Data = c.fetchBlob(ctx, file.ID)
				return nil
			})
		}
	}
	for i := range hydratedConcursos {
		if hydratedConcursos[i].File.Data != "" {
			continue
		}
		file := &hydratedConcursos[i].File
		g.Go(func() error {
			file.Data = c.fetchBlob(ctx, file.ID)
			return nil
		})
	}
	_ = g.Wait()

	return hydratedSubjects, hydratedConcursos, true
}

// fetchBlob resolves any failure to an empty payload: the caller already
// has a usable skeleton record without it.
func (c *Coordinator) fetchBlob(ctx context.Context, id string) string {
	payload, err := c.blobs.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("Failed to hydrate file payload",
				zap.Error(err),
				zap.String("file_id", id))
		}
		return ""
	}
	return payload
}

// Schedule queues a persistence run after the debounce window. The caller
// hands over ownership of the snapshot; rapid successive calls coalesce
// into one write of the latest snapshot.
func (c *Coordinator) Schedule(subjects []models.Subject, concursos []models.Concurso) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = &snapshot{subjects: subjects, concursos: concursos}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.flushPending(context.Background())
	})
}

// Flush synchronously drains any pending snapshot. Used on shutdown.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.flushPending(ctx)
}

func (c *Coordinator) flushPending(ctx context.Context) {
	c.mu.Lock()
	snap := c.pending
	c.pending = nil
	c.mu.Unlock()
	if snap == nil {
		return
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	// Blobs first: metadata must never reference an id whose payload was
	// not at least issued to the blob store.
	for _, s := range snap.subjects {
		for _, f := range s.Files {
			c.putBlob(ctx, f)
		}
	}
	for _, conc := range snap.concursos {
		c.putBlob(ctx, conc.File)
	}

	stripped := models.CloneSubjects(snap.subjects)
	for i := range stripped {
		for j := range stripped[i].Files {
			stripped[i].Files[j].Data = ""
		}
	}
	strippedConcursos := models.CloneConcursos(snap.concursos)
	for i := range strippedConcursos {
		strippedConcursos[i].File.Data = ""
	}

	ok := c.saveCollection(ctx, c.subjectsKey(), stripped)
	ok = c.saveCollection(ctx, c.concursosKey(), strippedConcursos) && ok
	if ok {
		c.clearQuotaWarning()
	}
}

func (c *Coordinator) putBlob(ctx context.Context, f models.StoredFile) {
	if f.Data == "" {
		return
	}
	if err := c.blobs.Put(ctx, f.ID, f.Data); err != nil {
		// The write is lost until the next edit re-triggers the scheduler.
		c.logger.Error("Failed to save file payload",
			zap.Error(err),
			zap.String("file_id", f.ID))
	}
}

func (c *Coordinator) saveCollection(ctx context.Context, key string, value any) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("Failed to encode collection", zap.Error(err), zap.String("key", key))
		return false
	}
	if err := c.meta.Set(ctx, key, string(raw)); err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			c.setQuotaWarning()
		} else {
			c.logger.Error("Failed to save collection", zap.Error(err), zap.String("key", key))
		}
		return false
	}
	return true
}

// DeleteBlobs removes payloads for deleted files. Absent ids are ignored.
func (c *Coordinator) DeleteBlobs(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := c.blobs.Delete(ctx, id); err != nil {
			c.logger.Warn("Failed to delete file payload",
				zap.Error(err),
				zap.String("file_id", id))
		}
	}
}

// QuotaWarning returns the sticky storage-full warning, or "" when the
// last save succeeded.
func (c *Coordinator) QuotaWarning() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quota
}

func (c *Coordinator) setQuotaWarning() {
	c.mu.Lock()
	c.quota = QuotaWarningText
	c.mu.Unlock()
	c.logger.Warn("Metadata store quota exceeded; operating in memory until space is freed")
}

func (c *Coordinator) clearQuotaWarning() {
	c.mu.Lock()
	c.quota = ""
	c.mu.Unlock()
}
