package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursedex/coursedex/internal/embedding"
)

// Errors returned by index operations.
var (
	ErrNotTrained   = errors.New("search index has not been built")
	ErrInvalidLimit = errors.New("limit must be positive")
)

// Option configures an Index.
type Option func(*Index)

// WithTokenizer sets the tokenizer used for training and queries.
// Without it the English lemmatizing tokenizer is used.
func WithTokenizer(tok embedding.Tokenizer) Option {
	return func(idx *Index) { idx.tokenizer = tok }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(idx *Index) { idx.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(idx *Index) { idx.now = now }
}

// WithGenerations overrides how generation ids are minted.
func WithGenerations(next func() (string, error)) Option {
	return func(idx *Index) { idx.nextGeneration = next }
}

// Index is the persisted tf-idf model plus its document-feature matrix.
// The loaded pair is cached until Invalidate, Train or Restore.
type Index struct {
	store          BlobStore
	tokenizer      embedding.Tokenizer
	logger         *slog.Logger
	now            func() time.Time
	nextGeneration func() (string, error)

	tokOnce sync.Once
	tokErr  error

	trainMu sync.Mutex

	mu     sync.RWMutex
	cached *model
}

type model struct {
	manifest    *Manifest
	vectorizer  *embedding.Vectorizer
	documentIDs []string
	rows        []embedding.SparseVector
}

// New returns an Index persisting to store.
func New(store BlobStore, opts ...Option) *Index {
	idx := &Index{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		nextGeneration: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

func (idx *Index) tok() (embedding.Tokenizer, error) {
	idx.tokOnce.Do(func() {
		if idx.tokenizer == nil {
			idx.tokenizer, idx.tokErr = embedding.NewEnglishTokenizer()
		}
	})
	return idx.tokenizer, idx.tokErr
}

// Train fits a new model over docs and commits it as a new generation.
// Row i of the feature matrix corresponds to docs[i].
func (idx *Index) Train(ctx context.Context, docs []Document) (*TrainResult, error) {
	idx.trainMu.Lock()
	defer idx.trainMu.Unlock()

	tok, err := idx.tok()
	if err != nil {
		return nil, err
	}
	gen, err := idx.nextGeneration()
	if err != nil {
		return nil, fmt.Errorf("minting generation: %w", err)
	}
	previous := idx.currentGeneration(ctx)

	texts := make([]string, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
		ids[i] = d.ID
	}
	vec, rows := embedding.FitTransform(tok, texts)

	vecData, err := encodeArtifact(&vectorizerArtifact{
		Version:    CurrentVersion,
		Generation: gen,
		Tokenizer:  tok.Name(),
		Terms:      vec.Terms(),
		DocFreq:    vec.DocFreq(),
		NumDocs:    vec.NumDocs(),
	})
	if err != nil {
		return nil, err
	}
	featData, err := encodeArtifact(&featuresArtifact{
		Version:     CurrentVersion,
		Generation:  gen,
		Dimension:   vec.Dimension(),
		DocumentIDs: ids,
		Rows:        rows,
	})
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Version:    CurrentVersion,
		Generation: gen,
		Previous:   previous,
		CreatedAt:  idx.now().UTC(),
		Documents:  len(docs),
		Vocabulary: vec.Dimension(),
		Tokenizer:  tok.Name(),
		Vectorizer: ArtifactInfo{Name: vectorizerName(gen), Checksum: checksum(vecData), Size: int64(len(vecData))},
		Features:   ArtifactInfo{Name: featuresName(gen), Checksum: checksum(featData), Size: int64(len(featData))},
	}
	manifestData, err := encodeManifest(m)
	if err != nil {
		return nil, err
	}

	// The manifest pointer goes last; until it lands the previous pair stays live.
	if err := idx.store.Write(ctx, m.Vectorizer.Name, vecData); err != nil {
		return nil, fmt.Errorf("writing vectorizer: %w", err)
	}
	if err := idx.store.Write(ctx, m.Features.Name, featData); err != nil {
		return nil, fmt.Errorf("writing features: %w", err)
	}
	if err := idx.store.Write(ctx, manifestName(gen), manifestData); err != nil {
		return nil, fmt.Errorf("writing manifest: %w", err)
	}
	if err := idx.store.Write(ctx, ManifestName, manifestData); err != nil {
		return nil, fmt.Errorf("committing manifest: %w", err)
	}

	idx.Invalidate()
	idx.logger.Info("index trained",
		"generation", gen,
		"previous", previous,
		"documents", len(docs),
		"vocabulary", vec.Dimension())

	idx.collect(ctx, gen, previous)

	return &TrainResult{
		Generation: gen,
		Previous:   previous,
		Documents:  len(docs),
		Vocabulary: vec.Dimension(),
		CreatedAt:  m.CreatedAt,
	}, nil
}

// currentGeneration returns the committed generation, or "" when there is
// none or the current manifest cannot be read.
func (idx *Index) currentGeneration(ctx context.Context) string {
	m, err := idx.readManifest(ctx, ManifestName)
	if err != nil {
		if !errors.Is(err, ErrNotTrained) {
			idx.logger.Warn("ignoring unreadable manifest", "error", err)
		}
		return ""
	}
	return m.Generation
}

// collect removes artifacts that belong to neither keep generation.
// Failures are logged; stale blobs never affect correctness.
func (idx *Index) collect(ctx context.Context, keep ...string) {
	names, err := idx.store.List(ctx, "")
	if err != nil {
		idx.logger.Warn("listing model artifacts", "error", err)
		return
	}
	live := make(map[string]bool, len(keep))
	for _, g := range keep {
		if g != "" {
			live[g] = true
		}
	}
	for _, name := range names {
		gen := generationOf(name)
		if gen == "" || live[gen] {
			continue
		}
		if err := idx.store.Delete(ctx, name); err != nil {
			idx.logger.Warn("deleting stale artifact", "name", name, "error", err)
			continue
		}
		idx.logger.Debug("deleted stale artifact", "name", name)
	}
}

// Restore re-points the live manifest at generation. An empty generation
// returns the index to the untrained state.
func (idx *Index) Restore(ctx context.Context, generation string) error {
	idx.trainMu.Lock()
	defer idx.trainMu.Unlock()
	defer idx.Invalidate()

	if generation == "" {
		if err := idx.store.Delete(ctx, ManifestName); err != nil {
			return fmt.Errorf("clearing manifest: %w", err)
		}
		idx.logger.Info("index restored to untrained state")
		return nil
	}

	data, err := idx.store.Read(ctx, manifestName(generation))
	if err != nil {
		return fmt.Errorf("reading manifest for generation %s: %w", generation, err)
	}
	m, err := decodeManifest(data)
	if err != nil {
		return err
	}
	if m.Generation != generation {
		return fmt.Errorf("%w: manifest for %s names generation %s", ErrCorruptModel, generation, m.Generation)
	}
	for _, name := range []string{m.Vectorizer.Name, m.Features.Name} {
		ok, err := idx.store.Exists(ctx, name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s is missing", ErrCorruptModel, name)
		}
	}
	if err := idx.store.Write(ctx, ManifestName, data); err != nil {
		return fmt.Errorf("committing manifest: %w", err)
	}
	idx.logger.Info("index restored", "generation", generation)
	return nil
}

// Invalidate drops the cached model so the next query reloads it.
func (idx *Index) Invalidate() {
	idx.mu.Lock()
	idx.cached = nil
	idx.mu.Unlock()
}

// Status describes the committed generation.
func (idx *Index) Status(ctx context.Context) (*Status, error) {
	m, err := idx.readManifest(ctx, ManifestName)
	if err != nil {
		return nil, err
	}
	return &Status{
		Generation:          m.Generation,
		Previous:            m.Previous,
		CreatedAt:           m.CreatedAt,
		Documents:           m.Documents,
		Vocabulary:          m.Vocabulary,
		Tokenizer:           m.Tokenizer,
		VectorizerSizeBytes: m.Vectorizer.Size,
		FeaturesSizeBytes:   m.Features.Size,
	}, nil
}

func (idx *Index) readManifest(ctx context.Context, name string) (*Manifest, error) {
	data, err := idx.store.Read(ctx, name)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, ErrNotTrained
		}
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return decodeManifest(data)
}

// load returns the cached model, loading it from the store on first use.
func (idx *Index) load(ctx context.Context) (*model, error) {
	idx.mu.RLock()
	m := idx.cached
	idx.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.cached != nil {
		return idx.cached, nil
	}

	m, err := idx.loadPair(ctx)
	if err != nil {
		return nil, err
	}
	idx.cached = m
	return m, nil
}

func (idx *Index) loadPair(ctx context.Context) (*model, error) {
	tok, err := idx.tok()
	if err != nil {
		return nil, err
	}
	manifest, err := idx.readManifest(ctx, ManifestName)
	if err != nil {
		return nil, err
	}

	var va vectorizerArtifact
	if err := idx.readArtifact(ctx, manifest.Vectorizer, &va); err != nil {
		return nil, err
	}
	var fa featuresArtifact
	if err := idx.readArtifact(ctx, manifest.Features, &fa); err != nil {
		return nil, err
	}

	if va.Version != CurrentVersion || fa.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: artifacts at version %d/%d", ErrUnsupportedVersion, va.Version, fa.Version)
	}
	if va.Generation != manifest.Generation || fa.Generation != manifest.Generation {
		return nil, fmt.Errorf("%w: generation mismatch (manifest %s, vectorizer %s, features %s)",
			ErrCorruptModel, manifest.Generation, va.Generation, fa.Generation)
	}
	if va.Tokenizer != tok.Name() {
		return nil, fmt.Errorf("%w: trained with %q, querying with %q", ErrIncompatibleModel, va.Tokenizer, tok.Name())
	}
	if len(fa.Rows) != len(fa.DocumentIDs) || len(fa.Rows) != manifest.Documents {
		return nil, fmt.Errorf("%w: %d rows for %d documents", ErrCorruptModel, len(fa.Rows), manifest.Documents)
	}

	vec, err := embedding.Restore(tok, va.Terms, va.DocFreq, va.NumDocs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	if fa.Dimension != vec.Dimension() {
		return nil, fmt.Errorf("%w: features dimension %d, vocabulary %d", ErrCorruptModel, fa.Dimension, vec.Dimension())
	}

	idx.logger.Debug("index loaded", "generation", manifest.Generation, "documents", manifest.Documents)
	return &model{
		manifest:    manifest,
		vectorizer:  vec,
		documentIDs: fa.DocumentIDs,
		rows:        fa.Rows,
	}, nil
}

func (idx *Index) readArtifact(ctx context.Context, info ArtifactInfo, v any) error {
	data, err := idx.store.Read(ctx, info.Name)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return fmt.Errorf("%w: %s is missing", ErrCorruptModel, info.Name)
		}
		return err
	}
	if err := verify(info, data); err != nil {
		return err
	}
	return decodeArtifact(data, v)
}
