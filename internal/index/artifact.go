package index

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/coursedex/coursedex/internal/embedding"
)

// Errors returned while loading persisted artifacts.
var (
	ErrCorruptModel       = errors.New("model artifacts are corrupt")
	ErrUnsupportedVersion = errors.New("unsupported model version")
	ErrIncompatibleModel  = errors.New("model was trained with a different tokenizer")
)

const (
	// CurrentVersion is the on-disk format version. Increment it when the
	// artifact encoding changes incompatibly.
	CurrentVersion = 1

	// ManifestName is the commit pointer for the live generation.
	ManifestName = "manifest.json"

	vectorizerPrefix = "vectorizer-"
	featuresPrefix   = "features-"
	manifestPrefix   = "manifest-"
	artifactExt      = ".gob.gz"
)

func vectorizerName(gen string) string { return vectorizerPrefix + gen + artifactExt }
func featuresName(gen string) string   { return featuresPrefix + gen + artifactExt }
func manifestName(gen string) string   { return manifestPrefix + gen + ".json" }

// generationOf extracts the generation from an artifact or per-generation
// manifest name. It returns "" for names it does not recognise.
func generationOf(name string) string {
	for _, p := range []struct{ prefix, ext string }{
		{vectorizerPrefix, artifactExt},
		{featuresPrefix, artifactExt},
		{manifestPrefix, ".json"},
	} {
		if strings.HasPrefix(name, p.prefix) && strings.HasSuffix(name, p.ext) {
			return strings.TrimSuffix(strings.TrimPrefix(name, p.prefix), p.ext)
		}
	}
	return ""
}

// vectorizerArtifact is the persisted form of a fitted vectorizer.
type vectorizerArtifact struct {
	Version    int
	Generation string
	Tokenizer  string
	Terms      []string
	DocFreq    []int
	NumDocs    int
}

// featuresArtifact is the persisted document-feature matrix. Row i is slot i.
type featuresArtifact struct {
	Version     int
	Generation  string
	Dimension   int
	DocumentIDs []string
	Rows        []embedding.SparseVector
}

func encodeArtifact(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(zw).Encode(v); err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing artifact: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeArtifact(data []byte, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	defer zr.Close()
	if err := gob.NewDecoder(zr).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptModel, err)
	}
	return nil
}

func checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func verify(info ArtifactInfo, data []byte) error {
	if got := checksum(data); got != info.Checksum {
		return fmt.Errorf("%w: checksum mismatch for %s", ErrCorruptModel, info.Name)
	}
	return nil
}

func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return append(data, '\n'), nil
}

func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorruptModel, err)
	}
	if m.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: got %d, want %d (re-run 'cdx reindex')",
			ErrUnsupportedVersion, m.Version, CurrentVersion)
	}
	if m.Generation == "" {
		return nil, fmt.Errorf("%w: manifest has no generation", ErrCorruptModel)
	}
	return &m, nil
}
