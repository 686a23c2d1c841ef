package indexer

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/protocolqa/internal/embedder"
	"github.com/dshills/protocolqa/pkg/types"
)

const (
	// ManifestFile marks a complete bundle. It is written last.
	ManifestFile = "bundle.json"
	// DatabaseFile holds chunks, windows, FTS index and embeddings
	DatabaseFile = "index.db"
	// ManifestVersion is the bundle.json format version
	ManifestVersion = 1
)

// Windowing records the windower parameters a bundle was built with
type Windowing struct {
	MaxTokens int `json:"max_tokens"`
	Overlap   int `json:"overlap"`
}

// Manifest describes a persisted bundle
type Manifest struct {
	FormatVersion  int               `json:"format_version"`
	SchemaVersion  string            `json:"schema_version"`
	DocumentID     string            `json:"document_id"`
	SourceName     string            `json:"source_name"`
	SourceSHA256   string            `json:"source_sha256"`
	Chunks         int               `json:"chunks"`
	Windows        int               `json:"windows"`
	Tables         int               `json:"tables"`
	WindowChecksum string            `json:"window_checksum"`
	Fallback       bool              `json:"segmentation_fallback"`
	Embedder       embedder.Identity `json:"embedder"`
	Windowing      Windowing         `json:"windowing"`
	BuiltAt        time.Time         `json:"built_at"`
}

// WindowChecksum hashes window ids and texts in id order. Any change to
// either index's shared content changes the checksum.
func WindowChecksum(windows []*types.Window) string {
	h := sha256.New()
	var buf [8]byte
	for _, w := range windows {
		binary.BigEndian.PutUint64(buf[:], uint64(w.ID))
		h.Write(buf[:])
		h.Write([]byte(w.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ManifestExists reports whether dir holds a bundle marker
func ManifestExists(dir string) bool {
	if dir == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(dir, ManifestFile))
	return err == nil
}

// ReadManifest reads dir/bundle.json
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", ManifestFile, err)
	}
	return &m, nil
}

// writeManifest writes the marker through a temp file and rename so a
// partial marker is never observed.
func writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, ManifestFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, ManifestFile))
}
