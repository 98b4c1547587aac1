package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// Persistence handles the disk I/O for the MemStore. Each collection is one
// JSON file in DataDir.
type Persistence struct {
	DataDir string
	mu      sync.Mutex // Protects concurrent writes to the filesystem
	saved   map[string]uint64
}

// NewPersistence initializes a persistence handler.
func NewPersistence(dir string) (*Persistence, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, eris.Wrapf(err, "engine: create data dir %s", dir)
	}
	return &Persistence{DataDir: dir, saved: make(map[string]uint64)}, nil
}

// SaveCollection writes a single collection to a JSON file atomically.
// Snapshots older than the last one written are skipped.
func (p *Persistence) SaveCollection(collection string, version uint64, docs map[string]sdk.Document) error {
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if version != 0 && version <= p.saved[collection] {
		return nil
	}

	filePath := filepath.Join(p.DataDir, fmt.Sprintf("%s.json", collection))
	tempPath := filePath + ".tmp"

	bytes, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "engine: marshal %s", collection)
	}

	// Write to a temporary file first, then rename: a crash leaves either
	// the old file or the new one, never a torn one.
	if err := os.WriteFile(tempPath, bytes, 0644); err != nil {
		return eris.Wrapf(err, "engine: write %s", tempPath)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		return eris.Wrapf(err, "engine: rename %s", tempPath)
	}
	if version != 0 {
		p.saved[collection] = version
	}
	return nil
}

// LoadAll returns all collection data found in the data directory.
func (p *Persistence) LoadAll() (map[string]map[string]sdk.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	allData := make(map[string]map[string]sdk.Document)

	files, err := os.ReadDir(p.DataDir)
	if err != nil {
		return nil, eris.Wrapf(err, "engine: read data dir %s", p.DataDir)
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		collection := strings.TrimSuffix(file.Name(), ".json")
		if sdk.ValidateCollection(collection) != nil {
			continue
		}

		content, err := os.ReadFile(filepath.Join(p.DataDir, file.Name()))
		if err != nil {
			zap.L().Warn("skipping unreadable collection file", zap.String("file", file.Name()), zap.Error(err))
			continue
		}

		var docs map[string]sdk.Document
		if err := json.Unmarshal(content, &docs); err != nil {
			zap.L().Warn("skipping corrupt collection file", zap.String("file", file.Name()), zap.Error(err))
			continue
		}
		if docs == nil {
			docs = make(map[string]sdk.Document)
		}
		allData[collection] = docs
	}
	return allData, nil
}
