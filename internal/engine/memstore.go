package engine

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// MemStore is the thread-safe embedded document store.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [collection][id]document
	data      map[string]map[string]sdk.Document
	persister *Persistence
	versions  map[string]uint64
	wg        sync.WaitGroup
}

// NewMemStore initializes a store.
// It accepts existing data (from LoadAll) and an optional persister.
func NewMemStore(initialData map[string]map[string]sdk.Document, p *Persistence) *MemStore {
	if initialData == nil {
		initialData = make(map[string]map[string]sdk.Document)
	}
	return &MemStore{
		data:      initialData,
		persister: p,
		versions:  make(map[string]uint64),
	}
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close flushes pending writes. The store stays usable in memory.
func (m *MemStore) Close() error {
	m.Wait()
	return nil
}

// --- Interface Implementation ---

func (m *MemStore) Create(ctx context.Context, collection string, doc sdk.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := sdk.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := newID()

	m.mu.Lock()
	m.put(collection, id, doc)
	snapshot, version := m.snapshotLocked(collection)
	m.mu.Unlock()

	m.persist(collection, version, snapshot)
	return id, nil
}

func (m *MemStore) Get(ctx context.Context, collection, id string) (sdk.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[collection][id]
	if !ok {
		return nil, sdk.ErrDocumentNotFound
	}
	return cloneDocument(doc), nil
}

func (m *MemStore) List(ctx context.Context, collection string, filter *sdk.Filter) ([]sdk.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sdk.ValidateFilter(filter); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]sdk.Snapshot, 0, len(m.data[collection]))
	for id, doc := range m.data[collection] {
		if matches(doc, filter) {
			list = append(list, sdk.Snapshot{ID: id, Data: cloneDocument(doc)})
		}
	}
	// ids are UUIDv7, so this is creation order
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *MemStore) Update(ctx context.Context, collection, id string, patch sdk.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	doc, ok := m.data[collection][id]
	if !ok {
		m.mu.Unlock()
		return sdk.ErrDocumentNotFound
	}
	for k, v := range patch {
		doc[k] = cloneValue(v)
	}
	snapshot, version := m.snapshotLocked(collection)
	m.mu.Unlock()

	m.persist(collection, version, snapshot)
	return nil
}

func (m *MemStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if c, ok := m.data[collection]; ok {
		delete(c, id)
	}
	snapshot, version := m.snapshotLocked(collection)
	m.mu.Unlock()

	m.persist(collection, version, snapshot)
	return nil
}

func (m *MemStore) Restore(ctx context.Context, collection, id string, doc sdk.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sdk.ValidateCollection(collection); err != nil {
		return err
	}
	m.mu.Lock()
	m.put(collection, id, doc)
	snapshot, version := m.snapshotLocked(collection)
	m.mu.Unlock()

	m.persist(collection, version, snapshot)
	return nil
}

func (m *MemStore) Collections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.data))
	for name := range m.data {
		list = append(list, name)
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemStore) Dump(ctx context.Context, collection string) (map[string]sdk.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.copyCollection(collection)
	if out == nil {
		out = make(map[string]sdk.Document)
	}
	return out, nil
}

// put stores a copy of doc. It MUST be called while holding m.mu.Lock.
func (m *MemStore) put(collection, id string, doc sdk.Document) {
	if m.data[collection] == nil {
		m.data[collection] = make(map[string]sdk.Document)
	}
	stored := cloneDocument(doc)
	if stored == nil {
		stored = make(sdk.Document)
	}
	m.data[collection][id] = stored
}

// copyCollection creates a deep copy of a collection.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyCollection(collection string) map[string]sdk.Document {
	original, ok := m.data[collection]
	if !ok {
		return nil
	}
	out := make(map[string]sdk.Document, len(original))
	for id, doc := range original {
		out[id] = cloneDocument(doc)
	}
	return out
}

// snapshotLocked copies a collection for persistence and stamps it with a
// version so a slow goroutine cannot overwrite a newer file.
// It MUST be called while holding m.mu.Lock.
func (m *MemStore) snapshotLocked(collection string) (map[string]sdk.Document, uint64) {
	if m.persister == nil {
		return nil, 0
	}
	m.versions[collection]++
	return m.copyCollection(collection), m.versions[collection]
}

// persist saves a collection snapshot in the background.
func (m *MemStore) persist(collection string, version uint64, snapshot map[string]sdk.Document) {
	if m.persister == nil || snapshot == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.persister.SaveCollection(collection, version, snapshot); err != nil {
			zap.L().Error("persist collection failed", zap.String("collection", collection), zap.Error(err))
		}
	}()
}
