package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/config"
	"github.com/celerix-dev/carbon-ledger/internal/engine"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// Driver names accepted by store.driver.
const (
	DriverMemory    = "memory"
	DriverEmbedded  = "embedded"
	DriverRemote    = "remote"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	DriverFirestore = "firestore"
)

// Open builds the document store selected by cfg.Driver. SQL backends are
// migrated before they are returned. The caller owns the store and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig) (sdk.DocumentStore, error) {
	switch cfg.Driver {
	case DriverMemory:
		return engine.NewMemStore(nil, nil), nil

	case DriverEmbedded, "":
		return Discover(cfg.RemoteAddr, cfg.DisableTLS, cfg.DataDir)

	case DriverRemote:
		client, err := sdk.Connect(cfg.RemoteAddr, cfg.DisableTLS)
		if err != nil {
			return nil, err
		}
		return client, nil

	case DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, eris.Wrap(err, "storage: create sqlite directory")
			}
		}
		st, err := NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil

	case DriverPostgres:
		st, err := NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil

	case DriverFirestore:
		return NewFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile)
	}

	return nil, eris.Errorf("storage: unknown driver %q", cfg.Driver)
}

// Discover returns a client for the daemon at remoteAddr when one answers,
// and otherwise the embedded store persisted under dataDir.
func Discover(remoteAddr string, disableTLS bool, dataDir string) (sdk.DocumentStore, error) {
	if remoteAddr != "" {
		client, err := sdk.Connect(remoteAddr, disableTLS)
		if err == nil {
			return client, nil
		}
		zap.L().Warn("store daemon unreachable, falling back to embedded store",
			zap.String("addr", remoteAddr),
			zap.Error(err),
		)
	}

	return OpenEmbedded(dataDir)
}

// OpenEmbedded loads every persisted collection under dataDir into a MemStore.
func OpenEmbedded(dataDir string) (*engine.MemStore, error) {
	p, err := engine.NewPersistence(dataDir)
	if err != nil {
		return nil, err
	}

	allData, err := p.LoadAll()
	if err != nil {
		return nil, err
	}

	return engine.NewMemStore(allData, p), nil
}
