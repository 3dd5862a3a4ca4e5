package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"liveboard/internal/board"
	"liveboard/internal/config"
	"liveboard/internal/persistence/indexdb"
	"liveboard/internal/persistence/snapshot"
)

// runtimeIndex is the read-model index. It never affects request handling:
// writes are queued and dropped when the writer falls behind.
type runtimeIndex interface {
	board.AuditLogger
	RecordBackup(path string, h snapshot.Header)
	RecordArchive(day, path string)
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
	Close() error
}

func openRuntimeIndex(cfg config.Index, logger *zap.SugaredLogger) (runtimeIndex, error) {
	if cfg.Disabled {
		logger.Infow("index disabled")
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Infow("index opened", "backend", backend, "path", cfg.Path)
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported INDEX_BACKEND: %s", backend)
	}
}
