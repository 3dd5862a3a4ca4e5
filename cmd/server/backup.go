package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"liveboard/internal/board"
	"liveboard/internal/persistence/archive"
	"liveboard/internal/persistence/snapshot"
)

type backupResult struct {
	Path     string          `json:"path"`
	Header   snapshot.Header `json:"header"`
	Archived string          `json:"archived,omitempty"`
	Pruned   int             `json:"pruned"`
}

// backupRunner writes periodic compressed backups of the board document under
// <data>/backups, keeps the newest `keep`, archives the first backup of each
// UTC day and hands every new file to the mirror.
type backupRunner struct {
	svc     *board.Service
	dataDir string
	keep    int
	archive bool
	idx     runtimeIndex
	mirror  *mirrorRuntime
	log     *zap.SugaredLogger
	now     func() time.Time

	mu    sync.Mutex
	last  *backupResult
	total uint64
	fails uint64
}

func backupDir(dataDir string) string { return filepath.Join(dataDir, "backups") }

// Run takes a backup every interval and a final one when ctx is done.
func (b *backupRunner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		<-ctx.Done()
		b.runLogged()
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			b.runLogged()
			return
		case <-t.C:
			b.runLogged()
		}
	}
}

func (b *backupRunner) runLogged() {
	if _, err := b.RunOnce(); err != nil {
		b.log.Errorw("backup failed", "err", err)
	}
}

func (b *backupRunner) RunOnce() (backupResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc := b.svc.Document()
	path, h, err := snapshot.Take(backupDir(b.dataDir), doc, b.now())
	if err != nil {
		b.fails++
		return backupResult{}, err
	}
	b.total++
	res := backupResult{Path: path, Header: h}
	b.mirror.Enqueue(path)
	if b.idx != nil {
		b.idx.RecordBackup(path, h)
	}

	if b.archive {
		day, archivedPath, ok, err := archive.ArchiveDaily(b.dataDir, path, h)
		if err != nil {
			b.log.Warnw("archive backup", "path", path, "err", err)
		} else if ok {
			res.Archived = archivedPath
			if b.idx != nil {
				b.idx.RecordArchive(day, archivedPath)
			}
			b.mirror.Enqueue(archivedPath)
			b.mirror.EnqueueIfExists(filepath.Join(filepath.Dir(archivedPath), "meta.json"))
		}
	}

	removed, err := snapshot.Prune(backupDir(b.dataDir), b.keep)
	if err != nil {
		b.log.Warnw("prune backups", "err", err)
	}
	res.Pruned = len(removed)

	b.last = &res
	b.log.Infow("backup written",
		"path", filepath.Base(path),
		"posts", h.Posts,
		"codes", h.Codes,
		"archived", res.Archived != "",
		"pruned", res.Pruned,
	)
	return res, nil
}

func (b *backupRunner) Last() *backupResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil
	}
	r := *b.last
	return &r
}

func (b *backupRunner) counts() (total, fails uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total, b.fails
}
