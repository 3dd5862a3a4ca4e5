package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"liveboard/internal/board"
	"liveboard/internal/persistence/snapshot"
)

// SQLiteIndex is a queryable copy of the audit trail and backup history.
// Writes are queued to a single writer goroutine and dropped when the queue
// is full; the JSONL audit files remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu orders sends on ch against close(ch): senders hold it shared.
	mu     sync.RWMutex
	closed atomic.Bool

	dropAudit   atomic.Uint64
	dropBackup  atomic.Uint64
	dropArchive atomic.Uint64
	written     atomic.Uint64
	failed      atomic.Uint64
}

type Stats struct {
	QueueDepth       int
	QueueCapacity    int
	DropAuditTotal   uint64
	DropBackupTotal  uint64
	DropArchiveTotal uint64
	WrittenTotal     uint64
	ErrorTotal       uint64
}

type reqKind int

const (
	reqAudit reqKind = iota + 1
	reqBackup
	reqArchive
	reqFlush
)

type req struct {
	kind reqKind

	audit   board.AuditEntry
	backup  BackupRow
	archive ArchiveRow
	done    chan struct{}
}

type BackupRow struct {
	TakenAtMS int64  `json:"taken_at_ms"`
	Path      string `json:"path"`
	Posts     int    `json:"posts"`
	Codes     int    `json:"codes"`
}

type ArchiveRow struct {
	Day        string `json:"day"`
	Path       string `json:"path"`
	RecordedAt string `json:"recorded_at"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS audits (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			ts_ms INTEGER NOT NULL,
			op TEXT NOT NULL,
			post_id INTEGER NOT NULL,
			code_id INTEGER NOT NULL,
			actor TEXT NOT NULL,
			views INTEGER NOT NULL,
			likes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_post_ts ON audits(post_id, ts_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_audits_op_ts ON audits(op, ts_ms);`,
		`CREATE TABLE IF NOT EXISTS backups (
			taken_at_ms INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			posts INTEGER NOT NULL,
			codes INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS archives (
			day TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteAudit satisfies board.AuditLogger. It never blocks.
func (s *SQLiteIndex) WriteAudit(entry board.AuditEntry) error {
	if s == nil {
		return nil
	}
	if !s.offer(req{kind: reqAudit, audit: entry}) {
		s.dropAudit.Add(1)
	}
	return nil
}

// offer queues r without blocking. It reports false when the queue is full;
// after Close it silently discards r.
func (s *SQLiteIndex) offer(r req) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return true
	}
	select {
	case s.ch <- r:
		return true
	default:
		return false
	}
}

func (s *SQLiteIndex) RecordBackup(path string, h snapshot.Header) {
	if s == nil {
		return
	}
	r := BackupRow{
		TakenAtMS: h.TakenAt.UnixMilli(),
		Path:      path,
		Posts:     h.Posts,
		Codes:     h.Codes,
	}
	if !s.offer(req{kind: reqBackup, backup: r}) {
		s.dropBackup.Add(1)
	}
}

func (s *SQLiteIndex) RecordArchive(day, path string) {
	if s == nil || day == "" || path == "" {
		return
	}
	r := ArchiveRow{Day: day, Path: path, RecordedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	if !s.offer(req{kind: reqArchive, archive: r}) {
		s.dropArchive.Add(1)
	}
}

// Flush waits until everything queued before the call is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return nil
	}
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
		DropAuditTotal:   s.dropAudit.Load(),
		DropBackupTotal:  s.dropBackup.Load(),
		DropArchiveTotal: s.dropArchive.Load(),
		WrittenTotal:     s.written.Load(),
		ErrorTotal:       s.failed.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertAudit, _ := s.db.Prepare(`INSERT INTO audits(ts_ms,op,post_id,code_id,actor,views,likes,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertBackup, _ := s.db.Prepare(`INSERT OR REPLACE INTO backups(taken_at_ms,path,posts,codes) VALUES(?,?,?,?)`)
	insertArchive, _ := s.db.Prepare(`INSERT OR REPLACE INTO archives(day,path,recorded_at) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertAudit, insertBackup, insertArchive} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.failed.Add(1)
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(1)
		} else {
			s.written.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	handle := func(r req) {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			return
		}
		begin()
		if tx == nil {
			return
		}
		switch r.kind {
		case reqAudit:
			a := r.audit
			raw, _ := json.Marshal(a)
			exec(insertAudit, a.TS.UnixMilli(), a.Op, a.PostID, a.CodeID, a.Actor, a.Views, a.Likes, string(raw))
		case reqBackup:
			b := r.backup
			exec(insertBackup, b.TakenAtMS, b.Path, b.Posts, b.Codes)
		case reqArchive:
			a := r.archive
			exec(insertArchive, a.Day, a.Path, a.RecordedAt)
		}
		if opCount >= commitEvery {
			commit()
		}
	}

	// Commit idle transactions on a timer.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()
	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			handle(r)
		case <-ticker.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
