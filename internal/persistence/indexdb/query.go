package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"liveboard/internal/board"
)

// Reader queries an index written by SQLiteIndex, typically from another
// process.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

type AuditFilter struct {
	PostID int64
	Op     string
	Limit  int
}

type AuditRow struct {
	Seq int64 `json:"seq"`
	board.AuditEntry
}

// Audits returns the newest matching entries first.
func (r *Reader) Audits(f AuditFilter) ([]AuditRow, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	q := `SELECT seq,ts_ms,op,post_id,code_id,actor,views,likes FROM audits WHERE 1=1`
	var args []any
	if f.PostID != 0 {
		q += ` AND post_id = ?`
		args = append(args, f.PostID)
	}
	if f.Op != "" {
		q += ` AND op = ?`
		args = append(args, f.Op)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, f.Limit)

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audits: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var (
			row  AuditRow
			tsMS int64
		)
		if err := rows.Scan(&row.Seq, &tsMS, &row.Op, &row.PostID, &row.CodeID, &row.Actor, &row.Views, &row.Likes); err != nil {
			return nil, err
		}
		row.TS = time.UnixMilli(tsMS).UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Reader) Backups(limit int) ([]BackupRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(`SELECT taken_at_ms,path,posts,codes FROM backups ORDER BY taken_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query backups: %w", err)
	}
	defer rows.Close()
	var out []BackupRow
	for rows.Next() {
		var b BackupRow
		if err := rows.Scan(&b.TakenAtMS, &b.Path, &b.Posts, &b.Codes); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Reader) Archives(limit int) ([]ArchiveRow, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.Query(`SELECT day,path,recorded_at FROM archives ORDER BY day DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query archives: %w", err)
	}
	defer rows.Close()
	var out []ArchiveRow
	for rows.Next() {
		var a ArchiveRow
		if err := rows.Scan(&a.Day, &a.Path, &a.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
