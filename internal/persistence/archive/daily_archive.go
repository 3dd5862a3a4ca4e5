package archive

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"liveboard/internal/persistence/snapshot"
)

type DailyArchiveMeta struct {
	Day       string    `json:"day"`
	Snapshot  string    `json:"snapshot"`
	TakenAt   time.Time `json:"taken_at"`
	Posts     int       `json:"posts"`
	Codes     int       `json:"codes"`
	CreatedAt string    `json:"created_at"`
}

// ArchiveDaily copies the first snapshot of each UTC day into
// `dataDir/archives/<YYYY-MM-DD>/`. Later snapshots of an archived day are
// skipped with archived=false.
func ArchiveDaily(dataDir, snapshotPath string, h snapshot.Header) (day, archivedPath string, archived bool, err error) {
	day = h.TakenAt.UTC().Format(time.DateOnly)
	archiveDir := filepath.Join(dataDir, "archives", day)
	if _, err := os.Stat(filepath.Join(archiveDir, "meta.json")); err == nil {
		return day, "", false, nil
	}
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return day, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return day, "", false, err
	}

	meta := DailyArchiveMeta{
		Day:       day,
		Snapshot:  filepath.Base(dst),
		TakenAt:   h.TakenAt.UTC(),
		Posts:     h.Posts,
		Codes:     h.Codes,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}
	return day, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
