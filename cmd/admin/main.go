package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"liveboard/internal/board"
	"liveboard/internal/config"
	"liveboard/internal/persistence/docstore"
	persistlog "liveboard/internal/persistence/log"
	"liveboard/internal/persistence/snapshot"
)

const usage = `usage: admin <command> [flags]

commands:
  backups   list backups under <data>/backups
  restore   replace the data file with a backup
  audit     print audit entries from <data>/audit
  db        query the sqlite index (audits|backups|archives)
  state     print live server state (loopback only)
  backup    ask the running server to write a backup now`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "backups":
		backupsCmd(args)
	case "restore":
		restoreCmd(args)
	case "audit":
		auditCmd(args)
	case "db":
		dbCmd(args)
	case "state":
		stateCmd(args)
	case "backup":
		backupCmd(args)
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

type pathFlags struct {
	config  *string
	dataDir *string
}

func addPathFlags(fs *flag.FlagSet) pathFlags {
	return pathFlags{
		config:  fs.String("config", "", "server config.yaml (optional)"),
		dataDir: fs.String("data", "", "runtime data directory (overrides config)"),
	}
}

// resolve applies the same config layering as the server so both agree on
// where files live.
func (p pathFlags) resolve() config.Config {
	cfg, err := config.Load(*p.config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if d := strings.TrimSpace(*p.dataDir); d != "" {
		cfg.DataDir = d
		cfg.DataFile = filepath.Join(d, "data.json")
		cfg.Index.Path = filepath.Join(d, "index", "board.sqlite")
	}
	return cfg
}

type backupLine struct {
	File    string    `json:"file"`
	TakenAt time.Time `json:"taken_at"`
	Posts   int       `json:"posts"`
	Codes   int       `json:"codes"`
	Error   string    `json:"error,omitempty"`
}

func listBackups(dir string) ([]backupLine, error) {
	paths, err := snapshot.List(dir)
	if err != nil {
		return nil, err
	}
	out := make([]backupLine, 0, len(paths))
	for _, p := range paths {
		line := backupLine{File: filepath.Base(p)}
		h, _, err := snapshot.Read(p)
		if err != nil {
			line.Error = err.Error()
		} else {
			line.TakenAt, line.Posts, line.Codes = h.TakenAt, h.Posts, h.Codes
		}
		out = append(out, line)
	}
	return out, nil
}

func backupsCmd(args []string) {
	fs := flag.NewFlagSet("backups", flag.ExitOnError)
	pf := addPathFlags(fs)
	_ = fs.Parse(args)
	cfg := pf.resolve()

	lines, err := listBackups(filepath.Join(cfg.DataDir, "backups"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	if len(lines) == 0 {
		fmt.Println("no backups")
		return
	}
	for _, l := range lines {
		printJSON(l)
	}
}

// restore replaces dataFile with the document stored in backupPath. The
// previous data file, if any, is kept next to it with a .pre-restore suffix.
func restore(dataFile, backupPath string, now time.Time) (snapshot.Header, string, error) {
	h, doc, err := snapshot.Read(backupPath)
	if err != nil {
		return h, "", fmt.Errorf("read backup: %w", err)
	}
	var kept string
	if _, err := os.Stat(dataFile); err == nil {
		kept = fmt.Sprintf("%s.pre-restore-%d", dataFile, now.UnixMilli())
		if err := os.Rename(dataFile, kept); err != nil {
			return h, "", fmt.Errorf("keep current data file: %w", err)
		}
	}
	if err := docstore.WriteFile(dataFile, doc); err != nil {
		return h, kept, fmt.Errorf("write data file: %w", err)
	}
	return h, kept, nil
}

func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	pf := addPathFlags(fs)
	from := fs.String("backup", "", "backup file (default: latest)")
	_ = fs.Parse(args)
	cfg := pf.resolve()

	path := strings.TrimSpace(*from)
	if path == "" {
		latest, err := snapshot.Latest(filepath.Join(cfg.DataDir, "backups"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest backup:", err)
			os.Exit(2)
		}
		path = latest
	}

	h, kept, err := restore(cfg.DataFile, path, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	fmt.Printf("restore ok: backup=%s taken_at=%s posts=%d codes=%d data_file=%s previous=%s\n",
		filepath.Base(path), h.TakenAt.Format(time.RFC3339), h.Posts, h.Codes, cfg.DataFile, kept)
	fmt.Println("restart the server to serve the restored document")
}

func filterAudit(entries []board.AuditEntry, postID int64, op string, since time.Time) []board.AuditEntry {
	var out []board.AuditEntry
	for _, e := range entries {
		if postID != 0 && e.PostID != postID {
			continue
		}
		if op != "" && e.Op != op {
			continue
		}
		if !since.IsZero() && e.TS.Before(since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	pf := addPathFlags(fs)
	postID := fs.Int64("post", 0, "post id filter")
	op := fs.String("op", "", "operation filter (create|update|delete|view|like|unlike|code_issue|code_rename|code_revoke|theme_toggle)")
	since := fs.Duration("since", 0, "only entries newer than this (e.g. 24h)")
	_ = fs.Parse(args)
	cfg := pf.resolve()

	entries, err := persistlog.ReadAudit(cfg.DataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	var cutoff time.Time
	if *since > 0 {
		cutoff = time.Now().Add(-*since)
	}
	for _, e := range filterAudit(entries, *postID, strings.TrimSpace(*op), cutoff) {
		printJSON(e)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
