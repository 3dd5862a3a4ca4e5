package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"liveboard/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	pf := addPathFlags(fs)
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/board.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	postID := fs.Int64("post", 0, "post id filter (audits)")
	op := fs.String("op", "", "operation filter (audits)")
	_ = fs.Parse(args)
	cfg := pf.resolve()

	q := "audits"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = cfg.Index.Path
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	switch q {
	case "audits", "events":
		rows, err := r.Audits(indexdb.AuditFilter{PostID: *postID, Op: strings.TrimSpace(*op), Limit: *limit})
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			printJSON(row)
		}

	case "backups":
		rows, err := r.Backups(*limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			printJSON(row)
		}

	case "archives":
		rows, err := r.Archives(*limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, row := range rows {
			printJSON(row)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-limit N] [-post ID] [-op OP] audits|backups|archives")
		os.Exit(2)
	}
}
