// Package snapshot writes point-in-time backups of the board document as
// zstd-compressed files: one JSON header line, then the document.
package snapshot

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"liveboard/internal/board"
)

const (
	Version = 1
	Ext     = ".json.zst"
)

var ErrNoSnapshot = errors.New("no snapshot")

type Header struct {
	Version int       `json:"version"`
	TakenAt time.Time `json:"taken_at"`
	Posts   int       `json:"posts"`
	Codes   int       `json:"codes"`
}

func HeaderFor(doc board.Document, at time.Time) Header {
	return Header{
		Version: Version,
		TakenAt: at.UTC(),
		Posts:   len(doc.Posts),
		Codes:   len(doc.ModeratorCodes),
	}
}

// PathFor names a snapshot by its capture time in unix milliseconds, so a
// lexical sort of equally sized names is chronological.
func PathFor(dir string, at time.Time) string {
	return filepath.Join(dir, strconv.FormatInt(at.UnixMilli(), 10)+Ext)
}

// Take writes doc into dir and returns the new file's path and header.
func Take(dir string, doc board.Document, at time.Time) (string, Header, error) {
	h := HeaderFor(doc, at)
	path := PathFor(dir, at)
	if err := Write(path, h, doc); err != nil {
		return "", Header{}, err
	}
	return path, h, nil
}

func Write(path string, h Header, doc board.Document) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := write(tmp, h, doc); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func write(path string, h Header, doc board.Document) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	doc.Normalize()
	if err := json.NewEncoder(bw).Encode(doc); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

func Read(path string) (Header, board.Document, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, board.Document{}, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, board.Document{}, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, board.Document{}, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, board.Document{}, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return h, board.Document{}, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	doc := board.EmptyDocument()
	if err := json.NewDecoder(br).Decode(&doc); err != nil {
		return h, board.Document{}, fmt.Errorf("decode document: %w", err)
	}
	doc.Normalize()
	return h, doc, nil
}

// List returns snapshot paths in dir, oldest first.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type entry struct {
		ms   int64
		path string
	}
	var out []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, Ext) {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSuffix(name, Ext), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, entry{ms: ms, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ms < out[j].ms })
	paths := make([]string, len(out))
	for i, e := range out {
		paths[i] = e.path
	}
	return paths, nil
}

func Latest(dir string) (string, error) {
	paths, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoSnapshot
	}
	return paths[len(paths)-1], nil
}

// Prune deletes all but the newest keep snapshots. keep <= 0 keeps all.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	paths, err := List(dir)
	if err != nil || len(paths) <= keep {
		return nil, err
	}
	victims := paths[:len(paths)-keep]
	var removed []string
	for _, p := range victims {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}
