// Package docstore keeps the board document in a single JSON file.
package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"liveboard/internal/board"
)

// FileStore reads and rewrites the whole document on every call. It has no
// locking of its own; board.Service serialises access.
type FileStore struct {
	path string
	log  *zap.SugaredLogger
}

func New(path string, log *zap.SugaredLogger) *FileStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileStore{path: path, log: log}
}

func (s *FileStore) Path() string { return s.path }

// Load never fails. A missing file is an empty board; an unreadable or
// malformed one is logged and also treated as empty.
func (s *FileStore) Load() board.Document {
	doc, err := ReadFile(s.path)
	if err != nil {
		s.log.Warnw("document unreadable, using empty board", "path", s.path, "err", err)
		return board.EmptyDocument()
	}
	return doc
}

func (s *FileStore) Save(doc board.Document) error {
	doc.Normalize()
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, b)
}

// ReadFile decodes a document file. A missing file yields an empty document
// and no error.
func ReadFile(path string) (board.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return board.EmptyDocument(), nil
		}
		return board.Document{}, err
	}
	return Decode(b)
}

func Decode(b []byte) (board.Document, error) {
	doc := board.EmptyDocument()
	if err := json.Unmarshal(b, &doc); err != nil {
		return board.Document{}, fmt.Errorf("parse document: %w", err)
	}
	doc.Normalize()
	return doc, nil
}

// Encode renders the document the way it is stored on disk: two-space
// indented JSON.
func Encode(doc board.Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// WriteFile replaces path with doc in one rename.
func WriteFile(path string, doc board.Document) error {
	doc.Normalize()
	b, err := Encode(doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}

func writeFileAtomic(path string, b []byte) error {
	if path == "" {
		return fmt.Errorf("docstore: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
