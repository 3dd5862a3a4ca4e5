package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"liveboard/internal/board"
	"liveboard/internal/protocol"
)

// DefaultMaxBodyBytes leaves room for inline images in post fields.
const DefaultMaxBodyBytes = 50 << 20

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, code, msg string) {
	writeJSON(rw, status, protocol.ErrorBody{Error: msg, Code: code})
}

// writeServiceError maps board sentinel errors onto HTTP statuses.
func (s *Server) writeServiceError(rw http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, board.ErrNotFound):
		writeError(rw, http.StatusNotFound, protocol.ErrNotFound, "not found")
	case errors.Is(err, board.ErrAccessDenied):
		writeError(rw, http.StatusForbidden, protocol.ErrAccessDenied, "access denied")
	case errors.Is(err, board.ErrStoreUnavailable):
		writeError(rw, http.StatusInternalServerError, protocol.ErrStoreUnavailable, "storage unavailable")
	default:
		s.log.Errorw("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(rw, http.StatusInternalServerError, protocol.ErrInternal, "internal error")
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id %q", raw)
	}
	return id, nil
}

func (s *Server) readBody(r *http.Request) ([]byte, error) {
	limit := s.opts.MaxBodyBytes
	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return b, nil
}

// decodeBody validates the request body against schema and decodes it into
// dst. An empty body is treated as {}.
func (s *Server) decodeBody(r *http.Request, schema string, dst any) error {
	b, err := s.readBody(r)
	if err != nil {
		return err
	}
	return s.validateInto(b, schema, dst)
}

func (s *Server) validateInto(b []byte, schema string, dst any) error {
	if len(b) == 0 {
		b = []byte("{}")
	}
	if err := s.schemas.ValidateBytes(schema, b); err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
