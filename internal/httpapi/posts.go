package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"liveboard/internal/protocol"
)

func (s *Server) listPosts(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, s.svc.List())
}

func (s *Server) createPost(rw http.ResponseWriter, r *http.Request) {
	var fields map[string]json.RawMessage
	if err := s.decodeBody(r, protocol.SchemaPostCreate, &fields); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	p, err := s.svc.Create(fields)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

func (s *Server) updatePost(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	var partial map[string]json.RawMessage
	if err := s.decodeBody(r, protocol.SchemaPostUpdate, &partial); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	p, err := s.svc.Update(id, partial)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, p)
}

// deletePost is idempotent: an id that names no post, numeric or not,
// succeeds without touching the store.
func (s *Server) deletePost(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(rw, http.StatusOK, map[string]bool{"success": true})
		return
	}
	if err := s.svc.Delete(id); err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) viewPost(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	synthetic, _ := strconv.ParseBool(r.URL.Query().Get(protocol.SyntheticQueryParam))
	views, err := s.svc.RecordView(id, synthetic)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]int64{"views": views})
}

func (s *Server) likePost(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	var req struct {
		VisitorID string `json:"visitorId"`
	}
	if err := s.decodeBody(r, protocol.SchemaLike, &req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	res, err := s.svc.ToggleLike(id, req.VisitorID)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}
