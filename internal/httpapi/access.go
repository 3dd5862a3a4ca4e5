package httpapi

import (
	"encoding/json"
	"net/http"

	"liveboard/internal/protocol"
)

type codeRequest struct {
	MasterPassword string `json:"masterPassword"`
	Name           string `json:"name"`
}

// authenticate never fails: anything unreadable is an empty password.
func (s *Server) authenticate(rw http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := s.decodeBody(r, protocol.SchemaAuth, &req); err != nil {
		req.Password = ""
	}
	res, err := s.svc.Authenticate(req.Password)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, res)
}

func (s *Server) listCodes(rw http.ResponseWriter, r *http.Request) {
	codes, err := s.svc.ListCodes(r.URL.Query().Get("masterPassword"))
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, codes)
}

func (s *Server) issueCode(rw http.ResponseWriter, r *http.Request) {
	req, ok := s.readCodeRequest(rw, r, false)
	if !ok {
		return
	}
	c, err := s.svc.IssueCode(req.MasterPassword, req.Name)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, c)
}

func (s *Server) renameCode(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	req, ok := s.readCodeRequest(rw, r, false)
	if !ok {
		return
	}
	c, err := s.svc.RenameCode(req.MasterPassword, id, req.Name)
	if err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, c)
}

func (s *Server) revokeCode(rw http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return
	}
	req, ok := s.readCodeRequest(rw, r, true)
	if !ok {
		return
	}
	if err := s.svc.RevokeCode(req.MasterPassword, id); err != nil {
		s.writeServiceError(rw, r, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]bool{"success": true})
}

// readCodeRequest reads a moderator-code body. The master password is checked
// before the body's shape, so a wrong secret is always a 403.
func (s *Server) readCodeRequest(rw http.ResponseWriter, r *http.Request, queryFallback bool) (codeRequest, bool) {
	var req codeRequest
	b, err := s.readBody(r)
	if err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return req, false
	}
	_ = json.Unmarshal(b, &req)
	if req.MasterPassword == "" && queryFallback {
		req.MasterPassword = r.URL.Query().Get("masterPassword")
	}
	if err := s.svc.CheckMaster(req.MasterPassword); err != nil {
		s.writeServiceError(rw, r, err)
		return req, false
	}
	master := req.MasterPassword
	if err := s.validateInto(b, protocol.SchemaModeratorCode, &req); err != nil {
		writeError(rw, http.StatusBadRequest, protocol.ErrBadRequest, err.Error())
		return req, false
	}
	if req.MasterPassword == "" {
		req.MasterPassword = master
	}
	return req, true
}
