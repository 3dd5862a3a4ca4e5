package board

import (
	"encoding/json"

	"liveboard/internal/protocol"
)

type Role string

const (
	RoleNone           Role = ""
	RoleEditor         Role = "editor"
	RoleAdmin          Role = "admin"
	RoleModeratorAdmin Role = "moderator_admin"
)

// AuthResult is the outcome of a login attempt. A mismatch is RoleNone, not
// an error. ThemeToggled marks the theme secret, which flips the theme
// instead of granting a role.
type AuthResult struct {
	Role         Role
	CodeName     string
	ThemeToggled bool
	IsNewYear    bool
}

func (r AuthResult) MarshalJSON() ([]byte, error) {
	out := map[string]any{"role": nil}
	if r.Role != RoleNone {
		out["role"] = string(r.Role)
	}
	if r.CodeName != "" {
		out["codeName"] = r.CodeName
	}
	if r.ThemeToggled {
		out["themeToggled"] = true
		out["isNewYear"] = r.IsNewYear
	}
	return json.Marshal(out)
}

type credential struct {
	role   Role
	secret string
}

// credentials is evaluated in order; the first exact match wins.
func (s *Service) credentials() []credential {
	return []credential{
		{RoleEditor, s.secrets.Editor},
		{RoleAdmin, s.secrets.Admin},
		{RoleModeratorAdmin, s.secrets.ModeratorMaster},
	}
}

// Authenticate maps a presented password to a role. The only error is a
// failed save after a theme toggle.
func (s *Service) Authenticate(password string) (AuthResult, error) {
	if password == "" {
		return AuthResult{}, nil
	}
	for _, c := range s.credentials() {
		if c.secret != "" && password == c.secret {
			return AuthResult{Role: c.role}, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	if s.secrets.ThemeToggle != "" && password == s.secrets.ThemeToggle {
		doc.IsNewYear = !doc.IsNewYear
		if err := s.save(doc); err != nil {
			return AuthResult{}, err
		}
		s.broadcast(protocol.EventThemeUpdated, protocol.ThemeState{IsNewYear: doc.IsNewYear})
		s.record(AuditEntry{Op: OpThemeToggle})
		s.log.Infow("theme toggled", "is_new_year", doc.IsNewYear)
		return AuthResult{ThemeToggled: true, IsNewYear: doc.IsNewYear}, nil
	}
	for _, c := range doc.ModeratorCodes {
		if c.Code == password {
			return AuthResult{Role: RoleEditor, CodeName: c.Name}, nil
		}
	}
	return AuthResult{}, nil
}
