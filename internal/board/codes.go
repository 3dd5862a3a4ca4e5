package board

import "strings"

const (
	codeAlphabet    = "abcdefghijklmnopqrstuvwxyz"
	codeLength      = 6
	DefaultCodeName = "Без имени"
)

func (s *Service) masterOK(master string) bool {
	return s.secrets.ModeratorMaster != "" && master == s.secrets.ModeratorMaster
}

// CheckMaster reports ErrAccessDenied unless master is the moderator master
// password.
func (s *Service) CheckMaster(master string) error {
	if !s.masterOK(master) {
		return ErrAccessDenied
	}
	return nil
}

func (s *Service) ListCodes(master string) ([]ModeratorCode, error) {
	if !s.masterOK(master) {
		return nil, ErrAccessDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load().ModeratorCodes, nil
}

// IssueCode creates a new multi-use access code. Codes are not checked for
// collisions with existing ones.
func (s *Service) IssueCode(master, name string) (ModeratorCode, error) {
	if !s.masterOK(master) {
		return ModeratorCode{}, ErrAccessDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	c := ModeratorCode{
		ID:        s.nextID(doc),
		Code:      s.newCode(),
		Name:      codeName(name),
		CreatedAt: s.now().UTC(),
	}
	doc.ModeratorCodes = append(doc.ModeratorCodes, c)
	if err := s.save(doc); err != nil {
		return ModeratorCode{}, err
	}
	s.record(AuditEntry{Op: OpCodeIssue, CodeID: c.ID, Actor: c.Name})
	s.log.Infow("moderator code issued", "id", c.ID, "name", c.Name)
	return c, nil
}

func (s *Service) RenameCode(master string, id int64, name string) (ModeratorCode, error) {
	if !s.masterOK(master) {
		return ModeratorCode{}, ErrAccessDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	i := doc.findCode(id)
	if i < 0 {
		return ModeratorCode{}, ErrNotFound
	}
	doc.ModeratorCodes[i].Name = codeName(name)
	if err := s.save(doc); err != nil {
		return ModeratorCode{}, err
	}
	s.record(AuditEntry{Op: OpCodeRename, CodeID: id, Actor: doc.ModeratorCodes[i].Name})
	return doc.ModeratorCodes[i], nil
}

// RevokeCode removes the code; revoking an unknown id succeeds.
func (s *Service) RevokeCode(master string, id int64) error {
	if !s.masterOK(master) {
		return ErrAccessDenied
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.load()
	kept := doc.ModeratorCodes[:0]
	for _, c := range doc.ModeratorCodes {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	doc.ModeratorCodes = kept
	if err := s.save(doc); err != nil {
		return err
	}
	s.record(AuditEntry{Op: OpCodeRevoke, CodeID: id})
	return nil
}

func (s *Service) newCode() string {
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[s.rnd.IntN(len(codeAlphabet))]
	}
	return string(b)
}

func codeName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return DefaultCodeName
	}
	return name
}
