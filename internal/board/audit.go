package board

import "time"

// Audit operations.
const (
	OpCreate      = "create"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpView        = "view"
	OpLike        = "like"
	OpUnlike      = "unlike"
	OpCodeIssue   = "code_issue"
	OpCodeRename  = "code_rename"
	OpCodeRevoke  = "code_revoke"
	OpThemeToggle = "theme_toggle"
)

// AuditEntry records one successful mutation, after it was persisted.
type AuditEntry struct {
	TS     time.Time `json:"ts"`
	Op     string    `json:"op"`
	PostID int64     `json:"post_id,omitempty"`
	CodeID int64     `json:"code_id,omitempty"`
	Actor  string    `json:"actor,omitempty"`
	Views  int64     `json:"views,omitempty"`
	Likes  int64     `json:"likes,omitempty"`
}

// AuditLogger must not block; sinks that fall behind drop entries.
type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// MultiAuditLogger fans an entry out to every non-nil sink.
type MultiAuditLogger []AuditLogger

func (m MultiAuditLogger) WriteAudit(entry AuditEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteAudit(entry)
		}
	}
	return nil
}
