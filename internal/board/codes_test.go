package board

import (
	"errors"
	"testing"
	"time"
)

func TestCodes_RequireMasterSecret(t *testing.T) {
	f := newFixture(t)
	for _, master := range []string{"", "wrong", testSecrets.Admin} {
		if _, err := f.svc.ListCodes(master); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("ListCodes(%q) err=%v want ErrAccessDenied", master, err)
		}
		if _, err := f.svc.IssueCode(master, "x"); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("IssueCode(%q) err=%v", master, err)
		}
		if _, err := f.svc.RenameCode(master, 1, "x"); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("RenameCode(%q) err=%v", master, err)
		}
		if err := f.svc.RevokeCode(master, 1); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("RevokeCode(%q) err=%v", master, err)
		}
	}
	if f.store.saves != 0 {
		t.Fatalf("denied calls saved %d times", f.store.saves)
	}
}

func TestCodes_EmptyMasterNeverMatches(t *testing.T) {
	f := newFixture(t)
	f.svc.secrets.ModeratorMaster = ""
	if _, err := f.svc.ListCodes(""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("empty master must not unlock codes: err=%v", err)
	}
}

func TestIssueCode_ShapeAndPersistence(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.IssueCode(testSecrets.ModeratorMaster, "  Alice ")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if len(c.Code) != codeLength {
		t.Fatalf("code=%q len=%d want %d", c.Code, len(c.Code), codeLength)
	}
	for _, r := range c.Code {
		if r < 'a' || r > 'z' {
			t.Fatalf("code=%q has non-lowercase rune %q", c.Code, r)
		}
	}
	if c.Name != "Alice" {
		t.Fatalf("name=%q want Alice", c.Name)
	}
	if !c.CreatedAt.Equal(f.clock.t) || c.CreatedAt.Location() != time.UTC {
		t.Fatalf("createdAt=%v", c.CreatedAt)
	}
	if f.bc.count() != 0 {
		t.Fatalf("issuing a code must not broadcast")
	}

	codes, err := f.svc.ListCodes(testSecrets.ModeratorMaster)
	if err != nil || len(codes) != 1 || codes[0].Code != c.Code {
		t.Fatalf("ListCodes=%+v err=%v", codes, err)
	}
}

func TestIssueCode_DefaultName(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.IssueCode(testSecrets.ModeratorMaster, "   ")
	if err != nil {
		t.Fatalf("IssueCode: %v", err)
	}
	if c.Name != DefaultCodeName {
		t.Fatalf("name=%q want %q", c.Name, DefaultCodeName)
	}
}

func TestIssueCode_IDsDistinctFromPosts(t *testing.T) {
	f := newFixture(t)
	p, _ := f.svc.Create(fields(t, `{"title":"A"}`))
	c, _ := f.svc.IssueCode(testSecrets.ModeratorMaster, "Bob")
	if c.ID <= p.ID {
		t.Fatalf("code id=%d must follow post id=%d", c.ID, p.ID)
	}
}

func TestRenameCode(t *testing.T) {
	f := newFixture(t)
	c, _ := f.svc.IssueCode(testSecrets.ModeratorMaster, "Alice")

	got, err := f.svc.RenameCode(testSecrets.ModeratorMaster, c.ID, "Alicia")
	if err != nil {
		t.Fatalf("RenameCode: %v", err)
	}
	if got.Name != "Alicia" || got.Code != c.Code {
		t.Fatalf("renamed=%+v", got)
	}
	got, _ = f.svc.RenameCode(testSecrets.ModeratorMaster, c.ID, "")
	if got.Name != DefaultCodeName {
		t.Fatalf("empty rename name=%q want %q", got.Name, DefaultCodeName)
	}
	if _, err := f.svc.RenameCode(testSecrets.ModeratorMaster, c.ID+1, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestRevokeCode_Idempotent(t *testing.T) {
	f := newFixture(t)
	a, _ := f.svc.IssueCode(testSecrets.ModeratorMaster, "A")
	f.clock.t = f.clock.t.Add(time.Millisecond)
	b, _ := f.svc.IssueCode(testSecrets.ModeratorMaster, "B")

	if err := f.svc.RevokeCode(testSecrets.ModeratorMaster, a.ID); err != nil {
		t.Fatalf("RevokeCode: %v", err)
	}
	if err := f.svc.RevokeCode(testSecrets.ModeratorMaster, a.ID); err != nil {
		t.Fatalf("RevokeCode twice: %v", err)
	}
	codes, _ := f.svc.ListCodes(testSecrets.ModeratorMaster)
	if len(codes) != 1 || codes[0].ID != b.ID {
		t.Fatalf("codes=%+v want only %d", codes, b.ID)
	}

	res, _ := f.svc.Authenticate(a.Code)
	if a.Code != b.Code && res.Role != RoleNone {
		t.Fatalf("revoked code still authenticates: %+v", res)
	}
}

func TestIssueCode_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.failErr = errDiskFull
	if _, err := f.svc.IssueCode(testSecrets.ModeratorMaster, "x"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err=%v want ErrStoreUnavailable", err)
	}
	f.store.failErr = nil
	codes, _ := f.svc.ListCodes(testSecrets.ModeratorMaster)
	if len(codes) != 0 {
		t.Fatalf("failed issue left codes=%+v", codes)
	}
}
