package board

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"liveboard/internal/config"
)

// memStore keeps the document as JSON so every Load hands out a fresh copy,
// the same way the file store does.
type memStore struct {
	mu      sync.Mutex
	raw     []byte
	saves   int
	failErr error
}

func (m *memStore) Load() Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := EmptyDocument()
	if len(m.raw) == 0 {
		return doc
	}
	if err := json.Unmarshal(m.raw, &doc); err != nil {
		return EmptyDocument()
	}
	doc.Normalize()
	return doc
}

func (m *memStore) Save(doc Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	m.raw = b
	m.saves++
	return nil
}

type sentEvent struct {
	Event   string
	Payload []byte
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingBroadcaster) Broadcast(event string, payload any) {
	b, _ := json.Marshal(payload)
	r.mu.Lock()
	r.events = append(r.events, sentEvent{Event: event, Payload: b})
	r.mu.Unlock()
}

func (r *recordingBroadcaster) last(t *testing.T) sentEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatalf("expected a broadcast, got none")
	}
	return r.events[len(r.events)-1]
}

func (r *recordingBroadcaster) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAudit) WriteAudit(e AuditEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

var testSecrets = config.Secrets{
	Editor:          "editor-pw",
	Admin:           "admin-pw",
	ModeratorMaster: "master-pw",
	ThemeToggle:     "theme-pw",
}

type fixture struct {
	svc   *Service
	store *memStore
	bc    *recordingBroadcaster
	audit *recordingAudit
	clock *fixedClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: &memStore{},
		bc:    &recordingBroadcaster{},
		audit: &recordingAudit{},
		clock: &fixedClock{t: time.UnixMilli(1_700_000_000_000)},
	}
	f.svc = NewService(f.store, f.bc, Options{
		Secrets: testSecrets,
		Audit:   f.audit,
		Now:     f.clock.Now,
		Rand:    rand.New(rand.NewPCG(1, 2)),
	})
	return f
}

func fields(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("fields %s: %v", raw, err)
	}
	return m
}

var errDiskFull = errors.New("disk full")
