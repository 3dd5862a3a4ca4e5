package board

import (
	crand "crypto/rand"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"liveboard/internal/config"
)

// Store persists the whole document. Load never fails: an unreadable store
// yields EmptyDocument.
type Store interface {
	Load() Document
	Save(doc Document) error
}

// Broadcaster delivers an event to every connected realtime session.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

type Options struct {
	Secrets config.Secrets
	Logger  *zap.SugaredLogger
	Audit   AuditLogger

	// Now and Rand are replaceable for tests.
	Now  func() time.Time
	Rand *rand.Rand
}

// Service owns every read-modify-write of the document. Operations are
// serialised: load, mutate, save and broadcast finish before the next one
// starts, so sessions observe events in mutation order.
type Service struct {
	mu sync.Mutex

	store   Store
	bc      Broadcaster
	audit   AuditLogger
	secrets config.Secrets
	log     *zap.SugaredLogger
	now     func() time.Time
	rnd     *rand.Rand
}

func NewService(store Store, bc Broadcaster, opts Options) *Service {
	s := &Service{
		store:   store,
		bc:      bc,
		audit:   opts.Audit,
		secrets: opts.Secrets,
		log:     opts.Logger,
		now:     opts.Now,
		rnd:     opts.Rand,
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rnd == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		s.rnd = rand.New(rand.NewChaCha8(seed))
	}
	return s
}

// Attach runs fn with the current posts while holding the service lock, so a
// new session's initial snapshot cannot interleave with a mutation broadcast.
func (s *Service) Attach(fn func(posts []Post)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.store.Load()
	doc.Normalize()
	fn(doc.Posts)
}

// Document returns a copy of the whole persisted state.
func (s *Service) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.store.Load()
	doc.Normalize()
	return doc.Clone()
}

func (s *Service) IsNewYear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Load().IsNewYear
}

func (s *Service) load() Document {
	doc := s.store.Load()
	doc.Normalize()
	return doc
}

func (s *Service) save(doc Document) error {
	if err := s.store.Save(doc); err != nil {
		s.log.Errorw("save document failed", "err", err)
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) broadcast(event string, payload any) {
	if s.bc == nil {
		return
	}
	s.bc.Broadcast(event, payload)
}

func (s *Service) record(e AuditEntry) {
	if s.audit == nil {
		return
	}
	e.TS = s.now().UTC()
	_ = s.audit.WriteAudit(e)
}

// nextID derives ids from the clock in milliseconds; two creations in the
// same millisecond still get distinct, increasing ids.
func (s *Service) nextID(doc Document) int64 {
	id := s.now().UnixMilli()
	if m := doc.maxID(); id <= m {
		id = m + 1
	}
	return id
}
