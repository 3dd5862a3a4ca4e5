package realtime

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"liveboard/internal/board"
	"liveboard/internal/protocol"
)

const defaultQueue = 64

// Session is one connected realtime viewer. The transport drains Out.
type Session struct {
	ID        string
	Synthetic bool

	out chan []byte
}

func NewSession(synthetic bool, queue int) *Session {
	if queue <= 0 {
		queue = defaultQueue
	}
	return &Session{
		ID:        uuid.NewString(),
		Synthetic: synthetic,
		out:       make(chan []byte, queue),
	}
}

func (s *Session) Out() <-chan []byte { return s.out }

// send never blocks; a full queue drops the frame.
func (s *Session) send(b []byte) bool {
	select {
	case s.out <- b:
		return true
	default:
		return false
	}
}

type Stats struct {
	Real       int
	Synthetic  int
	Broadcasts uint64
	Dropped    uint64
}

// Hub fans events out to every registered session. Only real sessions are
// counted as viewers.
type Hub struct {
	log *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*Session
	real     int

	broadcasts atomic.Uint64
	dropped    atomic.Uint64
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{log: log, sessions: map[string]*Session{}}
}

// Connect registers sess. A real session also receives the current posts, and
// nothing else, before any later broadcast.
func (h *Hub) Connect(sess *Session, initial []board.Post) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, dup := h.sessions[sess.ID]; dup {
		return
	}
	h.sessions[sess.ID] = sess
	if sess.Synthetic {
		h.log.Debugw("synthetic session connected", "session", sess.ID)
		return
	}
	h.real++
	h.log.Infow("viewer connected", "session", sess.ID, "viewers", h.real)

	if initial == nil {
		initial = []board.Post{}
	}
	b, err := protocol.Encode(protocol.EventPostsUpdated, initial)
	if err != nil {
		h.log.Errorw("encode initial posts failed", "err", err)
		return
	}
	if !sess.send(b) {
		h.dropped.Add(1)
	}
}

// Disconnect is idempotent.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	if !sess.Synthetic {
		h.real--
		h.log.Infow("viewer disconnected", "session", id, "viewers", h.real)
	}
}

// Broadcast encodes payload once and queues it for every session.
func (h *Hub) Broadcast(event string, payload any) {
	b, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Errorw("encode broadcast failed", "event", event, "err", err)
		return
	}
	h.broadcasts.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sess := range h.sessions {
		if !sess.send(b) {
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.real
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	st := Stats{Real: h.real, Synthetic: len(h.sessions) - h.real}
	h.mu.Unlock()
	st.Broadcasts = h.broadcasts.Load()
	st.Dropped = h.dropped.Load()
	return st
}
