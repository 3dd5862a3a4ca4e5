// Package httpapi exposes the board over JSON HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"liveboard/internal/board"
	"liveboard/internal/protocol"
	"liveboard/internal/realtime"
)

type Options struct {
	Logger *zap.SugaredLogger

	// Limiter throttles mutating routes per client. Nil disables throttling.
	Limiter *RateLimiter

	// TrustProxy keys the limiter on the client address reported by the
	// reverse proxy (X-Forwarded-For, X-Real-IP) instead of the socket peer.
	TrustProxy bool

	// MaxBodyBytes caps request bodies. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Realtime is mounted at /ws when set.
	Realtime http.Handler

	// StaticDir is served at / when set.
	StaticDir string
}

type Server struct {
	svc     *board.Service
	hub     *realtime.Hub
	schemas *protocol.Validator
	limiter *RateLimiter
	log     *zap.SugaredLogger
	opts    Options
}

func New(svc *board.Service, hub *realtime.Hub, schemas *protocol.Validator, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Server{
		svc:     svc,
		hub:     hub,
		schemas: schemas,
		limiter: opts.Limiter,
		log:     log,
		opts:    opts,
	}
}

// Router builds the route table. Callers may add more routes before serving.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	api := r.PathPrefix("/api").Subrouter()
	write := func(h http.HandlerFunc) http.Handler { return s.throttle(h) }

	api.Methods(http.MethodGet).Path("/posts").HandlerFunc(s.listPosts)
	api.Methods(http.MethodPost).Path("/posts").Handler(write(s.createPost))
	api.Methods(http.MethodPut).Path("/posts/{id}").Handler(write(s.updatePost))
	api.Methods(http.MethodDelete).Path("/posts/{id}").Handler(write(s.deletePost))
	api.Methods(http.MethodPost).Path("/posts/{id}/view").Handler(write(s.viewPost))
	api.Methods(http.MethodPost).Path("/posts/{id}/like").Handler(write(s.likePost))

	api.Methods(http.MethodPost).Path("/auth").Handler(write(s.authenticate))

	api.Methods(http.MethodGet).Path("/moderator-codes").HandlerFunc(s.listCodes)
	api.Methods(http.MethodPost).Path("/moderator-codes").Handler(write(s.issueCode))
	api.Methods(http.MethodPut).Path("/moderator-codes/{id}").Handler(write(s.renameCode))
	api.Methods(http.MethodDelete).Path("/moderator-codes/{id}").Handler(write(s.revokeCode))

	api.Methods(http.MethodGet).Path("/keepalive").HandlerFunc(s.keepalive)
	api.Methods(http.MethodGet).Path("/theme").HandlerFunc(s.theme)

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	if s.opts.Realtime != nil {
		r.Path("/ws").Handler(s.opts.Realtime)
	}
	return r
}

// MountStatic serves the static directory for every path no other route
// claimed. Call it after all other routes are registered.
func (s *Server) MountStatic(r *mux.Router) {
	if s.opts.StaticDir == "" {
		return
	}
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
}

func (s *Server) keepalive(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, map[string]any{
		"status":      "alive",
		"connections": s.hub.Count(),
	})
}

func (s *Server) theme(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, protocol.ThemeState{IsNewYear: s.svc.IsNewYear()})
}
