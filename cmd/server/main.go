package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"liveboard/internal/board"
	"liveboard/internal/config"
	"liveboard/internal/httpapi"
	"liveboard/internal/keepalive"
	"liveboard/internal/persistence/docstore"
	persistlog "liveboard/internal/persistence/log"
	"liveboard/internal/protocol"
	"liveboard/internal/realtime"
	"liveboard/internal/transport/ws"
)

func main() {
	var (
		configPath  = flag.String("config", "", "path to config.yaml (optional; environment overrides it)")
		addr        = flag.String("addr", "", "http listen address (overrides config and PORT)")
		noKeepAlive = flag.Bool("no_keepalive", false, "disable the keep-alive task")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("load config", "err", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Addr = strings.TrimSpace(*addr)
	}
	if *noKeepAlive {
		cfg.KeepAlive.Enabled = false
	}

	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	_ = os.MkdirAll(cfg.DataDir, 0o755)

	idx, err := openRuntimeIndex(cfg.Index, logger)
	if err != nil {
		logger.Fatalw("open index backend", "err", err)
	}
	if idx != nil {
		defer idx.Close()
	}

	mirror, err := buildMirrorRuntime(cfg.Mirror, cfg.DataDir, logger)
	if err != nil {
		logger.Fatalw("init r2 mirror", "err", err)
	}
	defer mirror.Close()

	auditLog := persistlog.NewAuditLogger(cfg.DataDir)
	defer auditLog.Close()
	audit := board.MultiAuditLogger{auditLog}
	if idx != nil {
		audit = append(audit, idx)
	}

	hub := realtime.NewHub(logger.Named("hub"))
	store := docstore.New(cfg.DataFile, logger.Named("store"))
	svc := board.NewService(store, hub, board.Options{
		Secrets: cfg.Secrets,
		Logger:  logger.Named("board"),
		Audit:   audit,
	})

	schemas, err := protocol.NewValidator()
	if err != nil {
		logger.Fatalw("compile schemas", "err", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	limiter := httpapi.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	if limiter != nil {
		go limiter.Run(ctx)
	}

	backups := &backupRunner{
		svc:     svc,
		dataDir: cfg.DataDir,
		keep:    cfg.Backup.Keep,
		archive: cfg.Backup.Archive,
		idx:     idx,
		mirror:  mirror,
		log:     logger.Named("backup"),
		now:     time.Now,
	}
	backupDone := make(chan struct{})
	go func() {
		defer close(backupDone)
		backups.Run(ctx, cfg.Backup.Interval)
	}()

	api := httpapi.New(svc, hub, schemas, httpapi.Options{
		Logger:       logger.Named("http"),
		Limiter:      limiter,
		TrustProxy:   cfg.HTTP.TrustProxy,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Realtime:     ws.NewServer(svc, hub, logger.Named("ws")).Handler(),
		StaticDir:    cfg.StaticDir,
	})
	r := api.Router()

	var ka *keepalive.Runner
	if cfg.KeepAlive.Enabled {
		ka, err = keepalive.New(keepalive.Options{
			BaseURL:      cfg.SelfURL(),
			Bots:         cfg.KeepAlive.Bots,
			Interval:     cfg.KeepAlive.Interval,
			StartDelay:   cfg.KeepAlive.StartDelay,
			PingInterval: cfg.KeepAlive.PingInterval,
			Reconnect:    cfg.KeepAlive.Reconnect,
			Logger:       logger.Named("keepalive"),
		})
		if err != nil {
			logger.Fatalw("keep-alive", "err", err)
		}
	}

	m := &metricsSource{svc: svc, hub: hub, idx: idx, mirror: mirror, limiter: limiter, keepalive: ka, backups: backups}
	r.Handle("/metrics", m)

	enableAdminHTTP := envBool("ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		mountAdmin(r, svc, hub, backups)
	} else {
		logger.Infow("admin endpoints disabled (ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	}
	api.MountStatic(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ListenAndServe returns as soon as Shutdown starts; in-flight handlers
	// still write audit entries until shutdownDone closes.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx2); err != nil {
			logger.Warnw("http shutdown", "err", err)
		}
	}()

	kaDone := make(chan struct{})
	if ka != nil {
		go func() {
			defer close(kaDone)
			ka.Run(ctx)
		}()
	} else {
		close(kaDone)
	}

	logger.Infow("listening",
		"addr", cfg.Addr,
		"data_file", cfg.DataFile,
		"keepalive", cfg.KeepAlive.Enabled,
		"self_url", cfg.SelfURL(),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalw("ListenAndServe", "err", err)
	}

	<-shutdownDone
	<-kaDone
	<-backupDone
	if idx != nil {
		fctx, fcancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = idx.Flush(fctx)
		fcancel()
	}
	logger.Infow("stopped")
}

// newLogger builds the process logger. LOG_FORMAT=console switches to the
// human-readable encoder.
func newLogger(level string) *zap.SugaredLogger {
	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		lvl = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := zc.Build()
	if err != nil {
		return zap.NewExample().Sugar()
	}
	return l.Sugar()
}

type adminState struct {
	Posts       int            `json:"posts"`
	Codes       int            `json:"codes"`
	IsNewYear   bool           `json:"is_new_year"`
	Connections realtime.Stats `json:"connections"`
	LastBackup  *backupResult  `json:"last_backup,omitempty"`
}

// mountAdmin registers local-only admin endpoints.
func mountAdmin(r *mux.Router, svc *board.Service, hub *realtime.Hub, backups *backupRunner) {
	r.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, req *http.Request) {
		if !httpapi.IsLoopbackRemote(req.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		doc := svc.Document()
		resp := adminState{
			Posts:       len(doc.Posts),
			Codes:       len(doc.ModeratorCodes),
			IsNewYear:   doc.IsNewYear,
			Connections: hub.Stats(),
			LastBackup:  backups.Last(),
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}).Methods(http.MethodGet)

	r.HandleFunc("/admin/v1/backup", func(rw http.ResponseWriter, req *http.Request) {
		if !httpapi.IsLoopbackRemote(req.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		res, err := backups.RunOnce()
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": filepath.Base(res.Path), "posts": res.Header.Posts})
	}).Methods(http.MethodPost)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
