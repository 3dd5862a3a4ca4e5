package main

import (
	"fmt"
	"io"
	"net/http"

	"liveboard/internal/board"
	"liveboard/internal/httpapi"
	"liveboard/internal/keepalive"
	"liveboard/internal/realtime"
)

// metricsSource renders the Prometheus text exposition format by hand.
// Every field except svc and hub may be nil.
type metricsSource struct {
	svc       *board.Service
	hub       *realtime.Hub
	idx       runtimeIndex
	mirror    *mirrorRuntime
	limiter   *httpapi.RateLimiter
	keepalive *keepalive.Runner
	backups   *backupRunner
}

func (m *metricsSource) ServeHTTP(rw http.ResponseWriter, _ *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m.write(rw)
}

func (m *metricsSource) write(w io.Writer) {
	doc := m.svc.Document()
	hs := m.hub.Stats()

	gauge(w, "liveboard_posts", "Current number of posts.", len(doc.Posts))
	gauge(w, "liveboard_moderator_codes", "Current number of moderator codes.", len(doc.ModeratorCodes))
	newYear := 0
	if doc.IsNewYear {
		newYear = 1
	}
	gauge(w, "liveboard_theme_new_year", "1 when the seasonal theme is on.", newYear)

	fmt.Fprintf(w, "# HELP liveboard_connections Current realtime sessions.\n")
	fmt.Fprintf(w, "# TYPE liveboard_connections gauge\n")
	fmt.Fprintf(w, "liveboard_connections{kind=%q} %d\n", "real", hs.Real)
	fmt.Fprintf(w, "liveboard_connections{kind=%q} %d\n", "synthetic", hs.Synthetic)

	counter(w, "liveboard_broadcasts_total", "Events fanned out to realtime sessions.", hs.Broadcasts)
	counter(w, "liveboard_broadcast_dropped_total", "Events dropped because a session queue was full.", hs.Dropped)

	if m.limiter != nil {
		counter(w, "liveboard_rate_limited_total", "Requests rejected by the write rate limiter.", m.limiter.Rejected())
	}
	if m.backups != nil {
		total, fails := m.backups.counts()
		counter(w, "liveboard_backups_total", "Backups written.", total)
		counter(w, "liveboard_backup_failures_total", "Backups that failed to write.", fails)
	}
	if m.keepalive != nil {
		ks := m.keepalive.Stats()
		counter(w, "liveboard_keepalive_probes_total", "Synthetic view probes sent.", ks.Probes)
		counter(w, "liveboard_keepalive_self_pings_total", "Self-pings sent.", ks.SelfPings)
		counter(w, "liveboard_keepalive_failures_total", "Failed keep-alive requests.", ks.Failures)
		counter(w, "liveboard_keepalive_dial_errors_total", "Failed synthetic session dials.", ks.DialErrors)
	}
	m.writeIndex(w)
	m.writeMirror(w)
}

func (m *metricsSource) writeIndex(w io.Writer) {
	if m.idx == nil {
		return
	}
	s := m.idx.Stats()
	gauge(w, "liveboard_index_queue_depth", "Current index writer queue depth.", s.QueueDepth)
	gauge(w, "liveboard_index_queue_capacity", "Index writer queue capacity.", s.QueueCapacity)
	fmt.Fprintf(w, "# HELP liveboard_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE liveboard_index_dropped_total counter\n")
	fmt.Fprintf(w, "liveboard_index_dropped_total{kind=%q} %d\n", "audit", s.DropAuditTotal)
	fmt.Fprintf(w, "liveboard_index_dropped_total{kind=%q} %d\n", "backup", s.DropBackupTotal)
	fmt.Fprintf(w, "liveboard_index_dropped_total{kind=%q} %d\n", "archive", s.DropArchiveTotal)
	counter(w, "liveboard_index_written_total", "Index rows written.", s.WrittenTotal)
	counter(w, "liveboard_index_errors_total", "Index write errors.", s.ErrorTotal)
}

func (m *metricsSource) writeMirror(w io.Writer) {
	s, ok := m.mirror.Stats()
	if !ok {
		return
	}
	gauge(w, "liveboard_r2_mirror_queue_depth", "Current R2 mirror queue depth.", s.QueueDepth)
	gauge(w, "liveboard_r2_mirror_queue_capacity", "R2 mirror queue capacity.", s.QueueCapacity)
	counter(w, "liveboard_r2_mirror_enqueued_total", "Total mirror enqueue attempts.", s.EnqueuedTotal)
	counter(w, "liveboard_r2_mirror_queue_saturated_total", "Total enqueue attempts when queue was saturated.", s.QueueSaturatedTotal)
	counter(w, "liveboard_r2_mirror_dropped_total", "Total mirror files dropped because queue remained saturated.", s.DroppedTotal)
	counter(w, "liveboard_r2_mirror_upload_success_total", "Total successful mirror uploads.", s.UploadSuccessTotal)
	counter(w, "liveboard_r2_mirror_upload_fail_total", "Total failed mirror uploads after retry.", s.UploadFailTotal)
	gauge(w, "liveboard_r2_mirror_last_success_unix", "Unix timestamp of last successful mirror upload.", s.LastSuccessUnix)
	gauge(w, "liveboard_r2_mirror_last_error_unix", "Unix timestamp of last failed mirror upload.", s.LastErrorUnix)
}

func gauge[T int | int64 | uint64](w io.Writer, name, help string, v T) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
}

func counter[T int | int64 | uint64](w io.Writer, name, help string, v T) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
}
