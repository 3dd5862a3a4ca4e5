// Package keepalive generates synthetic traffic against the board so an idle
// free-tier host does not spin down. It is an ordinary client of the HTTP and
// realtime surface; everything it sends is tagged synthetic.
package keepalive

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"liveboard/internal/protocol"
)

type Options struct {
	// BaseURL is the public http(s) origin of the board.
	BaseURL string

	Bots         int
	Interval     time.Duration
	StartDelay   time.Duration
	PingInterval time.Duration
	Reconnect    time.Duration

	Logger *zap.SugaredLogger
	Client *http.Client
	Dialer *websocket.Dialer
	Rand   *rand.Rand
}

type Stats struct {
	Dials      uint64
	DialErrors uint64
	Pings      uint64
	Probes     uint64
	SelfPings  uint64
	Failures   uint64
}

type Runner struct {
	opts Options
	log  *zap.SugaredLogger

	rndMu sync.Mutex
	rnd   *rand.Rand

	dials      atomic.Uint64
	dialErrors atomic.Uint64
	pings      atomic.Uint64
	probes     atomic.Uint64
	selfPings  atomic.Uint64
	failures   atomic.Uint64
}

func New(opts Options) (*Runner, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("keepalive: bad base url %q", opts.BaseURL)
	}
	opts.BaseURL = u.String()
	if opts.Bots < 0 {
		opts.Bots = 0
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.Reconnect <= 0 {
		opts.Reconnect = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	r := &Runner{opts: opts, log: opts.Logger, rnd: opts.Rand}
	if r.rnd == nil {
		var seed [32]byte
		_, _ = crand.Read(seed[:])
		r.rnd = rand.New(rand.NewChaCha8(seed))
	}
	return r, nil
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) {
	if r.opts.StartDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.StartDelay):
		}
	}
	r.log.Infow("keep-alive started",
		"base_url", r.opts.BaseURL,
		"bots", r.opts.Bots,
		"interval", r.opts.Interval,
	)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Bots; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.runSession(ctx, n)
		}(i)
	}

	r.Tick(ctx)
	t := time.NewTicker(r.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.log.Infow("keep-alive stopped")
			return
		case <-t.C:
			r.Tick(ctx)
		}
	}
}

// Tick performs one round of HTTP activity: a view probe on a random post and
// a self-ping.
func (r *Runner) Tick(ctx context.Context) {
	if err := r.probe(ctx); err != nil {
		r.failures.Add(1)
		r.log.Warnw("view probe failed", "err", err)
	}
	if err := r.selfPing(ctx); err != nil {
		r.failures.Add(1)
		r.log.Warnw("self-ping failed", "err", err)
	}
}

func (r *Runner) Stats() Stats {
	return Stats{
		Dials:      r.dials.Load(),
		DialErrors: r.dialErrors.Load(),
		Pings:      r.pings.Load(),
		Probes:     r.probes.Load(),
		SelfPings:  r.selfPings.Load(),
		Failures:   r.failures.Load(),
	}
}

func (r *Runner) probe(ctx context.Context) error {
	var posts []struct {
		ID int64 `json:"id"`
	}
	if err := r.getJSON(ctx, "/api/posts", &posts); err != nil {
		return err
	}
	if len(posts) == 0 {
		return nil
	}
	r.rndMu.Lock()
	id := posts[r.rnd.IntN(len(posts))].ID
	r.rndMu.Unlock()

	target := fmt.Sprintf("%s/api/posts/%d/view?%s=true", r.opts.BaseURL, id, protocol.SyntheticQueryParam)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	// The post may have been deleted since the list was read.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("view probe %d: status %d", id, resp.StatusCode)
	}
	r.probes.Add(1)
	return nil
}

func (r *Runner) selfPing(ctx context.Context) error {
	var body struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
	}
	if err := r.getJSON(ctx, "/api/keepalive", &body); err != nil {
		return err
	}
	r.selfPings.Add(1)
	r.log.Debugw("self-ping", "status", body.Status, "connections", body.Connections)
	return nil
}

func (r *Runner) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.opts.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.opts.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (r *Runner) wsURL() string {
	u := r.opts.BaseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	default:
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws?" + protocol.SyntheticQueryParam + "=true"
}

// runSession keeps one synthetic realtime session open, reconnecting after a
// fixed delay whenever it drops.
func (r *Runner) runSession(ctx context.Context, n int) {
	for {
		err := r.session(ctx)
		if ctx.Err() != nil {
			return
		}
		r.log.Debugw("synthetic session dropped", "bot", n, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.opts.Reconnect):
		}
	}
}

func (r *Runner) session(ctx context.Context) error {
	conn, _, err := r.opts.Dialer.DialContext(ctx, r.wsURL(), nil)
	if err != nil {
		r.dialErrors.Add(1)
		return err
	}
	r.dials.Add(1)
	defer conn.Close()

	// Reader: drain broadcasts so the server never sees a stalled peer.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ping, _ := protocol.Encode(protocol.EventPing, nil)
	t := time.NewTicker(r.opts.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-t.C:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return err
			}
			r.pings.Add(1)
		}
	}
}
