package r2s3

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type putRecord struct {
	path, auth, sha, date string
	body                  []byte
}

type fakeBucket struct {
	mu   sync.Mutex
	puts []putRecord
	fail int
}

func (b *fakeBucket) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if b.fail > 0 {
			b.fail--
			http.Error(w, "<Error>SlowDown</Error>", http.StatusServiceUnavailable)
			return
		}
		b.puts = append(b.puts, putRecord{
			path: r.URL.EscapedPath(),
			auth: r.Header.Get("Authorization"),
			sha:  r.Header.Get("x-amz-content-sha256"),
			date: r.Header.Get("x-amz-date"),
			body: body,
		})
	})
}

func (b *fakeBucket) snapshot() []putRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]putRecord(nil), b.puts...)
}

func newTestClient(t *testing.T, b *fakeBucket) *Client {
	t.Helper()
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)
	c, err := New(Config{Endpoint: srv.URL, Bucket: "board", AccessKeyID: "AKID", SecretAccessKey: "secret"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example", Bucket: "b", AccessKeyID: "k"}); err == nil {
		t.Fatalf("expected error without secret")
	}
	c, err := New(Config{Endpoint: "r2.example/", Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.endpoint != "https://r2.example" || c.region != "auto" {
		t.Fatalf("endpoint=%s region=%s", c.endpoint, c.region)
	}
}

func TestPutFile_SignsRequest(t *testing.T) {
	b := &fakeBucket{}
	c := newTestClient(t, b)
	local := filepath.Join(t.TempDir(), "1700.json.zst")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.PutFile(context.Background(), "/prod/backups/1700.json.zst", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	puts := b.snapshot()
	if len(puts) != 1 {
		t.Fatalf("puts=%d want=1", len(puts))
	}
	p := puts[0]
	if p.path != "/board/prod/backups/1700.json.zst" {
		t.Fatalf("path=%s", p.path)
	}
	if string(p.body) != "payload" {
		t.Fatalf("body=%q", p.body)
	}
	if p.sha != sha256Hex([]byte("payload")) {
		t.Fatalf("sha=%s", p.sha)
	}
	if p.date != "20260102T030405Z" {
		t.Fatalf("date=%s", p.date)
	}
	wantPrefix := "AWS4-HMAC-SHA256 Credential=AKID/20260102/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(p.auth, wantPrefix) {
		t.Fatalf("auth=%s", p.auth)
	}
	if sig := strings.TrimPrefix(p.auth, wantPrefix); len(sig) != 64 {
		t.Fatalf("signature len=%d", len(sig))
	}
}

func TestPutFile_ErrorStatus(t *testing.T) {
	b := &fakeBucket{fail: 1}
	c := newTestClient(t, b)
	local := filepath.Join(t.TempDir(), "x")
	_ = os.WriteFile(local, []byte("x"), 0o644)

	err := c.PutFile(context.Background(), "x", local)
	if err == nil || !strings.Contains(err.Error(), "status=503") {
		t.Fatalf("err=%v", err)
	}
	if err := c.PutFile(context.Background(), "../", local); err == nil {
		t.Fatalf("expected error for escaping key")
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	cases := map[string]string{
		"backups/1.json.zst":      "backups/1.json.zst",
		"/archives//2026-01-02/x": "archives/2026-01-02/x",
		`archives\d\meta.json`:    "archives/d/meta.json",
		"a/../b":                  "b",
		"":                        "",
		"/":                       "",
	}
	for in, want := range cases {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestEscapePath(t *testing.T) {
	if got := escapePath("a b/c?d"); got != "a%20b/c%3Fd" {
		t.Fatalf("escapePath=%s", got)
	}
}
