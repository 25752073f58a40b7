package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/xkcd-mirror/internal/comic"
	"github.com/JakeFAU/xkcd-mirror/internal/hash/sha256"
	"github.com/JakeFAU/xkcd-mirror/internal/query"
	"github.com/JakeFAU/xkcd-mirror/internal/storage/memory"
	"github.com/JakeFAU/xkcd-mirror/internal/store"
	"github.com/JakeFAU/xkcd-mirror/internal/syncer"
)

func TestServer_ListComics_Empty(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/comics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestServer_ListComics_InStoreOrder(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, 2, 3, 5)
	rec := env.do(http.MethodGet, "/api/comics")

	require.Equal(t, http.StatusOK, rec.Code)
	var got []comic.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 4)
	require.Equal(t, 5, got[3].Number)
	require.Contains(t, rec.Body.String(), `"comic_number":1`)
	require.Contains(t, rec.Body.String(), `"file_name":"xkcd_1.png"`)
}

func TestServer_GetComic(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, 2)
	rec := env.do(http.MethodGet, "/api/comics/2")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "max-age=300", rec.Header().Get("Cache-Control"))
	require.JSONEq(t,
		`{"comic_number":2,"file_name":"xkcd_2.png","title":"Comic 2","caption":"Caption 2"}`,
		rec.Body.String(),
	)
}

func TestServer_GetComic_NotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	for _, path := range []string{"/api/comics/404", "/api/comics/abc"} {
		rec := env.do(http.MethodGet, path)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
		require.JSONEq(t, `{"error":"Comic not found"}`, rec.Body.String())
	}
}

func TestServer_GetComicImage(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1)
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 16)...)
	_, err := env.blobs.PutObject(context.Background(), "xkcd_1.png", "image/png", bytes.NewReader(png))
	require.NoError(t, err)

	rec := env.do(http.MethodGet, "/api/comics/1/image")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, png, rec.Body.Bytes())

	etag := rec.Header().Get("ETag")
	want, _ := sha256.New().Hash(png)
	require.Equal(t, `"`+want+`"`, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/comics/1/image", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(cached, req)
	require.Equal(t, http.StatusNotModified, cached.Code)
	require.Empty(t, cached.Body.Bytes())
}

func TestServer_GetComicImage_Missing(t *testing.T) {
	t.Parallel()

	// Metadata without an image object: the record exists but the image does not.
	env := newTestEnv(t, 1)
	rec := env.do(http.MethodGet, "/api/comics/1/image")

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"Image not found"}`, rec.Body.String())
}

func TestServer_RandomComic(t *testing.T) {
	t.Parallel()

	rec := newTestEnv(t).do(http.MethodGet, "/api/comics/random")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"No comics available"}`, rec.Body.String())

	rec = newTestEnv(t, 7).do(http.MethodGet, "/api/comics/random")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"comic_number":7`)
}

func TestServer_NavigateComics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, 2, 3, 5)
	tests := []struct {
		name   string
		path   string
		status int
		want   int
	}{
		{name: "next over gap", path: "/api/comics/navigate?current=3&direction=next", status: http.StatusOK, want: 5},
		{name: "prev over gap", path: "/api/comics/navigate?current=5&direction=prev", status: http.StatusOK, want: 3},
		{name: "defaults to next from 1", path: "/api/comics/navigate", status: http.StatusOK, want: 2},
		{name: "end of list", path: "/api/comics/navigate?current=5", status: http.StatusNotFound},
		{name: "non integer current", path: "/api/comics/navigate?current=abc", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := env.do(http.MethodGet, tt.path)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			var got comic.Record
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			require.Equal(t, tt.want, got.Number)
		})
	}
}

func TestServer_TriggerUpdate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/update")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"status":"Update started"}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/api/update")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"status":"Update already in progress"}`, rec.Body.String())

	require.Equal(t, 1, env.updater.starts())
}

func TestServer_TriggerUpdate_DetachedFromRequest(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/update", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	cancel()

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NoError(t, env.updater.lastCtx().Err())
}

func TestServer_Status(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"idle","time":null,"added":0}`, rec.Body.String())

	at := time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC)
	env.updater.setStatus(comic.UpdateStatus{State: comic.StateFailed, Time: &at, RunID: "run-1"})
	rec = env.do(http.MethodGet, "/api/status")
	require.JSONEq(t,
		`{"status":"failed","time":"2024-11-06T12:00:00Z","run_id":"run-1","added":0}`,
		rec.Body.String(),
	)
}

func TestServer_Pages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	for path, marker := range map[string]string{"/": "/api/comics/random", "/update": "/api/update"} {
		rec := env.do(http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
		require.Contains(t, rec.Body.String(), marker)
	}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz").Code)

	env.do(http.MethodGet, "/api/comics")
	rec := env.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/healthz")
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-id")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "upstream-id", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}

// --- helpers/fakes ---

type testEnv struct {
	server  *Server
	blobs   *memory.BlobStore
	updater *fakeUpdater
}

func newTestEnv(t *testing.T, numbers ...int) *testEnv {
	t.Helper()

	records := make([]comic.Record, 0, len(numbers))
	for _, n := range numbers {
		records = append(records, comic.Record{
			Number:   n,
			FileName: comic.FileName(n),
			Title:    fmt.Sprintf("Comic %d", n),
			Caption:  fmt.Sprintf("Caption %d", n),
		})
	}
	queries, err := query.New(readOnlyStore{snap: store.NewSnapshot(records)})
	require.NoError(t, err)

	env := &testEnv{
		blobs:   memory.NewBlobStore(),
		updater: &fakeUpdater{status: comic.UpdateStatus{State: comic.StateIdle}},
	}
	env.server = NewServer(
		context.Background(),
		queries,
		env.updater,
		env.blobs,
		sha256.New(),
		&fakeIDs{},
		zap.NewNop(),
	)
	return env
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

type readOnlyStore struct{ snap *store.Snapshot }

func (s readOnlyStore) All(context.Context) []comic.Record { return s.snap.Records() }

func (s readOnlyStore) Find(_ context.Context, n int) (comic.Record, error) {
	if rec, ok := s.snap.Find(n); ok {
		return rec, nil
	}
	return comic.Record{}, comic.ErrNotFound
}

func (s readOnlyStore) Numbers(context.Context) map[int]struct{} { return s.snap.Numbers() }

func (s readOnlyStore) Append(context.Context, []comic.Record) error { return nil }

// fakeUpdater accepts one Start and rejects the rest.
type fakeUpdater struct {
	mu      sync.Mutex
	running bool
	count   int
	ctx     context.Context
	status  comic.UpdateStatus
}

func (f *fakeUpdater) Start(ctx context.Context) (<-chan syncer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return nil, comic.ErrUpdateInProgress
	}
	f.running = true
	f.count++
	f.ctx = ctx
	return make(chan syncer.Result, 1), nil
}

func (f *fakeUpdater) Status() comic.UpdateStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeUpdater) setStatus(st comic.UpdateStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = st
}

func (f *fakeUpdater) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeUpdater) lastCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) MustNewID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("req-%d", f.n)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
