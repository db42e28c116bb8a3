package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/authgw/internal/backend"
)

// capturedRequest is what a recording backend saw.
type capturedRequest struct {
	Method        string
	EscapedPath   string
	RawQuery      string
	Header        http.Header
	Body          []byte
	ContentLength int64
}

type recordingBackend struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest
	calls    atomic.Int32
}

// newRecordingBackend starts a backend that records every request and
// answers with handler, or 200 "ok" when handler is nil.
func newRecordingBackend(t *testing.T, handler http.HandlerFunc) *recordingBackend {
	t.Helper()

	b := &recordingBackend{}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.calls.Add(1)

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		b.mu.Lock()
		b.requests = append(b.requests, capturedRequest{
			Method:        r.Method,
			EscapedPath:   r.URL.EscapedPath(),
			RawQuery:      r.URL.RawQuery,
			Header:        r.Header.Clone(),
			Body:          body,
			ContentLength: r.ContentLength,
		})
		b.mu.Unlock()

		r.Body = io.NopCloser(bytes.NewReader(body))
		if handler != nil {
			handler(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(b.Close)

	return b
}

func (b *recordingBackend) last(t *testing.T) capturedRequest {
	t.Helper()

	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.requests, "backend received no request")
	return b.requests[len(b.requests)-1]
}

func newTestRegistry(t *testing.T, services map[string]string) *backend.Registry {
	t.Helper()

	r := backend.NewRegistry(nil)
	require.NoError(t, r.Load(services))
	return r
}

func newTestForwarder(t *testing.T, prefix string, services map[string]string, opts ...ForwarderOption) *Forwarder {
	t.Helper()

	opts = append([]ForwarderOption{WithRoutePrefix(prefix)}, opts...)
	return NewForwarder(newTestRegistry(t, services), backend.NewConnectionPool(backend.DefaultPoolConfig()).Client(), opts...)
}

// fakeRemote maps credentials to subjects and counts lookups.
type fakeRemote struct {
	subjects map[string]string
	calls    atomic.Int32
}

func (f *fakeRemote) Resolve(_ context.Context, credential string) (string, error) {
	f.calls.Add(1)
	if s, ok := f.subjects[credential]; ok {
		return s, nil
	}
	return "", errRejected
}

var errRejected = errors.New("rejected")
