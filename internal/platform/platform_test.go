package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/redis"
)

func quietLogger(t *testing.T) logging.Logger {
	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel, Output: io.Discard})
	require.NoError(t, err)
	return logger
}

// fakePlatform serves canned answers and counts calls per path
type fakePlatform struct {
	server *httptest.Server
	calls  map[string]*int32
	routes map[string]http.HandlerFunc
}

func newFakePlatform(t *testing.T, routes map[string]http.HandlerFunc) *fakePlatform {
	f := &fakePlatform{
		calls:  make(map[string]*int32),
		routes: routes,
	}
	for path := range routes {
		f.calls[path] = new(int32)
	}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler, ok := f.routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		atomic.AddInt32(f.calls[r.URL.Path], 1)
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakePlatform) count(path string) int {
	if c, ok := f.calls[path]; ok {
		return int(atomic.LoadInt32(c))
	}
	return 0
}

func (f *fakePlatform) api(t *testing.T) *APIClient {
	return NewAPIClient(APIConfig{BaseURL: f.server.URL, Logger: quietLogger(t)})
}

func writeJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func newMiniredisStore(t *testing.T) (*cache.RedisStore, *redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return cache.NewRedisStore(client, ""), client, mr
}

// brokenStore fails every operation the way an unreachable Redis would
type brokenStore struct{}

func (brokenStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.CacheUnavailableError("read "+key, io.ErrUnexpectedEOF)
}

func (brokenStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.CacheUnavailableError("write "+key, io.ErrUnexpectedEOF)
}

// writeFailingStore reads as empty and refuses writes
type writeFailingStore struct{}

func (writeFailingStore) Get(ctx context.Context, key string) (string, bool, error) {
	return "", false, nil
}

func (writeFailingStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.CacheUnavailableError("write "+key, io.ErrClosedPipe)
}
