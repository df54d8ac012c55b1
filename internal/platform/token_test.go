package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wechat-gateway/internal/common/cache"
	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/locks"
)

func credentialHandler(t *testing.T, token string, expiresIn int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "client_credential", q.Get("grant_type"))
		assert.Equal(t, "wxapp", q.Get("appid"))
		assert.Equal(t, "secret", q.Get("secret"))
		writeJSON(fmt.Sprintf(`{"access_token":%q,"expires_in":%d}`, token, expiresIn))(w, r)
	}
}

func newProvider(t *testing.T, api *APIClient, store cache.CredentialStore, opts ...TokenProviderOption) *TokenProvider {
	opts = append([]TokenProviderOption{WithLogger(quietLogger(t))}, opts...)
	provider, err := NewTokenProvider(api, store, TokenProviderConfig{
		AppID:     "wxapp",
		AppSecret: "secret",
	}, opts...)
	require.NoError(t, err)
	return provider
}

func TestCacheTTL(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		margin    time.Duration
		want      time.Duration
	}{
		{"platform default", 7200, 20 * time.Minute, 6000 * time.Second},
		{"margin equals expiry", 1200, 20 * time.Minute, 600 * time.Second},
		{"margin exceeds expiry", 60, 20 * time.Minute, 30 * time.Second},
		{"small margin", 7200, time.Minute, 7140 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CacheTTL(tt.expiresIn, tt.margin))
		})
	}
}

func TestNewTokenProvider_Validation(t *testing.T) {
	api := NewAPIClient(APIConfig{Logger: quietLogger(t)})

	_, err := NewTokenProvider(nil, cache.NewLocalStore(time.Minute), TokenProviderConfig{AppID: "a", AppSecret: "b"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewTokenProvider(api, cache.NewLocalStore(time.Minute), TokenProviderConfig{AppID: "a"})
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}

func TestTokenProvider_CacheHit(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "REMOTE", 7200),
	})
	store, _, mr := newMiniredisStore(t)

	payload := `{"access_token":"CACHED","expires_in":7200,"issued_at":1744100071}`
	require.NoError(t, store.SetWithTTL(context.Background(), GlobalTokenKey, payload, time.Hour))

	provider := newProvider(t, f.api(t), store)
	credential, err := provider.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "CACHED", credential.Value)
	assert.Equal(t, 7200, credential.TTLSeconds)
	assert.Equal(t, int64(1744100071), credential.IssuedAt.Unix())
	assert.Equal(t, 0, f.count("/cgi-bin/token"))

	stored, err := mr.Get(GlobalTokenKey)
	require.NoError(t, err)
	assert.Equal(t, payload, stored, "a cache hit never rewrites the entry")
}

func TestTokenProvider_LegacyBareValue(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "REMOTE", 7200),
	})
	store := cache.NewLocalStore(time.Minute)
	require.NoError(t, store.SetWithTTL(context.Background(), GlobalTokenKey, "BARE_TOKEN", time.Hour))

	token, err := newProvider(t, f.api(t), store).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BARE_TOKEN", token)
	assert.Equal(t, 0, f.count("/cgi-bin/token"))
}

func TestTokenProvider_MissRefreshesOnce(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "T1", 7200),
	})
	store, _, mr := newMiniredisStore(t)

	issued := time.Unix(1744100071, 0)
	provider := newProvider(t, f.api(t), store, WithClock(func() time.Time { return issued }))

	credential, err := provider.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", credential.Value)
	assert.Equal(t, 7200, credential.TTLSeconds)
	assert.Equal(t, issued, credential.IssuedAt)
	assert.Equal(t, issued.Add(2*time.Hour), credential.ExpiresAt())

	assert.Equal(t, 6000*time.Second, mr.TTL(GlobalTokenKey))
	stored, err := mr.Get(GlobalTokenKey)
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stored), &entry))
	assert.Equal(t, "T1", entry["access_token"])
	assert.Equal(t, float64(7200), entry["expires_in"])
	assert.Equal(t, float64(1744100071), entry["issued_at"])

	for i := 0; i < 3; i++ {
		token, err := provider.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "T1", token)
	}
	assert.Equal(t, 1, f.count("/cgi-bin/token"))
}

func TestTokenProvider_ShortExpiryUsesHalf(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "SHORT", 600),
	})
	store, _, mr := newMiniredisStore(t)

	_, err := newProvider(t, f.api(t), store).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 300*time.Second, mr.TTL(GlobalTokenKey))
}

func TestTokenProvider_ExpiredEntryRefreshes(t *testing.T) {
	var n int32
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": func(w http.ResponseWriter, r *http.Request) {
			i := atomic.AddInt32(&n, 1)
			writeJSON(fmt.Sprintf(`{"access_token":"T%d","expires_in":7200}`, i))(w, r)
		},
	})
	store, _, mr := newMiniredisStore(t)
	provider := newProvider(t, f.api(t), store)

	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", token)

	mr.FastForward(6001 * time.Second)

	token, err = provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T2", token)
	assert.Equal(t, 2, f.count("/cgi-bin/token"))
}

func TestTokenProvider_ConcurrentMissesShareOneRefresh(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			writeJSON(`{"access_token":"SHARED","expires_in":7200}`)(w, r)
		},
	})
	provider := newProvider(t, f.api(t), cache.NewLocalStore(time.Minute))

	const callers = 25
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = provider.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "SHARED", tokens[i])
	}
	assert.Equal(t, 1, f.count("/cgi-bin/token"))
}

func TestTokenProvider_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": func(w http.ResponseWriter, r *http.Request) {
			<-release
			writeJSON(`{"access_token":"LATE","expires_in":7200}`)(w, r)
		},
	})
	store := cache.NewLocalStore(time.Minute)
	provider := newProvider(t, f.api(t), store)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := provider.Get(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTokenUnavailable))
	assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))

	close(release)

	require.Eventually(t, func() bool {
		value, found, _ := store.Get(context.Background(), GlobalTokenKey)
		return found && value != ""
	}, time.Second, 10*time.Millisecond)

	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LATE", token)
	assert.Equal(t, 1, f.count("/cgi-bin/token"))
}

func TestTokenProvider_Failures(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		causeType errors.ErrorType
		errcode   int
	}{
		{
			name:      "error envelope",
			handler:   writeJSON(`{"errcode":40013,"errmsg":"invalid appid"}`),
			causeType: errors.ErrTypeRemoteAPI,
			errcode:   40013,
		},
		{
			name:      "empty token",
			handler:   writeJSON(`{"access_token":"","expires_in":7200}`),
			causeType: errors.ErrTypeDecode,
		},
		{
			name:      "non-positive expiry",
			handler:   writeJSON(`{"access_token":"T","expires_in":0}`),
			causeType: errors.ErrTypeDecode,
		},
		{
			name:      "malformed body",
			handler:   writeJSON(`not json`),
			causeType: errors.ErrTypeDecode,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			causeType: errors.ErrTypeRemoteAPI,
			errcode:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePlatform(t, map[string]http.HandlerFunc{"/cgi-bin/token": tt.handler})
			store, _, mr := newMiniredisStore(t)

			_, err := newProvider(t, f.api(t), store).Get(context.Background())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrTypeTokenUnavailable))
			assert.True(t, errors.IsType(err, tt.causeType))
			if tt.errcode != 0 {
				code, ok := errors.PlatformCode(err)
				assert.True(t, ok)
				assert.Equal(t, tt.errcode, code)
			}
			assert.False(t, mr.Exists(GlobalTokenKey), "failed refreshes leave the store untouched")
			assert.Equal(t, 1, f.count("/cgi-bin/token"), "no internal retry")
		})
	}
}

func TestTokenProvider_StoreUnavailable(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "T1", 7200),
	})

	_, err := newProvider(t, f.api(t), brokenStore{}).Get(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrTypeCacheUnavailable))
	assert.Equal(t, 0, f.count("/cgi-bin/token"))
}

func TestTokenProvider_PersistFailureStillReturnsCredential(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "T1", 7200),
	})

	credential, err := newProvider(t, f.api(t), writeFailingStore{}).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "T1", credential.Value)
}

func TestTokenProvider_ForceRefresh(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "FRESH", 7200),
	})
	store, _, mr := newMiniredisStore(t)
	require.NoError(t, store.SetWithTTL(context.Background(), GlobalTokenKey,
		`{"access_token":"STALE","expires_in":7200,"issued_at":1}`, time.Hour))

	provider := newProvider(t, f.api(t), store)
	credential, err := provider.ForceRefresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FRESH", credential.Value)
	assert.Equal(t, 1, f.count("/cgi-bin/token"))

	stored, err := mr.Get(GlobalTokenKey)
	require.NoError(t, err)
	assert.Contains(t, stored, "FRESH")
}

func TestTokenProvider_WithRefreshLock(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			writeJSON(`{"access_token":"LOCKED","expires_in":7200}`)(w, r)
		},
	})
	store, client, mr := newMiniredisStore(t)

	manager, err := locks.NewRedsyncManager(client, locks.Options{Tries: 100, RetryDelay: 10 * time.Millisecond})
	require.NoError(t, err)
	defer manager.Close()

	// two providers stand in for two gateway processes sharing Redis
	first := newProvider(t, f.api(t), store, WithRefreshLock(manager))
	second := newProvider(t, f.api(t), store, WithRefreshLock(manager))

	var wg sync.WaitGroup
	for _, provider := range []*TokenProvider{first, second} {
		wg.Add(1)
		go func(p *TokenProvider) {
			defer wg.Done()
			token, err := p.Token(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "LOCKED", token)
		}(provider)
	}
	wg.Wait()

	assert.Equal(t, 1, f.count("/cgi-bin/token"))
	assert.False(t, mr.Exists("lock:"+GlobalTokenKey), "lock is released after the refresh")
}

func TestTokenProvider_LockFailureDegrades(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/token": credentialHandler(t, "UNGUARDED", 7200),
	})

	provider := newProvider(t, f.api(t), cache.NewLocalStore(time.Minute), WithRefreshLock(failingLocker{}))
	token, err := provider.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "UNGUARDED", token)
}

type failingLocker struct{}

func (failingLocker) AcquireLock(ctx context.Context, key string, expiration time.Duration) (locks.Lock, error) {
	return nil, errors.ConnectionError("redis down", nil)
}

func (failingLocker) Close() error { return nil }
