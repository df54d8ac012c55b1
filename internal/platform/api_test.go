package platform

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wechat-gateway/internal/common/errors"
	commonhttp "wechat-gateway/internal/common/http"
)

func TestDecodeResponse(t *testing.T) {
	type profile struct {
		OpenID   string `json:"openid"`
		Nickname string `json:"nickname"`
	}

	t.Run("success shape", func(t *testing.T) {
		var out profile
		err := DecodeResponse(http.StatusOK, []byte(`{"openid":"o1","nickname":"Band"}`), &out)
		require.NoError(t, err)
		assert.Equal(t, "o1", out.OpenID)
		assert.Equal(t, "Band", out.Nickname)
	})

	t.Run("error envelope is returned unmodified", func(t *testing.T) {
		var out profile
		err := DecodeResponse(http.StatusOK, []byte(`{"errcode":40029,"errmsg":"invalid code"}`), &out)

		var appErr *errors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, errors.ErrTypeRemoteAPI, appErr.Type)
		assert.Equal(t, 40029, appErr.PlatformCode)
		assert.Equal(t, "invalid code", appErr.Message)
		assert.Empty(t, out.OpenID)
	})

	t.Run("zero errcode falls through to success shape", func(t *testing.T) {
		var out profile
		err := DecodeResponse(http.StatusOK, []byte(`{"errcode":0,"errmsg":"ok","openid":"o2"}`), &out)
		require.NoError(t, err)
		assert.Equal(t, "o2", out.OpenID)
	})

	t.Run("nil out only checks the envelope", func(t *testing.T) {
		assert.NoError(t, DecodeResponse(http.StatusOK, []byte(`{"errcode":0,"errmsg":"ok"}`), nil))
	})

	t.Run("malformed body", func(t *testing.T) {
		var out profile
		err := DecodeResponse(http.StatusOK, []byte(`<html>busy</html>`), &out)
		assert.True(t, errors.IsType(err, errors.ErrTypeDecode))
	})

	t.Run("non-2xx status", func(t *testing.T) {
		err := DecodeResponse(http.StatusBadGateway, []byte(`{"openid":"o1"}`), nil)
		code, ok := errors.PlatformCode(err)
		assert.True(t, ok)
		assert.Equal(t, http.StatusBadGateway, code)

		_, isEnvelope := AsEnvelope(err)
		assert.False(t, isEnvelope)
	})
}

func TestAsEnvelope(t *testing.T) {
	err := errors.TokenUnavailableError("refresh", DecodeResponse(http.StatusOK, []byte(`{"errcode":40163,"errmsg":"code been used"}`), nil))

	envelope, ok := AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, 40163, envelope.PlatformCode)
	assert.Equal(t, "code been used", envelope.Message)

	_, ok = AsEnvelope(errors.DecodeError("x", nil))
	assert.False(t, ok)
	_, ok = AsEnvelope(nil)
	assert.False(t, ok)
}

func TestAPIClient_Get(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/sns/auth": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "T", r.URL.Query().Get("access_token"))
			assert.Equal(t, "o1", r.URL.Query().Get("openid"))
			writeJSON(`{"errcode":0,"errmsg":"ok"}`)(w, r)
		},
	})

	var out Envelope
	err := f.api(t).Get(context.Background(), "/sns/auth", map[string][]string{
		"access_token": {"T"},
		"openid":       {"o1"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.ErrMsg)
	assert.Equal(t, 1, f.count("/sns/auth"))
}

func TestAPIClient_PostJSON(t *testing.T) {
	f := newFakePlatform(t, map[string]http.HandlerFunc{
		"/cgi-bin/clear_quota": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.Header.Get("Content-Type"), "application/json")

			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "wxapp", body["appid"])
			writeJSON(`{"errcode":0,"errmsg":"ok"}`)(w, r)
		},
		"/cgi-bin/menu/delete": func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			assert.Empty(t, data)
			writeJSON(`{"errcode":0,"errmsg":"ok"}`)(w, r)
		},
	})
	api := f.api(t)

	require.NoError(t, api.PostJSON(context.Background(), "/cgi-bin/clear_quota", nil, map[string]string{"appid": "wxapp"}, nil))
	require.NoError(t, api.PostJSON(context.Background(), "/cgi-bin/menu/delete", nil, nil, nil))
}

func TestAPIClient_Failures(t *testing.T) {
	t.Run("timeout is retryable and hides the query", func(t *testing.T) {
		f := newFakePlatform(t, map[string]http.HandlerFunc{
			"/cgi-bin/token": func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				writeJSON(`{}`)(w, r)
			},
		})
		api := NewAPIClient(APIConfig{
			BaseURL:    f.server.URL,
			HTTPClient: commonhttp.NewHTTPClient(commonhttp.WithTimeout(50 * time.Millisecond)),
			Logger:     quietLogger(t),
		})

		err := api.Get(context.Background(), "/cgi-bin/token", map[string][]string{"secret": {"S3CR3T"}}, nil)
		require.Error(t, err)
		assert.True(t, errors.IsRetryable(err))
		assert.NotContains(t, err.Error(), "S3CR3T")
	})

	t.Run("caller deadline maps to timeout", func(t *testing.T) {
		f := newFakePlatform(t, map[string]http.HandlerFunc{
			"/sns/userinfo": func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				writeJSON(`{}`)(w, r)
			},
		})

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		err := f.api(t).Get(ctx, "/sns/userinfo", nil, nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
	})

	t.Run("connection refused", func(t *testing.T) {
		f := newFakePlatform(t, map[string]http.HandlerFunc{})
		api := f.api(t)
		f.server.Close()

		err := api.Get(context.Background(), "/sns/auth", nil, nil)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	})

	t.Run("breaker opens after repeated server errors", func(t *testing.T) {
		f := newFakePlatform(t, map[string]http.HandlerFunc{
			"/sns/userinfo": func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		})
		api := f.api(t)

		for i := 0; i < 5; i++ {
			_ = api.Get(context.Background(), "/sns/userinfo", nil, nil)
		}
		assert.Equal(t, 3, f.count("/sns/userinfo"), "platform breaker opens after three failures")
	})
}
