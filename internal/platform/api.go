// Package platform talks to the messaging platform's server API: the shared
// response policy, the platform credential lifecycle and the thin endpoint
// wrappers built on top of it.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wechat-gateway/internal/circuitbreaker"
	"wechat-gateway/internal/common/errors"
	commonhttp "wechat-gateway/internal/common/http"
	"wechat-gateway/internal/common/logging"
)

const (
	// DefaultAPIBaseURL hosts the credential, sns and cgi-bin endpoints
	DefaultAPIBaseURL = "https://api.weixin.qq.com"
	// DefaultMPBaseURL hosts the QR code image endpoint
	DefaultMPBaseURL = "https://mp.weixin.qq.com"

	maxResponseBytes = 1 << 20
	httpStatusKey    = "http_status"
)

// Envelope is the error shape every endpoint may answer with
type Envelope struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// DecodeResponse applies the shared response policy. A non-2xx status is a
// remote error carrying the status as its code. A body with a non-zero errcode
// is a remote error carrying errcode and errmsg unmodified. Otherwise the body
// is parsed into out, and a parse failure is a decode error. out may be nil
// when only the envelope matters.
func DecodeResponse(status int, body []byte, out interface{}) error {
	if status < 200 || status > 299 {
		return errors.RemoteAPIError(status, fmt.Sprintf("unexpected HTTP status %d %s", status, http.StatusText(status))).
			WithContext(httpStatusKey, status)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.ErrCode != 0 {
		return errors.RemoteAPIError(envelope.ErrCode, envelope.ErrMsg)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.DecodeError("malformed response body", err)
	}
	return nil
}

// AsEnvelope returns the remote error in err's chain when it came from an
// errcode envelope rather than from an HTTP status.
func AsEnvelope(err error) (*errors.AppError, bool) {
	for err != nil {
		var appErr *errors.AppError
		if !stderrors.As(err, &appErr) {
			return nil, false
		}
		if appErr.Type == errors.ErrTypeRemoteAPI {
			_, fromStatus := appErr.Context[httpStatusKey]
			return appErr, !fromStatus
		}
		err = appErr.Cause
	}
	return nil, false
}

// APIConfig configures the API caller
type APIConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Breakers   *circuitbreaker.GoBreakerManager
	Logger     logging.Logger
}

// APIClient performs breaker-guarded calls against the platform API and
// applies DecodeResponse to every answer.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	breakers   *circuitbreaker.GoBreakerManager
	logger     logging.Logger
}

// NewAPIClient creates an API caller, filling unset fields with defaults
func NewAPIClient(config APIConfig) *APIClient {
	if config.BaseURL == "" {
		config.BaseURL = DefaultAPIBaseURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = commonhttp.NewHTTPClient()
	}
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}
	if config.Breakers == nil {
		config.Breakers = circuitbreaker.NewGoBreakerManager(config.Logger)
	}

	return &APIClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: config.HTTPClient,
		breakers:   config.Breakers,
		logger:     config.Logger,
	}
}

// BaseURL returns the API root without a trailing slash
func (c *APIClient) BaseURL() string {
	return c.baseURL
}

// Get calls path with query and decodes the answer into out
func (c *APIClient) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.call(ctx, http.MethodGet, path, query, nil, out)
}

// PostJSON sends payload as a JSON body. A nil payload sends an empty body.
func (c *APIClient) PostJSON(ctx context.Context, path string, query url.Values, payload interface{}, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return errors.InternalError("encode request body", err)
		}
	}
	return c.call(ctx, http.MethodPost, path, query, body, out)
}

func (c *APIClient) call(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	config := circuitbreaker.PlatformConfig
	if path == credentialPath {
		config = circuitbreaker.CredentialConfig
	}
	breaker := c.breakers.GetOrCreate(strings.TrimPrefix(path, "/"), config)

	logger := c.logger.WithContext(ctx).WithFields(
		logging.Field{Key: "method", Value: method},
		logging.Field{Key: "path", Value: path},
	)
	start := time.Now()

	err := breaker.Execute(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return errors.InternalError("build request", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return transportError(ctx, path, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return transportError(ctx, path, err)
		}

		logger.Debug("Platform API responded",
			logging.Field{Key: "status", Value: resp.StatusCode},
			logging.Duration("duration", time.Since(start)),
		)
		return DecodeResponse(resp.StatusCode, data, out)
	})

	if err != nil {
		logger.Warn("Platform API call failed",
			logging.Err(err),
			logging.Duration("duration", time.Since(start)),
		)
	}
	return err
}

// transportError classifies a failed round trip. The request URL is dropped
// from the message because its query may carry the app secret or a token.
func transportError(ctx context.Context, path string, err error) error {
	var urlErr *url.Error
	if stderrors.As(err, &urlErr) {
		err = urlErr.Err
	}

	if ctx.Err() != nil {
		return errors.TimeoutError(path, ctx.Err())
	}
	var netErr interface{ Timeout() bool }
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.TimeoutError(path, err)
	}
	return errors.ConnectionError("request to "+path+" failed", err)
}
