package platform

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
)

// errcodes meaning the credential sent with the call is no longer accepted
var credentialRejectedCodes = map[int]bool{
	40001: true, // invalid credential
	40014: true, // invalid access_token
	42001: true, // access_token expired
}

// Client wraps the management endpoints that authenticate with the platform credential
type Client struct {
	api       *APIClient
	tokens    *TokenProvider
	appID     string
	mpBaseURL string
	validate  *validator.Validate
	logger    logging.Logger
}

// ClientConfig configures a Client
type ClientConfig struct {
	AppID string
	// MPBaseURL hosts the QR image endpoint, default DefaultMPBaseURL
	MPBaseURL string
	Logger    logging.Logger
}

// NewClient creates an endpoint client sharing api and tokens
func NewClient(api *APIClient, tokens *TokenProvider, config ClientConfig) *Client {
	if config.MPBaseURL == "" {
		config.MPBaseURL = DefaultMPBaseURL
	}
	if config.Logger == nil {
		config.Logger = logging.GetGlobalLogger()
	}

	validate := validator.New()
	validate.RegisterStructValidation(validateTicketRequest, TicketRequest{})

	return &Client{
		api:       api,
		tokens:    tokens,
		appID:     config.AppID,
		mpBaseURL: strings.TrimRight(config.MPBaseURL, "/"),
		validate:  validate,
		logger:    config.Logger,
	}
}

// withCredential runs call with the current credential. When the platform
// rejects the credential the provider is forced to refresh and call runs once more.
func (c *Client) withCredential(ctx context.Context, call func(token string) error) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	err = call(token)
	code, ok := errors.PlatformCode(err)
	if !ok || !credentialRejectedCodes[code] {
		return err
	}

	c.logger.WithContext(ctx).Warn("Platform rejected cached credential, refreshing",
		logging.Int("errcode", code),
	)
	credential, refreshErr := c.tokens.ForceRefresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	return call(credential.Value)
}

func tokenQuery(token string) url.Values {
	query := url.Values{}
	query.Set("access_token", token)
	return query
}

// DeleteMenu removes the account's custom menu
func (c *Client) DeleteMenu(ctx context.Context) error {
	return c.withCredential(ctx, func(token string) error {
		return c.api.PostJSON(ctx, "/cgi-bin/menu/delete", tokenQuery(token), nil, nil)
	})
}

// ClearQuota resets the daily API call counters for the configured app id
func (c *Client) ClearQuota(ctx context.Context) error {
	if c.appID == "" {
		return errors.ConfigError("app id is required to clear quota")
	}
	payload := map[string]string{"appid": c.appID}
	return c.withCredential(ctx, func(token string) error {
		return c.api.PostJSON(ctx, "/cgi-bin/clear_quota", tokenQuery(token), payload, nil)
	})
}
