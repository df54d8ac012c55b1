package oauth2

import (
	"encoding/json"
	"strings"
)

// UserToken is the per-user credential issued by the authorization-code
// exchange. OpenID is the key it is cached under.
type UserToken struct {
	// AccessToken authorizes calls on behalf of the user
	AccessToken string `json:"access_token"`
	// ExpiresIn is the lifetime in seconds declared by the platform
	ExpiresIn int `json:"expires_in"`
	// RefreshToken renews AccessToken without user interaction
	RefreshToken string `json:"refresh_token,omitempty"`
	// OpenID identifies the user within this application
	OpenID string `json:"openid"`
	// Scope is the granted scope, snsapi_base or snsapi_userinfo or snsapi_login
	Scope string `json:"scope,omitempty"`
	// UnionID identifies the user across applications of one developer account
	UnionID string `json:"unionid,omitempty"`
}

func (t *UserToken) validate() error {
	switch {
	case t.OpenID == "":
		return errMissingField("openid")
	case t.AccessToken == "":
		return errMissingField("access_token")
	}
	return nil
}

// AuthResult is the outcome of a user token validity check
type AuthResult struct {
	OK      bool   `json:"ok"`
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// UserProfile is the user's public profile as returned by the sns user info endpoint
type UserProfile struct {
	OpenID     string   `json:"openid"`
	Nickname   string   `json:"nickname"`
	Sex        int      `json:"sex"`
	Province   string   `json:"province"`
	City       string   `json:"city"`
	Country    string   `json:"country"`
	HeadImgURL string   `json:"headimgurl"`
	Privilege  []string `json:"privilege"`
	UnionID    string   `json:"unionid,omitempty"`
}

// accessTokenFrom extracts the access token from a cached user entry, which is
// either a JSON encoded UserToken or the raw token string.
func accessTokenFrom(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") {
		var token UserToken
		if err := json.Unmarshal([]byte(trimmed), &token); err == nil && token.AccessToken != "" {
			return token.AccessToken
		}
	}
	return value
}
