// Package oauth2 implements the per-user authorization-code flow of the
// messaging platform.
//
// Two variants share one Session interface and differ in how the user is
// sent to authorize and in what is cached after the exchange:
//
//   - OfficialAccount redirects inside the messaging app and caches the whole
//     token response as JSON under the user's open id.
//   - OpenPlatform shows a QR login page, caches the raw access token under
//     the open id and the refresh token under the app id.
//
// Usage:
//
//	session, err := oauth2.NewSession(oauth2.PlatformOfficialAccount, api, store, oauth2.Config{
//	    AppID:     appID,
//	    AppSecret: appSecret,
//	})
//	http.Redirect(w, r, session.AuthorizeURL(callbackURL, state), http.StatusFound)
//
//	// in the callback
//	token, err := session.ExchangeCode(ctx, r.URL.Query().Get("code"))
//	profile, err := session.FetchUserProfile(ctx, token.OpenID)
//
// Every answer goes through platform.DecodeResponse, so an error envelope
// surfaces as a remote API error carrying the platform's errcode. Refreshed
// tokens are not written back unless Config.PersistRefreshed is set.
package oauth2
