package oauth2

import (
	stderrors "errors"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"wechat-gateway/internal/common/errors"
)

// DefaultStateTTL bounds how long a user may take on the authorization page
const DefaultStateTTL = 10 * time.Minute

// the platform echoes state verbatim and accepts at most 128 of a-zA-Z0-9
var statePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,128}$`)

// StateClaims bind an authorization state to the browser that started the
// flow. The state itself travels as the token ID.
type StateClaims struct {
	jwt.RegisteredClaims
}

// StateSigner issues and checks the signed binding for the OAuth state
// parameter. The binding is an HS256 token keyed by the app secret, carried
// in a cookie, and must name the state the callback returns with.
type StateSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a signer for one application
func NewStateSigner(appID, secret string, ttl time.Duration) (*StateSigner, error) {
	if appID == "" || secret == "" {
		return nil, errors.ConfigError("state signer requires app id and app secret")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateSigner{
		secret: []byte(secret),
		issuer: appID,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL is the lifetime of issued bindings
func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

// NewState returns a random state in the alphabet the platform accepts
func NewState() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidState reports whether the platform will carry state through unchanged
func ValidState(state string) bool {
	return statePattern.MatchString(state)
}

// Issue signs a binding for state
func (s *StateSigner) Issue(state string) (string, error) {
	if !ValidState(state) {
		return "", errors.ValidationError("state must be 1 to 128 letters or digits")
	}

	now := s.now()
	claims := &StateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        state,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", errors.InternalError("sign oauth state", err)
	}
	return signed, nil
}

// Verify checks that binding was issued by this signer, is unexpired, and
// names state. Every mismatch is a validation error.
func (s *StateSigner) Verify(binding, state string) error {
	if binding == "" {
		return errors.ValidationError("authorization state is not bound to this browser")
	}
	if state == "" {
		return errors.ValidationError("authorization state is missing")
	}

	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(binding, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return errors.ValidationError("authorization state expired")
		}
		invalid := errors.ValidationError("authorization state binding is invalid")
		invalid.Cause = err
		return invalid
	}

	if claims.ID != state {
		return errors.ValidationError("authorization state does not match")
	}
	return nil
}
