package signature

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"wechat-gateway/internal/common/logging"
)

// Query parameters carried by every webhook call
const (
	ParamSignature = "signature"
	ParamTimestamp = "timestamp"
	ParamNonce     = "nonce"
	ParamEchoStr   = "echostr"
)

// Signature computes the lowercase hex SHA-1 of secret, timestamp and nonce
// sorted lexicographically and concatenated. The result does not depend on
// argument order.
func Signature(secret, timestamp, nonce string) string {
	parts := []string{secret, timestamp, nonce}
	sort.Strings(parts)

	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether provided is the signature of the given inputs
func Verify(secret, timestamp, nonce, provided string) bool {
	expected := Signature(secret, timestamp, nonce)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// Verifier authenticates webhook calls with the configured token
type Verifier struct {
	config *Config
	logger logging.Logger
	now    func() time.Time
}

// NewVerifier creates a new signature verifier
func NewVerifier(config *Config, logger logging.Logger) (*Verifier, error) {
	if config == nil {
		return nil, NewValidationError("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Verifier{
		config: config,
		logger: logger,
		now:    time.Now,
	}, nil
}

// VerifyRequest checks the signature, timestamp and nonce query parameters
// of a webhook call
func (v *Verifier) VerifyRequest(query url.Values) error {
	signature := query.Get(ParamSignature)
	timestamp := query.Get(ParamTimestamp)
	nonce := query.Get(ParamNonce)

	for _, param := range [][2]string{
		{ParamSignature, signature},
		{ParamTimestamp, timestamp},
		{ParamNonce, nonce},
	} {
		if param[1] == "" {
			return v.fail(NewVerificationError("missing %s parameter", param[0]))
		}
	}

	if v.config.TimestampTolerance > 0 {
		if err := v.validateTimestamp(timestamp); err != nil {
			return v.fail(err)
		}
	}

	if !Verify(v.config.Token, timestamp, nonce, signature) {
		return v.fail(NewVerificationError("signature mismatch"))
	}
	return nil
}

// Handshake answers the endpoint ownership check. On success it returns the
// echostr parameter to be written back verbatim.
func (v *Verifier) Handshake(query url.Values) (string, error) {
	if err := v.VerifyRequest(query); err != nil {
		return "", err
	}
	return query.Get(ParamEchoStr), nil
}

func (v *Verifier) validateTimestamp(value string) error {
	ts, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return NewVerificationError("invalid unix timestamp %q", value)
	}

	age := v.now().Sub(time.Unix(ts, 0))
	if age < 0 {
		age = -age
	}
	if age > v.config.TimestampTolerance {
		return NewVerificationError("timestamp outside tolerance: %v", age.Truncate(time.Second))
	}
	return nil
}

func (v *Verifier) fail(err error) error {
	v.logger.Warn("Signature verification failed", logging.Err(err))
	return err
}
