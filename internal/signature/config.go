package signature

import "time"

// Config holds the shared secret configured on the platform's developer page
type Config struct {
	// Token is the shared secret mixed into every signature
	Token string `json:"token"`

	// TimestampTolerance rejects calls whose timestamp is further than this
	// from the local clock. Zero disables the check.
	TimestampTolerance time.Duration `json:"timestamp_tolerance"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Token == "" {
		return NewValidationError("token is required")
	}
	if c.TimestampTolerance < 0 {
		return NewValidationError("timestamp tolerance must not be negative, got %s", c.TimestampTolerance)
	}
	return nil
}
