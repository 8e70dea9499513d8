package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/palmoil/agent/internal/secret"
)

// Credentials holds everything needed to authenticate a broker session.
// Secret-valued fields are wrapped in secret.String so debug/printable forms
// always redact.
type Credentials struct {
	Environment     Environment
	ClientID        secret.String
	ClientSecret    secret.String
	AccountID       secret.String
	AccessToken     secret.String
	RefreshToken    secret.String
	RefreshDeadline time.Time
}

// String implements fmt.Stringer; never prints secret values in full.
func (c Credentials) String() string {
	return fmt.Sprintf(
		"Credentials{env=%s client_id=%s account_id=%s access_token=%s refresh_token=%s}",
		c.Environment, c.ClientID, c.AccountID, c.AccessToken, c.RefreshToken,
	)
}

// Validate checks that all fields required for the selected Environment are
// present, aggregating every missing field into a single error message.
func (c Credentials) Validate() error {
	var missing []string

	if c.ClientID.Empty() {
		missing = append(missing, "client id")
	}
	if c.ClientSecret.Empty() {
		missing = append(missing, "client secret")
	}
	if c.AccountID.Empty() {
		missing = append(missing, "account id")
	}

	if c.Environment == EnvLive {
		if c.AccessToken.Empty() {
			missing = append(missing, "access token (required in live)")
		}
		if c.RefreshToken.Empty() {
			missing = append(missing, "refresh token (required in live)")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// NeedsRefresh reports whether the access token should be proactively
// refreshed: within window of RefreshDeadline, or already past it.
func (c Credentials) NeedsRefresh(now time.Time, window time.Duration) bool {
	if c.RefreshDeadline.IsZero() {
		return false
	}
	return !now.Before(c.RefreshDeadline.Add(-window))
}
