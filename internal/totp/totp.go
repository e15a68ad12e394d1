// Package totp wraps time-based one-time password generation for the
// authenticator step of address confirmation.
package totp

import (
	"errors"
	"time"

	"github.com/pquerna/otp/totp"
)

// ErrInvalidSecret is returned when the shared secret is empty or not
// valid base32. Callers must treat the platform as having no usable 2FA.
var ErrInvalidSecret = errors.New("totp: invalid shared secret")

// Code returns the current 6-digit code for the given base32 secret,
// using the standard 30-second window.
func Code(secret string) (string, error) {
	return CodeAt(secret, time.Now())
}

// CodeAt returns the code for the given moment. Split out for tests.
func CodeAt(secret string, t time.Time) (string, error) {
	if secret == "" {
		return "", ErrInvalidSecret
	}
	code, err := totp.GenerateCode(secret, t)
	if err != nil {
		return "", ErrInvalidSecret
	}
	return code, nil
}

// Available reports whether the secret can produce codes at all. Used to
// filter the run's candidate platform list at startup.
func Available(secret string) bool {
	_, err := Code(secret)
	return err == nil
}
