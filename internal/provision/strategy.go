package provision

import (
	"context"
	"regexp"
	"time"
)

// Strategy supplies the platform-specific steps of the shared provisioning
// cycle. Two shapes exist: sequential single-address platforms and batched
// multi-address ones; the machine and loops treat both uniformly.
type Strategy interface {
	Platform() string

	// BatchSize is the number of addresses per unit; 1 means sequential
	BatchSize() int

	// NeedsTOTP reports whether confirmation composes an authenticator
	// code alongside the emailed one
	NeedsTOTP() bool

	// Marker and CodePattern identify the verification email and extract
	// its code; CodeTimeout bounds the wait
	Marker() string
	CodePattern() *regexp.Regexp
	CodeTimeout() time.Duration

	// OpenForm navigates to and opens the add-address surface
	OpenForm(ctx context.Context, unit Unit) error

	// FillFields populates the form from the unit's addresses and settings
	FillFields(ctx context.Context, unit Unit) error

	// TriggerCode dispatches the verification email. Returns ErrBlocked
	// when the trigger is unreachable behind a human challenge.
	TriggerCode(ctx context.Context) error

	// SubmitConfirmation enters the code (and TOTP where required) and
	// submits
	SubmitConfirmation(ctx context.Context, code, totpCode string) error

	// VerifyConfirmed judges success by the pending-confirmation surface
	// disappearing within a bounded wait
	VerifyConfirmed(ctx context.Context) bool

	// Reset returns the surface to a clean listing state between units
	Reset(ctx context.Context) error
}
