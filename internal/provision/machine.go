// Package provision drives batches of withdrawal-address submissions
// through the submit, request-code, await-code, confirm, verify cycle.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// State is a stage in the per-unit provisioning cycle
type State int

const (
	StateIdle State = iota
	StateFormOpened
	StateFieldsFilled
	StateCodeRequested
	StateCodeAwaiting
	StateCodeSubmitted
	StateVerifying
	StateConfirmed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFormOpened:
		return "form_opened"
	case StateFieldsFilled:
		return "fields_filled"
	case StateCodeRequested:
		return "code_requested"
	case StateCodeAwaiting:
		return "code_awaiting"
	case StateCodeSubmitted:
		return "code_submitted"
	case StateVerifying:
		return "verifying"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reason categorizes a terminal failure
type Reason string

const (
	ReasonNavigation   Reason = "navigation"
	ReasonFormMismatch Reason = "form_mismatch"
	ReasonBlocked      Reason = "blocked"
	ReasonNoCode       Reason = "no_code"
	ReasonUnconfirmed  Reason = "unconfirmed"
	ReasonUnexpected   Reason = "unexpected"
)

// ErrBlocked marks a step stalled on something only a human can clear,
// e.g. a verification challenge in front of the send-code button.
var ErrBlocked = errors.New("blocked on human interaction")

// Settings is the operator-chosen, run-immutable configuration for a
// platform's units.
type Settings struct {
	Platform    string
	Blockchain  string
	Network     string
	Remark      string
	CooldownSec int
	MaxCycles   int // Batched loop cap; 0 retries until pending is empty
}

// Unit is the smallest item processed to completion: one address on
// sequential platforms, a batch on batched ones.
type Unit struct {
	Addresses []string
	Settings  Settings
}

// Outcome is a unit's terminal result. Stage is the furthest stage the
// cycle reached, telling a failure at the form apart from one at
// verification.
type Outcome struct {
	State  State
	Stage  State
	Reason Reason
}

// CodeFunc resolves the emailed verification code for the current unit.
// ok=false means no code arrived within the window.
type CodeFunc func(ctx context.Context) (code string, ok bool)

// TOTPFunc produces the current authenticator code
type TOTPFunc func() (string, error)

// Escalator notifies the operator about stuck units
type Escalator interface {
	Escalate(ctx context.Context, text string)
}

// Machine runs units through the provisioning cycle. Faults never escape a
// unit: every step error maps to a terminal Failed outcome and the outer
// loop decides what happens next.
type Machine struct {
	strategy Strategy
	codes    CodeFunc
	totp     TOTPFunc
	notifier Escalator
}

func NewMachine(strategy Strategy, codes CodeFunc, totp TOTPFunc, notifier Escalator) *Machine {
	return &Machine{
		strategy: strategy,
		codes:    codes,
		totp:     totp,
		notifier: notifier,
	}
}

// Run drives one unit to Confirmed or Failed
func (m *Machine) Run(ctx context.Context, unit Unit) Outcome {
	stage := StateIdle
	fail := func(reason Reason) Outcome {
		log.Printf("Unit failed at %s: %s", stage, reason)
		return Outcome{State: StateFailed, Stage: stage, Reason: reason}
	}

	if err := m.strategy.OpenForm(ctx, unit); err != nil {
		log.Printf("Failed to open add-address surface: %v", err)
		return fail(ReasonNavigation)
	}
	stage = StateFormOpened

	if err := m.strategy.FillFields(ctx, unit); err != nil {
		log.Printf("Failed to fill address fields: %v", err)
		return fail(ReasonFormMismatch)
	}
	stage = StateFieldsFilled

	if err := m.strategy.TriggerCode(ctx); err != nil {
		if errors.Is(err, ErrBlocked) {
			m.notifier.Escalate(ctx, fmt.Sprintf("%s: please return to the browser and solve the verification challenge", unit.Settings.Platform))
			return fail(ReasonBlocked)
		}
		log.Printf("Failed to trigger code dispatch: %v", err)
		return fail(ReasonUnexpected)
	}
	stage = StateCodeRequested
	log.Printf("State %s, waiting for the emailed code", stage)

	stage = StateCodeAwaiting
	code, ok := m.codes(ctx)
	if !ok {
		return fail(ReasonNoCode)
	}
	log.Printf("Verification code received: %s", code)

	totpCode := ""
	if m.strategy.NeedsTOTP() {
		var err error
		totpCode, err = m.totp()
		if err != nil {
			log.Printf("TOTP generation failed: %v", err)
			return fail(ReasonUnexpected)
		}
	}

	if err := m.strategy.SubmitConfirmation(ctx, code, totpCode); err != nil {
		log.Printf("Failed to submit confirmation: %v", err)
		return fail(ReasonUnexpected)
	}
	stage = StateCodeSubmitted
	log.Printf("State %s, checking the confirmation surface", stage)

	stage = StateVerifying
	if !m.strategy.VerifyConfirmed(ctx) {
		return fail(ReasonUnconfirmed)
	}

	return Outcome{State: StateConfirmed, Stage: StateConfirmed}
}
