package provision

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/addrbook/provisioner/internal/browser"
)

const bybitAddressURL = "https://www.bybit.com/user/assets/money-address"

var bybitCodePattern = regexp.MustCompile(`<strong>(\d{6})</strong>`)

// BybitStrategy adds one address per cycle through the withdrawal-address
// dialog. Confirmation composes the emailed code with the authenticator
// code.
type BybitStrategy struct {
	session *browser.Session
}

func NewBybitStrategy(session *browser.Session) *BybitStrategy {
	return &BybitStrategy{session: session}
}

func (s *BybitStrategy) Platform() string { return "bybit" }
func (s *BybitStrategy) BatchSize() int   { return 1 }
func (s *BybitStrategy) NeedsTOTP() bool  { return true }
func (s *BybitStrategy) Marker() string   { return "Bybit" }

func (s *BybitStrategy) CodePattern() *regexp.Regexp { return bybitCodePattern }
func (s *BybitStrategy) CodeTimeout() time.Duration  { return 45 * time.Second }

func (s *BybitStrategy) OpenForm(ctx context.Context, unit Unit) error {
	if err := s.session.Navigate(bybitAddressURL); err != nil {
		return err
	}
	// The plus button opens the add-address dialog
	if err := s.session.Click(`[aria-label="plus"]`); err != nil {
		return fmt.Errorf("add-address dialog did not open: %w", err)
	}
	return nil
}

func (s *BybitStrategy) FillFields(ctx context.Context, unit Unit) error {
	if len(unit.Addresses) != 1 {
		return fmt.Errorf("bybit adds one address per unit, got %d", len(unit.Addresses))
	}
	settings := unit.Settings

	// Coin and chain are combo boxes: type the prefix, confirm with Enter
	if err := s.session.Fill("#coin", settings.Blockchain); err != nil {
		return err
	}
	if err := s.session.PressEnter(); err != nil {
		return err
	}

	if err := s.session.FillPlaceholder("Please input your withdrawal wallet address", unit.Addresses[0]); err != nil {
		return err
	}

	if err := s.session.Fill(`input[aria-label="Chain Type"]`, settings.Network); err != nil {
		return err
	}
	if err := s.session.PressEnter(); err != nil {
		return err
	}

	if settings.Remark != "" {
		if err := s.session.Fill(`input[aria-label="Remark"]`, settings.Remark); err != nil {
			return err
		}
	}

	if err := s.session.CheckAll(`input[type="checkbox"]`); err != nil {
		return err
	}
	// Confirm opens the verification dialog
	return s.session.ClickButton("Confirm")
}

func (s *BybitStrategy) TriggerCode(ctx context.Context) error {
	// Send-code button unreachable within the bounded wait means a human
	// challenge is in the way.
	if err := s.session.ClickButtonWithin("Get Code", 10*time.Second); err == nil {
		return nil
	}
	if err := s.session.ClickButtonWithin("Resend", 5*time.Second); err == nil {
		return nil
	}
	if info := s.session.DetectChallenge(); info.Found {
		return fmt.Errorf("%s on send-code: %w", info.Description, ErrBlocked)
	}
	return fmt.Errorf("send-code button unavailable: %w", ErrBlocked)
}

func (s *BybitStrategy) SubmitConfirmation(ctx context.Context, code, totpCode string) error {
	if err := s.session.FillPlaceholder("Enter verification code", code); err != nil {
		return err
	}
	if err := s.session.FillPlaceholder("Enter Google Authenticator code", totpCode); err != nil {
		return err
	}
	return s.session.ClickButton("Submit")
}

func (s *BybitStrategy) VerifyConfirmed(ctx context.Context) bool {
	// Success is judged by the dialog going away, not by a toast
	return !s.session.Visible(".ant-modal-content", 5*time.Second)
}

func (s *BybitStrategy) Reset(ctx context.Context) error {
	s.session.Screenshot("reset")
	return s.session.Reload()
}
