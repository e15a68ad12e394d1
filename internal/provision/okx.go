package provision

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/addrbook/provisioner/internal/browser"
)

const (
	okxAddressURL = "https://www.okx.com/balance/withdrawal-address/eth/2"
	okxBatchSize  = 20
)

var okxCodePattern = regexp.MustCompile(`(\d{6})</div>`)

// OKXStrategy adds addresses in batches of up to 20 through the
// multi-address form. Confirmation takes the emailed code first, then the
// authenticator-app code.
type OKXStrategy struct {
	session *browser.Session
}

func NewOKXStrategy(session *browser.Session) *OKXStrategy {
	return &OKXStrategy{session: session}
}

func (s *OKXStrategy) Platform() string { return "okx" }
func (s *OKXStrategy) BatchSize() int   { return okxBatchSize }
func (s *OKXStrategy) NeedsTOTP() bool  { return true }
func (s *OKXStrategy) Marker() string   { return "verification code" }

func (s *OKXStrategy) CodePattern() *regexp.Regexp { return okxCodePattern }
func (s *OKXStrategy) CodeTimeout() time.Duration  { return 60 * time.Second }

func (s *OKXStrategy) OpenForm(ctx context.Context, unit Unit) error {
	if err := s.session.Navigate(okxAddressURL); err != nil {
		return err
	}
	if err := s.session.ClickButton("Add a new address"); err != nil {
		return fmt.Errorf("add-address form did not open: %w", err)
	}
	// The form starts with one address row; add one more per extra address
	for i := 0; i < len(unit.Addresses)-1; i++ {
		if err := s.session.ClickText("Add address"); err != nil {
			return fmt.Errorf("failed to add address row %d: %w", i+2, err)
		}
	}
	return nil
}

func (s *OKXStrategy) FillFields(ctx context.Context, unit Unit) error {
	if err := s.session.FillAll(`input[placeholder="You can also use a .crypto domain"]`, unit.Addresses); err != nil {
		return err
	}

	if remark := unit.Settings.Remark; remark != "" {
		remarks := make([]string, len(unit.Addresses))
		for i := range remarks {
			remarks[i] = remark
		}
		if err := s.session.FillAll(`input[placeholder="e.g. my wallet"]`, remarks); err != nil {
			return err
		}
	}

	return s.session.CheckAll(`input[type="checkbox"]`)
}

func (s *OKXStrategy) TriggerCode(ctx context.Context) error {
	if err := s.session.ClickButtonWithin("Send code", 10*time.Second); err == nil {
		return nil
	}
	if info := s.session.DetectChallenge(); info.Found {
		return fmt.Errorf("%s on send-code: %w", info.Description, ErrBlocked)
	}
	return fmt.Errorf("send-code button unavailable: %w", ErrBlocked)
}

func (s *OKXStrategy) SubmitConfirmation(ctx context.Context, code, totpCode string) error {
	if code != "" {
		if err := s.session.FillPlaceholder("Enter email code", code); err != nil {
			return err
		}
	}
	// Switch the second factor tab to the authenticator app
	if err := s.session.ClickText("Authentication app"); err != nil {
		return err
	}
	if err := s.session.FillPlaceholder("Enter the authentication app code", totpCode); err != nil {
		return err
	}
	return s.session.ClickButton("Confirm")
}

func (s *OKXStrategy) VerifyConfirmed(ctx context.Context) bool {
	return !s.session.Visible(".okui-dialog-window", 5*time.Second)
}

func (s *OKXStrategy) Reset(ctx context.Context) error {
	s.session.Screenshot("reset")
	return s.session.Navigate(okxAddressURL)
}
