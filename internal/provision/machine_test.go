package provision

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"
)

// fakeStrategy scripts the platform steps so machine and loop behavior can
// be tested without a browser or mailbox.
type fakeStrategy struct {
	platform  string
	batchSize int
	needsTOTP bool

	openErr    error
	fillErr    error
	triggerErr error
	submitErr  error
	confirmed  bool

	// failSubmits makes the first N SubmitConfirmation calls fail, for
	// retry-cycle tests
	failSubmits int

	opens, fills, triggers, submits, resets int
	lastCode, lastTOTP                      string
	lastUnit                                Unit
}

func (f *fakeStrategy) Platform() string             { return f.platform }
func (f *fakeStrategy) BatchSize() int               { return f.batchSize }
func (f *fakeStrategy) NeedsTOTP() bool              { return f.needsTOTP }
func (f *fakeStrategy) Marker() string               { return f.platform }
func (f *fakeStrategy) CodePattern() *regexp.Regexp  { return regexp.MustCompile(`(\d{6})`) }
func (f *fakeStrategy) CodeTimeout() time.Duration   { return time.Second }

func (f *fakeStrategy) OpenForm(ctx context.Context, unit Unit) error {
	f.opens++
	f.lastUnit = unit
	return f.openErr
}

func (f *fakeStrategy) FillFields(ctx context.Context, unit Unit) error {
	f.fills++
	return f.fillErr
}

func (f *fakeStrategy) TriggerCode(ctx context.Context) error {
	f.triggers++
	return f.triggerErr
}

func (f *fakeStrategy) SubmitConfirmation(ctx context.Context, code, totpCode string) error {
	f.submits++
	f.lastCode = code
	f.lastTOTP = totpCode
	if f.failSubmits > 0 {
		f.failSubmits--
		return fmt.Errorf("dialog detached mid-submit")
	}
	return f.submitErr
}

func (f *fakeStrategy) VerifyConfirmed(ctx context.Context) bool { return f.confirmed }

func (f *fakeStrategy) Reset(ctx context.Context) error {
	f.resets++
	return nil
}

type fakeEscalator struct {
	messages []string
}

func (f *fakeEscalator) Escalate(ctx context.Context, text string) {
	f.messages = append(f.messages, text)
}

func codesReturning(code string, ok bool) CodeFunc {
	return func(ctx context.Context) (string, bool) { return code, ok }
}

func totpReturning(code string) TOTPFunc {
	return func() (string, error) { return code, nil }
}

var errFake = errors.New("element not found")

func TestMachineHappyPath(t *testing.T) {
	strat := &fakeStrategy{platform: "bybit", batchSize: 1, needsTOTP: true, confirmed: true}
	esc := &fakeEscalator{}
	m := NewMachine(strat, codesReturning("654321", true), totpReturning("123456"), esc)

	outcome := m.Run(context.Background(), Unit{
		Addresses: []string{"0xaaa"},
		Settings:  Settings{Platform: "bybit"},
	})

	if outcome.State != StateConfirmed {
		t.Fatalf("got %s (%s), want confirmed", outcome.State, outcome.Reason)
	}
	if outcome.Stage != StateConfirmed {
		t.Errorf("got stage %s, want confirmed", outcome.Stage)
	}
	if strat.lastCode != "654321" || strat.lastTOTP != "123456" {
		t.Errorf("submitted (%s, %s), want (654321, 123456)", strat.lastCode, strat.lastTOTP)
	}
}

func TestMachineSkipsTOTPWhenNotNeeded(t *testing.T) {
	strat := &fakeStrategy{platform: "okx", batchSize: 20, confirmed: true}
	totpCalled := false
	m := NewMachine(strat, codesReturning("111222", true), func() (string, error) {
		totpCalled = true
		return "999999", nil
	}, &fakeEscalator{})

	outcome := m.Run(context.Background(), Unit{Addresses: []string{"0xaaa"}})
	if outcome.State != StateConfirmed {
		t.Fatalf("got %s, want confirmed", outcome.State)
	}
	if totpCalled {
		t.Error("TOTP generated for a strategy that does not need it")
	}
	if strat.lastTOTP != "" {
		t.Errorf("submitted TOTP %q, want empty", strat.lastTOTP)
	}
}

func TestMachineFailureMapping(t *testing.T) {
	tests := []struct {
		name      string
		strat     *fakeStrategy
		codeOK    bool
		want      Reason
		wantStage State
	}{
		{
			name:      "navigation",
			strat:     &fakeStrategy{openErr: errFake, confirmed: true},
			codeOK:    true,
			want:      ReasonNavigation,
			wantStage: StateIdle,
		},
		{
			name:      "form mismatch",
			strat:     &fakeStrategy{fillErr: errFake, confirmed: true},
			codeOK:    true,
			want:      ReasonFormMismatch,
			wantStage: StateFormOpened,
		},
		{
			name:      "trigger fault is unexpected",
			strat:     &fakeStrategy{triggerErr: errFake, confirmed: true},
			codeOK:    true,
			want:      ReasonUnexpected,
			wantStage: StateFieldsFilled,
		},
		{
			name:      "no code",
			strat:     &fakeStrategy{confirmed: true},
			codeOK:    false,
			want:      ReasonNoCode,
			wantStage: StateCodeAwaiting,
		},
		{
			name:      "submit fault",
			strat:     &fakeStrategy{submitErr: errFake, confirmed: true},
			codeOK:    true,
			want:      ReasonUnexpected,
			wantStage: StateCodeAwaiting,
		},
		{
			name:      "unconfirmed",
			strat:     &fakeStrategy{confirmed: false},
			codeOK:    true,
			want:      ReasonUnconfirmed,
			wantStage: StateVerifying,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(tt.strat, codesReturning("654321", tt.codeOK), totpReturning("123456"), &fakeEscalator{})
			outcome := m.Run(context.Background(), Unit{Addresses: []string{"0xaaa"}})
			if outcome.State != StateFailed || outcome.Reason != tt.want {
				t.Errorf("got (%s, %s), want (failed, %s)", outcome.State, outcome.Reason, tt.want)
			}
			if outcome.Stage != tt.wantStage {
				t.Errorf("failed at stage %s, want %s", outcome.Stage, tt.wantStage)
			}
		})
	}
}

func TestMachineNoCodeSkipsSubmit(t *testing.T) {
	strat := &fakeStrategy{confirmed: true}
	m := NewMachine(strat, codesReturning("", false), totpReturning("123456"), &fakeEscalator{})

	m.Run(context.Background(), Unit{Addresses: []string{"0xaaa"}})
	if strat.submits != 0 {
		t.Errorf("submit called %d times after a null code, want 0", strat.submits)
	}
}

func TestMachineBlockedEscalates(t *testing.T) {
	strat := &fakeStrategy{
		triggerErr: fmt.Errorf("challenge in the way: %w", ErrBlocked),
		confirmed:  true,
	}
	esc := &fakeEscalator{}
	m := NewMachine(strat, codesReturning("654321", true), totpReturning("123456"), esc)

	outcome := m.Run(context.Background(), Unit{
		Addresses: []string{"0xaaa"},
		Settings:  Settings{Platform: "bybit"},
	})

	if outcome.Reason != ReasonBlocked {
		t.Fatalf("got reason %s, want blocked", outcome.Reason)
	}
	if len(esc.messages) != 1 {
		t.Fatalf("got %d escalations, want 1", len(esc.messages))
	}
	if !strings.Contains(esc.messages[0], "bybit") {
		t.Errorf("escalation does not name the platform: %q", esc.messages[0])
	}
}
