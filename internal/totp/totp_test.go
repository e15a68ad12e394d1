package totp

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
)

// Base32 test secret
const testSecret = "JBSWY3DPEHPK3PXP"

func TestCodeMatchesLibrary(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := CodeAt(testSecret, at)
	if err != nil {
		t.Fatalf("CodeAt returned error: %v", err)
	}

	want, err := totp.GenerateCode(testSecret, at)
	if err != nil {
		t.Fatalf("reference GenerateCode failed: %v", err)
	}

	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	if len(got) != 6 {
		t.Errorf("code length = %d, want 6", len(got))
	}
}

func TestCodeStableWithinWindow(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 1, 0, time.UTC)

	a, err := CodeAt(testSecret, at)
	if err != nil {
		t.Fatalf("CodeAt returned error: %v", err)
	}
	b, err := CodeAt(testSecret, at.Add(10*time.Second))
	if err != nil {
		t.Fatalf("CodeAt returned error: %v", err)
	}
	if a != b {
		t.Errorf("codes within one 30s window differ: %s vs %s", a, b)
	}
}

func TestInvalidSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{name: "empty", secret: ""},
		{name: "not base32", secret: "not-a-secret!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Code(tt.secret); err != ErrInvalidSecret {
				t.Errorf("got err %v, want ErrInvalidSecret", err)
			}
			if Available(tt.secret) {
				t.Errorf("Available(%q) = true, want false", tt.secret)
			}
		})
	}
}

func TestAvailable(t *testing.T) {
	if !Available(testSecret) {
		t.Errorf("Available(%q) = false, want true", testSecret)
	}
}
