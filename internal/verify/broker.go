// Package verify resolves "what code did the platform just email" with
// bounded latency, racing the mailbox against a deadline.
package verify

import (
	"context"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/addrbook/provisioner/internal/inbox"
)

// Source is the mail event stream the broker races against its deadline.
// Satisfied by *inbox.Watcher; faked in tests.
type Source interface {
	Connect(ctx context.Context) error
	Watch(ctx context.Context) (<-chan inbox.Message, <-chan error)
	Stop()
}

// Request describes a single code resolution. Requests are one-shot:
// resolved to a code or to nothing exactly once, never reused.
type Request struct {
	Marker      string         // Substring identifying the relevant subject line
	CodePattern *regexp.Regexp // Pattern extracting the code from the body
	Timeout     time.Duration  // Window within which a code must arrive
	MaxRetries  int            // Reconnect budget on watcher errors
}

// Broker composes a mail source with timeout and bounded retries
type Broker struct {
	source Source
}

func NewBroker(source Source) *Broker {
	return &Broker{source: source}
}

// AwaitCode waits for an email whose subject contains the marker and whose
// body matches the code pattern, returning the extracted code. A timeout
// resolves ("", false): no code is a legitimate outcome, not an error.
// Watcher errors consume one retry each and restart the watch with a fresh
// timeout window; at most MaxRetries+1 connection attempts are made.
func (b *Broker) AwaitCode(ctx context.Context, req Request) (string, bool) {
	defer b.source.Stop()

	for attempt := 0; attempt <= req.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Printf("Mail watch failed, reconnecting (attempt %d/%d)...", attempt+1, req.MaxRetries+1)
		}

		if err := b.source.Connect(ctx); err != nil {
			log.Printf("Email connection error: %v", err)
			continue
		}

		code, ok, retry := b.awaitOnce(ctx, req)
		if !retry {
			return code, ok
		}
		b.source.Stop()
	}

	return "", false
}

// awaitOnce runs a single watch window. retry reports whether the window
// ended on a recoverable watcher error rather than a terminal resolution.
func (b *Broker) awaitOnce(ctx context.Context, req Request) (code string, ok bool, retry bool) {
	messages, errs := b.source.Watch(ctx)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	log.Printf("Waiting for verification code (marker %q, timeout %s)...", req.Marker, req.Timeout)

	for {
		select {
		case <-ctx.Done():
			return "", false, false
		case <-timer.C:
			log.Printf("No verification code within %s", req.Timeout)
			return "", false, false
		case err := <-errs:
			log.Printf("Mail watch error: %v", err)
			return "", false, true
		case msg := <-messages:
			log.Printf("Got new email: %s", msg.Subject)
			if c, found := Extract(msg, req.Marker, req.CodePattern); found {
				return c, true, false
			}
			// Unrelated mail; keep waiting within the same window.
		}
	}
}

// Extract pulls the code out of a message when the subject carries the
// marker. The HTML body is preferred, falling back to plain text; the last
// capture group of the pattern is the code.
func Extract(msg inbox.Message, marker string, pattern *regexp.Regexp) (string, bool) {
	if !strings.Contains(msg.Subject, marker) {
		return "", false
	}

	for _, body := range []string{msg.HTMLBody, msg.Body} {
		if body == "" {
			continue
		}
		if m := pattern.FindStringSubmatch(body); m != nil {
			return m[len(m)-1], true
		}
	}
	return "", false
}
