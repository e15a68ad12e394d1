package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/client"

	"github.com/addrbook/provisioner/internal/config"
)

// fakeConn scripts the IMAP connection for watch-loop tests. Each call to
// FetchUnseen returns the next batch of messages; Idle blocks until stopped.
type fakeConn struct {
	mu      sync.Mutex
	batches [][]Message
	fetches int
}

func (f *fakeConn) SetUpdates(ch chan client.Update) {}

func (f *fakeConn) Idle(stop <-chan struct{}) error {
	<-stop
	return nil
}

func (f *fakeConn) FetchUnseen() ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetches <= len(f.batches) {
		return f.batches[f.fetches-1], nil
	}
	return nil, nil
}

func TestWatchLoopDeliversPreArrivedMail(t *testing.T) {
	// A code email that lands before the watch starts never produces an
	// IDLE update; the loop must drain the unseen set before idling.
	conn := &fakeConn{batches: [][]Message{
		{{UID: 7, Subject: "Bybit verification code"}},
	}}

	w := NewWatcher(config.InboxConfig{})
	stop := make(chan struct{})
	messages := make(chan Message, 8)
	errs := make(chan error, 1)

	go w.watchLoop(context.Background(), conn, stop, messages, errs)
	defer close(stop)

	select {
	case msg := <-messages:
		if msg.Subject != "Bybit verification code" {
			t.Errorf("got subject %q, want the pre-arrived code email", msg.Subject)
		}
	case err := <-errs:
		t.Fatalf("unexpected watch error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("pre-arrived unseen message never delivered")
	}
}

func TestStopIdempotent(t *testing.T) {
	w := NewWatcher(config.InboxConfig{})

	// Safe before Connect, and on repeat
	w.Stop()
	w.Stop()

	if got := w.State(); got != StateStopped {
		t.Errorf("state after Stop = %s, want stopped", got)
	}
}

func TestStateBeforeConnect(t *testing.T) {
	w := NewWatcher(config.InboxConfig{})
	if got := w.State(); got != StateIdle {
		t.Errorf("initial state = %s, want idle", got)
	}
}

func TestWatchWithoutConnection(t *testing.T) {
	w := NewWatcher(config.InboxConfig{})
	messages, errs := w.Watch(context.Background())

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("got nil error for unconnected watch")
		}
	case <-time.After(time.Second):
		t.Fatal("no error delivered for unconnected watch")
	}

	// The message channel stays open so a reconnected caller can reuse
	// the select shape.
	select {
	case msg, ok := <-messages:
		if !ok {
			t.Fatal("message channel closed after watch error")
		}
		t.Fatalf("unexpected message: %+v", msg)
	default:
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateFailed, "failed"},
		{StateStopped, "stopped"},
		{ConnectionState(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
