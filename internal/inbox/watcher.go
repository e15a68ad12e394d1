// Package inbox maintains the IMAP connection to the mailbox that receives
// verification-code emails and emits new messages as they arrive.
package inbox

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/addrbook/provisioner/internal/config"
)

// ConnectionState tracks the watcher lifecycle explicitly so callers can
// query it instead of relying on ambient flags.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
	StateStopped
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Message is a parsed incoming email
type Message struct {
	UID        uint32
	Subject    string
	From       string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
}

// Watcher handles the IMAP connection and new-mail monitoring. Reconnect
// policy belongs to the caller; the watcher reports errors and keeps its
// channels usable for a restart.
type Watcher struct {
	config config.InboxConfig

	mu     sync.Mutex
	client *client.Client
	state  ConnectionState
	stop   chan struct{}
}

// NewWatcher creates a watcher for the configured mailbox
func NewWatcher(cfg config.InboxConfig) *Watcher {
	return &Watcher{
		config: cfg,
		state:  StateIdle,
	}
}

// State returns the current connection state
func (w *Watcher) State() ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Watcher) setState(s ConnectionState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Connect establishes the IMAP connection and selects the watch folder
func (w *Watcher) Connect(ctx context.Context) error {
	w.setState(StateConnecting)

	addr := fmt.Sprintf("%s:%d", w.config.Server, w.config.Port)
	log.Printf("Connecting to IMAP server %s...", addr)

	c, err := client.DialTLS(addr, nil)
	if err != nil {
		w.setState(StateFailed)
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(w.config.Email, w.config.Password); err != nil {
		c.Logout()
		w.setState(StateFailed)
		return fmt.Errorf("failed to login: %w", err)
	}

	if _, err := c.Select(w.config.Folder, false); err != nil {
		c.Logout()
		w.setState(StateFailed)
		return fmt.Errorf("failed to select mailbox %s: %w", w.config.Folder, err)
	}

	w.mu.Lock()
	w.client = c
	w.state = StateConnected
	w.stop = make(chan struct{})
	w.mu.Unlock()

	log.Printf("IMAP login successful (%s)", w.config.Email)
	return nil
}

// Stop terminates the watch and logs out. Idempotent and safe to call even
// if the watcher never connected.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		select {
		case <-w.stop:
			// already closed
		default:
			close(w.stop)
		}
		w.stop = nil
	}
	if w.client != nil {
		w.client.Logout()
		w.client = nil
	}
	if w.state != StateStopped {
		w.state = StateStopped
	}
}

// Watch starts IDLE-based monitoring and returns a message stream plus an
// error stream. A delivery on the error channel does not close the message
// channel; the caller decides whether to reconnect and watch again.
func (w *Watcher) Watch(ctx context.Context) (<-chan Message, <-chan error) {
	messages := make(chan Message, 8)
	errs := make(chan error, 1)

	w.mu.Lock()
	c := w.client
	stop := w.stop
	w.mu.Unlock()

	if c == nil {
		errs <- fmt.Errorf("not connected to IMAP server")
		return messages, errs
	}

	go w.watchLoop(ctx, imapConn{w: w, c: c}, stop, messages, errs)
	return messages, errs
}

// watchConn is the slice of the IMAP connection the watch loop drives,
// split out so the loop can be tested against a scripted fake.
type watchConn interface {
	SetUpdates(ch chan client.Update)
	Idle(stop <-chan struct{}) error
	FetchUnseen() ([]Message, error)
}

type imapConn struct {
	w *Watcher
	c *client.Client
}

func (ic imapConn) SetUpdates(ch chan client.Update) { ic.c.Updates = ch }
func (ic imapConn) Idle(stop <-chan struct{}) error  { return ic.c.Idle(stop, nil) }
func (ic imapConn) FetchUnseen() ([]Message, error)  { return ic.w.fetchUnseen(ic.c) }

func (w *Watcher) watchLoop(ctx context.Context, c watchConn, stop chan struct{}, messages chan<- Message, errs chan<- error) {
	// The code email often lands before the watch starts, and no IDLE
	// update will ever announce it. Drain whatever is already unseen
	// before idling.
	if !w.deliverUnseen(ctx, c, stop, messages, errs) {
		return
	}

	updates := make(chan client.Update, 8)
	c.SetUpdates(updates)

	idleStop := make(chan struct{})
	idleDone := make(chan error, 1)
	go func() {
		idleDone <- c.Idle(idleStop)
	}()

	for {
		select {
		case <-ctx.Done():
			close(idleStop)
			return
		case <-stop:
			close(idleStop)
			return
		case update := <-updates:
			if _, ok := update.(*client.MailboxUpdate); !ok {
				continue
			}
			// Pause IDLE to fetch; the server will not accept other
			// commands while idling.
			close(idleStop)
			<-idleDone
			c.SetUpdates(nil)

			if !w.deliverUnseen(ctx, c, stop, messages, errs) {
				return
			}

			c.SetUpdates(updates)
			idleStop = make(chan struct{})
			go func() {
				idleDone <- c.Idle(idleStop)
			}()
		case err := <-idleDone:
			if err != nil {
				errs <- fmt.Errorf("IDLE error: %w", err)
			}
			return
		}
	}
}

// deliverUnseen fetches unseen messages and emits them. A false return
// means the loop should exit: cancellation, stop, or a fetch error that
// has already been reported.
func (w *Watcher) deliverUnseen(ctx context.Context, c watchConn, stop chan struct{}, messages chan<- Message, errs chan<- error) bool {
	fetched, err := c.FetchUnseen()
	if err != nil {
		errs <- err
		return false
	}
	for _, msg := range fetched {
		select {
		case messages <- msg:
		case <-ctx.Done():
			return false
		case <-stop:
			return false
		}
	}
	return true
}

// fetchUnseen pulls messages that arrived since the last fetch and marks
// them seen, matching the mailbox hygiene of the code-dispatch flow.
func (w *Watcher) fetchUnseen(c *client.Client) ([]Message, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search unseen emails: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, ch)
	}()

	var out []Message
	for msg := range ch {
		parsed, err := parseMessage(msg, section)
		if err != nil {
			log.Printf("Warning: failed to parse message: %v", err)
			continue
		}
		if parsed != nil {
			out = append(out, *parsed)
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return out, nil
}

// parseMessage converts an IMAP message into our Message struct
func parseMessage(msg *imap.Message, section *imap.BodySectionName) (*Message, error) {
	if msg == nil || msg.Envelope == nil {
		return nil, nil
	}

	out := &Message{
		UID:        msg.Uid,
		Subject:    msg.Envelope.Subject,
		ReceivedAt: msg.Envelope.Date,
	}
	if len(msg.Envelope.From) > 0 {
		out.From = msg.Envelope.From[0].Address()
	}

	r := msg.GetBody(section)
	if r == nil {
		return out, nil
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return out, nil // Return without body on parse error
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			body, _ := io.ReadAll(p.Body)

			if strings.HasPrefix(ct, "text/plain") && out.Body == "" {
				out.Body = string(body)
			} else if strings.HasPrefix(ct, "text/html") && out.HTMLBody == "" {
				out.HTMLBody = string(body)
			}
		}
	}

	return out, nil
}
