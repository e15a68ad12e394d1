// Package ledger owns the on-disk record of withdrawal addresses still to
// be provisioned versus already confirmed. The pending file is rewritten
// after every confirmed unit so a crash loses at most the in-flight work.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Ledger tracks pending and completed addresses for one run
type Ledger struct {
	path     string
	auditDir string

	pending []string
	done    map[string]bool
}

// New creates a ledger backed by the given address file. Audit files are
// written next to it unless auditDir is set.
func New(path, auditDir string) *Ledger {
	if auditDir == "" {
		auditDir = filepath.Dir(path)
	}
	return &Ledger{
		path:     path,
		auditDir: auditDir,
		done:     make(map[string]bool),
	}
}

// Normalize canonicalizes an address token: trimmed (including stray \r
// from Windows-edited files) and lowercased.
func Normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Load reads the address file: one address per line, arbitrary case and
// whitespace tolerated, empties dropped, duplicates removed preserving
// first-seen order. A missing file yields an empty ledger, not an error.
func (l *Ledger) Load() error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			l.pending = nil
			return nil
		}
		return fmt.Errorf("failed to read address file: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var pending []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		addr := Normalize(scanner.Text())
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		pending = append(pending, addr)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read address file: %w", err)
	}

	l.pending = pending
	return nil
}

// Pending returns the addresses not yet confirmed, in file order
func (l *Ledger) Pending() []string {
	out := make([]string, len(l.pending))
	copy(out, l.pending)
	return out
}

// Done returns how many addresses were confirmed this run
func (l *Ledger) Done() int {
	return len(l.done)
}

// Reconcile removes pending addresses the platform already has whitelisted
// and writes the remote set to an audit file for operator review. Returns
// the number of addresses dropped from pending.
func (l *Ledger) Reconcile(platform string, remote []string) (int, error) {
	existing := make(map[string]bool, len(remote))
	normalized := make([]string, 0, len(remote))
	for _, addr := range remote {
		addr = Normalize(addr)
		if addr == "" || existing[addr] {
			continue
		}
		existing[addr] = true
		normalized = append(normalized, addr)
	}

	var kept []string
	for _, addr := range l.pending {
		if !existing[addr] {
			kept = append(kept, addr)
		}
	}
	removed := len(l.pending) - len(kept)
	l.pending = kept

	auditPath := filepath.Join(l.auditDir, fmt.Sprintf("added-%s.txt", platform))
	if err := writeLines(auditPath, normalized); err != nil {
		return removed, fmt.Errorf("failed to write audit file: %w", err)
	}

	return removed, nil
}

// MarkDone moves the given addresses from pending to done and synchronously
// rewrites the address file to exactly the remaining pending set, in the
// original relative order.
func (l *Ledger) MarkDone(addrs ...string) error {
	confirmed := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		confirmed[Normalize(addr)] = true
	}

	var kept []string
	for _, addr := range l.pending {
		if confirmed[addr] {
			l.done[addr] = true
		} else {
			kept = append(kept, addr)
		}
	}
	l.pending = kept

	if err := writeLines(l.path, l.pending); err != nil {
		return fmt.Errorf("failed to checkpoint address file: %w", err)
	}
	return nil
}

func writeLines(path string, lines []string) error {
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}
