package ledger

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeAddressFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "addresses.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadNormalizesAndDedupes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{
			name:    "mixed case duplicates",
			content: "0xAAA111\n0xaaa111\n0xBBB222\n",
			want:    []string{"0xaaa111", "0xbbb222"},
		},
		{
			name:    "windows line endings and whitespace",
			content: "  0xAAA111\r\n\r\n0xbbb222 \r\n",
			want:    []string{"0xaaa111", "0xbbb222"},
		},
		{
			name:    "first seen order preserved",
			content: "0xccc\n0xaaa\n0xCCC\n0xbbb\n0xAAA\n",
			want:    []string{"0xccc", "0xaaa", "0xbbb"},
		},
		{
			name:    "empty file",
			content: "\n\n",
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(writeAddressFile(t, tt.content), "")
			if err := l.Load(); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			got := l.Pending()
			if len(got) == 0 {
				got = nil
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadMissingFileIsSoft(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "missing.txt"), "")
	if err := l.Load(); err != nil {
		t.Fatalf("Load of missing file should not error, got: %v", err)
	}
	if len(l.Pending()) != 0 {
		t.Errorf("got %d pending, want 0", len(l.Pending()))
	}
}

func TestReconcile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addresses.txt")
	if err := os.WriteFile(path, []byte("0xaaa\n0xbbb\n0xccc\n0xddd\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path, dir)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	removed, err := l.Reconcile("okx", []string{"0xBBB", "0xddd", "0xzzz"})
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if want := []string{"0xaaa", "0xccc"}; !reflect.DeepEqual(l.Pending(), want) {
		t.Errorf("pending = %v, want %v", l.Pending(), want)
	}

	// Audit file records the normalized remote set
	audit, err := os.ReadFile(filepath.Join(dir, "added-okx.txt"))
	if err != nil {
		t.Fatalf("audit file not written: %v", err)
	}
	if string(audit) != "0xbbb\n0xddd\n0xzzz" {
		t.Errorf("audit file = %q", string(audit))
	}
}

func TestMarkDoneCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addresses.txt")
	if err := os.WriteFile(path, []byte("0xaaa\n0xbbb\n0xccc\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path, dir)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	if err := l.MarkDone("0xBBB"); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	if want := []string{"0xaaa", "0xccc"}; !reflect.DeepEqual(l.Pending(), want) {
		t.Errorf("pending = %v, want %v", l.Pending(), want)
	}
	if l.Done() != 1 {
		t.Errorf("done = %d, want 1", l.Done())
	}

	// A fresh load of the same file must see exactly the in-memory pending
	// set: the on-disk checkpoint mirrors memory after every MarkDone.
	reloaded := New(path, dir)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(reloaded.Pending(), l.Pending()) {
		t.Errorf("reloaded pending = %v, in-memory = %v", reloaded.Pending(), l.Pending())
	}
}

func TestMarkDoneBatchToEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "addresses.txt")
	if err := os.WriteFile(path, []byte("0xaaa\n0xbbb\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l := New(path, dir)
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.MarkDone("0xaaa", "0xbbb"); err != nil {
		t.Fatal(err)
	}

	if len(l.Pending()) != 0 {
		t.Errorf("pending = %v, want empty", l.Pending())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "" {
		t.Errorf("file = %q, want empty", string(data))
	}
}
