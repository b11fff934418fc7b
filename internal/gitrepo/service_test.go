package gitrepo

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStimulusHistoryLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stimuli")
	svc := New(dir)

	if err := svc.Ensure("Lab"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, err := svc.Head(); !errors.Is(err, ErrNoVersions) {
		t.Fatalf("Head() on empty repo error = %v, want ErrNoVersions", err)
	}
	history, err := svc.History("", 10)
	if err != nil || len(history) != 0 {
		t.Fatalf("History() on empty repo = %v, %v", history, err)
	}

	first, err := svc.Commit(map[string][]byte{
		"practice-stimuli.csv": []byte("itemNummer\n1\n"),
		"blocked_trials.csv":   []byte("itemNummer,block\n1,1\n"),
	}, "Ana Lab", "Initial tables")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if len(first.Hash) != 40 || first.Author != "Ana Lab" {
		t.Fatalf("unexpected version: %+v", first)
	}
	if strings.Join(first.Files, ",") != "blocked_trials.csv,practice-stimuli.csv" {
		t.Fatalf("Files = %v", first.Files)
	}

	same, err := svc.Commit(map[string][]byte{"blocked_trials.csv": []byte("itemNummer,block\n1,1\n")}, "Ana Lab", "No change")
	if err != nil {
		t.Fatalf("unchanged Commit() error = %v", err)
	}
	if same.Hash != first.Hash {
		t.Fatalf("unchanged commit created %s, want head %s", same.Hash, first.Hash)
	}

	second, err := svc.Commit(map[string][]byte{"blocked_trials.csv": []byte("itemNummer,block\n1,2\n")}, "Ana Lab", "Move item 1")
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	history, err = svc.History("", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Hash != second.Hash || history[1].Hash != first.Hash {
		t.Fatalf("unexpected history: %+v", history)
	}
	if limited, _ := svc.History("", 1); len(limited) != 1 {
		t.Fatalf("History(limit 1) returned %d versions", len(limited))
	}
	practiceOnly, err := svc.History("practice-stimuli.csv", 10)
	if err != nil {
		t.Fatalf("History(file) error = %v", err)
	}
	if len(practiceOnly) != 1 || practiceOnly[0].Hash != first.Hash {
		t.Fatalf("practice history = %+v", practiceOnly)
	}

	old, err := svc.ReadFile("blocked_trials.csv", first.Hash)
	if err != nil {
		t.Fatalf("ReadFile(first) error = %v", err)
	}
	if string(old) != "itemNummer,block\n1,1\n" {
		t.Fatalf("ReadFile(first) = %q", old)
	}
	current, err := svc.ReadFile("blocked_trials.csv", "")
	if err != nil || string(current) != "itemNummer,block\n1,2\n" {
		t.Fatalf("ReadFile(HEAD) = %q, %v", current, err)
	}

	if err := svc.Tag(first.Hash, "wave-1", "Ana Lab"); err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if err := svc.Tag(first.Hash, "wave-1", "Ana Lab"); err != nil {
		t.Fatalf("repeated Tag() error = %v", err)
	}
	tagged, err := svc.ReadFile("blocked_trials.csv", "wave-1")
	if err != nil || string(tagged) != string(old) {
		t.Fatalf("ReadFile(tag) = %q, %v", tagged, err)
	}
}

func TestEnsureImportsExistingTables(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "blocked_trials.csv"), []byte("itemNummer\n"), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	svc := New(dir)
	if err := svc.Ensure("Lab"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	head, err := svc.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	if head.Message != "Import stimulus baseline" {
		t.Fatalf("baseline message = %q", head.Message)
	}
	// A second Ensure is a no-op.
	if err := svc.Ensure("Lab"); err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
}

func TestCommitRejectsPaths(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.Ensure("Lab"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if _, err := svc.Commit(map[string][]byte{"../escape.csv": []byte("x")}, "Lab", "bad"); err == nil {
		t.Fatal("expected Commit() to reject a path outside the repository")
	}
}
