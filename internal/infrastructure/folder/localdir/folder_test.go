package localdir

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestNewRejectsMissingDirectory(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListSkipsDirectoriesAndDotfiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", "content a")
	writeFile(t, dir, ".hidden", "x")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	client, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	items, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != "a.pdf" {
		t.Fatalf("unexpected items %+v", items)
	}
	if items[0].Fingerprint == "" {
		t.Fatalf("expected fingerprint")
	}
}

func TestFingerprintTracksContentNotName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.txt", "version one")

	client, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	before, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	writeFile(t, dir, "doc.txt", "version two")
	after, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if before[0].Fingerprint == after[0].Fingerprint {
		t.Fatalf("fingerprint must change with content")
	}

	// Same content under a different name keeps the fingerprint.
	writeFile(t, dir, "copy.txt", "version two")
	again, err := client.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(again) != 2 || again[0].Fingerprint != again[1].Fingerprint {
		t.Fatalf("expected identical fingerprints, got %+v", again)
	}
}

func TestFetchReturnsContent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "doc.txt", "hello")

	client, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rc, err := client.Fetch(context.Background(), "doc.txt")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestFetchRejectsPathEscape(t *testing.T) {
	client, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"../secret", "a/b.txt", "..", "."} {
		if _, err := client.Fetch(context.Background(), id); err == nil {
			t.Fatalf("expected rejection for %q", id)
		}
	}
}
