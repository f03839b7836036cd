package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	store, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("Expected output directory to be created: %v", err)
	}

	path, err := store.Save(context.Background(), "a.opus", []byte("OggS data"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if path != filepath.Join(store.Root(), "a.opus") {
		t.Errorf("Unexpected path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read artifact: %v", err)
	}
	if string(data) != "OggS data" {
		t.Errorf("Unexpected content %q", data)
	}

	// Overwrite keeps a single file.
	if _, err := store.Save(context.Background(), "a.opus", []byte("new")); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}

	artifacts, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "a.opus" || artifacts[0].Size != 3 {
		t.Errorf("Unexpected listing: %+v", artifacts)
	}
}

func TestLocalSaveRejectsPaths(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	for _, name := range []string{"", "..", "../escape.opus", "sub/a.opus"} {
		if _, err := store.Save(context.Background(), name, []byte("x")); err == nil {
			t.Errorf("Expected error for name %q", name)
		}
	}
}

func TestLocalList(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}

	for _, name := range []string{"a.opus", "a.wav", "b.raw"} {
		if _, err := store.Save(context.Background(), name, []byte(name)); err != nil {
			t.Fatalf("Save %s failed: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(store.Root(), "nested"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	artifacts, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(artifacts) != 3 {
		t.Errorf("Expected 3 artifacts, got %d: %+v", len(artifacts), artifacts)
	}
}

func TestLocalReadHead(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if _, err := store.Save(context.Background(), "a.wav", []byte("0123456789")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	tests := []struct {
		name    string
		file    string
		n       int
		want    string
		wantErr bool
	}{
		{"prefix", "a.wav", 4, "0123", false},
		{"shorter file", "a.wav", 44, "0123456789", false},
		{"missing file", "b.wav", 4, "", true},
		{"path escape", "../a.wav", 4, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ReadHead(tt.file, tt.n)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadHead() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("ReadHead() = %q, want %q", got, tt.want)
			}
		})
	}
}
