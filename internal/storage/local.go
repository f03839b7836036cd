package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Local stores artifacts in a directory on disk
type Local struct {
	root string
}

// ArtifactInfo describes a stored artifact
type ArtifactInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// NewLocal creates a Local store rooted at dir, creating it if needed
func NewLocal(dir string) (*Local, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute output directory
func (l *Local) Root() string {
	return l.root
}

// Save writes data to <root>/<name> and returns the file path. The file is
// written under a temporary name and renamed so readers never see a partial
// artifact.
func (l *Local) Save(_ context.Context, name string, data []byte) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	full := filepath.Join(l.root, name)
	tmp, err := os.CreateTemp(l.root, "."+name+".*")
	if err != nil {
		return "", err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}

	return full, nil
}

// List returns stored artifacts, newest first
func (l *Local) List() ([]ArtifactInfo, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}

	artifacts := make([]ArtifactInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, ArtifactInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		if artifacts[i].ModTime.Equal(artifacts[j].ModTime) {
			return artifacts[i].Name > artifacts[j].Name
		}
		return artifacts[i].ModTime.After(artifacts[j].ModTime)
	})

	return artifacts, nil
}

// ReadHead returns up to n leading bytes of a stored artifact
func (l *Local) ReadHead(name string, n int) ([]byte, error) {
	if !validName(name) {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}

	f, err := os.Open(filepath.Join(l.root, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

// validName rejects names that would escape the root directory
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

var _ Store = (*Local)(nil)
