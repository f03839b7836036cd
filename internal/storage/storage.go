package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Artifact extensions
const (
	ExtOpus = ".opus"
	ExtRaw  = ".raw"
	ExtWAV  = ".wav"
)

// Store saves a named artifact and returns where it was written.
// Implementations must be safe for concurrent use.
type Store interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// ArtifactName builds "<YYYYmmdd_HHMMSS>_<peer>.<ext>" with ':' and '.' in the
// peer address replaced by '_'
func ArtifactName(t time.Time, peer, ext string) string {
	safe := strings.NewReplacer(":", "_", ".", "_", "/", "_", "\\", "_").Replace(peer)
	return t.Format("20060102_150405") + "_" + safe + ext
}

// contentType returns the MIME type for an artifact name.
func contentType(name string) string {
	switch filepath.Ext(name) {
	case ExtOpus:
		return "audio/ogg"
	case ExtWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Mirrored writes to a primary store and copies every artifact to the
// mirrors. Mirror failures are logged and do not fail the save.
type Mirrored struct {
	primary Store
	mirrors []Store
	logger  *slog.Logger
}

// NewMirrored creates a mirrored store. With no mirrors it behaves exactly
// like primary.
func NewMirrored(primary Store, logger *slog.Logger, mirrors ...Store) *Mirrored {
	return &Mirrored{primary: primary, mirrors: mirrors, logger: logger}
}

// Save writes to the primary store, then to each mirror
func (m *Mirrored) Save(ctx context.Context, name string, data []byte) (string, error) {
	location, err := m.primary.Save(ctx, name, data)
	if err != nil {
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}

	for _, mirror := range m.mirrors {
		remote, err := mirror.Save(ctx, name, data)
		if err != nil {
			m.logger.Warn("Failed to mirror artifact", "name", name, "error", err)
			continue
		}
		m.logger.Debug("Artifact mirrored", "name", name, "location", remote)
	}

	return location, nil
}
