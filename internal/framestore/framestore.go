// Package framestore holds the most recently captured camera frame in a
// single overwrite-in-place slot. The capture loop is the only writer;
// request handlers read concurrently and always observe a complete frame.
package framestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agv-data/vision/internal/monitoring"
)

// Frame is one encoded camera image plus its pixel dimensions. A Frame is
// immutable once published; replacement is always a full swap of the slot.
type Frame struct {
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

// Store publishes the latest frame both in memory and, when configured with
// a directory, as a stable well-known file (latest.jpg) that out-of-process
// consumers read directly.
type Store struct {
	current atomic.Pointer[Frame]

	dir    string
	fileMu sync.Mutex

	// onPublish, when set, observes every published frame. Used by the
	// live websocket hub. Must not block.
	onPublish func(*Frame)
}

// LatestFileName is the stable artifact name overwritten on every capture.
const LatestFileName = "latest.jpg"

// NewStore creates a frame store. dir may be empty to disable the filesystem
// artifact (used in tests).
func NewStore(dir string) (*Store, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create frame directory %s: %w", dir, err)
		}
	}
	return &Store{dir: dir}, nil
}

// OnPublish registers a hook invoked after each successful publish. Call
// before the capture loop starts; the hook is not synchronized against
// Publish.
func (s *Store) OnPublish(f func(*Frame)) {
	s.onPublish = f
}

// Publish replaces the slot with frame. The in-memory swap is atomic: an
// in-flight Latest call returns either the previous frame or this one.
func (s *Store) Publish(frame *Frame) {
	s.current.Store(frame)

	if s.dir != "" {
		if err := s.writeArtifact(frame.JPEG); err != nil {
			monitoring.Logf("framestore: failed to write %s: %v", LatestFileName, err)
		}
	}

	if s.onPublish != nil {
		s.onPublish(frame)
	}
}

// Latest returns the most recently published frame, or nil when no frame has
// ever been captured. Callers must treat the result as read-only.
func (s *Store) Latest() *Frame {
	return s.current.Load()
}

// Path returns the stable filesystem identity of the latest frame, or ""
// when the artifact is disabled.
func (s *Store) Path() string {
	if s.dir == "" {
		return ""
	}
	return filepath.Join(s.dir, LatestFileName)
}

// writeArtifact writes to a temp file in the same directory and renames it
// over latest.jpg so external readers never see a torn file.
func (s *Store) writeArtifact(jpeg []byte) error {
	s.fileMu.Lock()
	defer s.fileMu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".latest-*.jpg")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(jpeg); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.Path())
}
