package license

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// regionSize is the size of the shared region. Only the first byte holds the
// counter; the rest is reserved.
const regionSize = 10

// Shared is a Registry backed by a named shared memory region, so every
// decwav process on the machine sees the same counter.
type Shared struct {
	path   string
	logger *log.Logger
}

// NewShared returns a registry for the region called name. On systems with a
// /dev/shm mount the region lives there; otherwise it falls back to the
// temporary directory.
func NewShared(name string, logger *log.Logger) *Shared {
	if name == "" {
		name = DefaultName
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Shared{path: filepath.Join(shmDir(), name), logger: logger}
}

// NewSharedAt returns a registry backed by the file at path.
func NewSharedAt(path string, logger *log.Logger) *Shared {
	if logger == nil {
		logger = log.Default()
	}
	return &Shared{path: path, logger: logger}
}

// Path returns the backing file of the region.
func (s *Shared) Path() string {
	return s.path
}

func shmDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// ResetActiveCount implements Registry.
func (s *Shared) ResetActiveCount() bool {
	err := s.update(func(count *byte) bool {
		*count = 0
		return true
	})
	if err != nil {
		s.logger.Error("Could not reset license counter", "path", s.path, "error", err)
		return false
	}
	s.logger.Debug("License counter reset", "path", s.path)
	return true
}

// Acquire implements Registry.
func (s *Shared) Acquire(limit int) bool {
	var ok bool
	err := s.update(func(count *byte) bool {
		if (limit > 0 && int(*count) >= limit) || *count == 0xff {
			return false
		}
		*count++
		ok = true
		return true
	})
	if err != nil {
		s.logger.Error("Could not acquire license slot", "path", s.path, "error", err)
		return false
	}
	return ok
}

// Release implements Registry.
func (s *Shared) Release() {
	err := s.update(func(count *byte) bool {
		if *count == 0 {
			return false
		}
		*count--
		return true
	})
	if err != nil {
		s.logger.Warn("Could not release license slot", "path", s.path, "error", err)
	}
}

// Count returns the current counter value.
func (s *Shared) Count() (int, error) {
	var n int
	err := s.update(func(count *byte) bool {
		n = int(*count)
		return false
	})
	return n, err
}
