//go:build unix

package license

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// update maps the region, holds an exclusive lock on it for the duration of
// fn and unmaps it again.
func (s *Shared) update(fn func(count *byte) bool) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return fmt.Errorf("unable to open shared region: %w", err)
	}
	defer f.Close() //nolint:errcheck

	fd := int(f.Fd()) //nolint:gosec
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("unable to lock shared region: %w", err)
	}
	defer unix.Flock(fd, unix.LOCK_UN) //nolint:errcheck

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("unable to stat shared region: %w", err)
	}
	if st.Size() < regionSize {
		if err := unix.Ftruncate(fd, regionSize); err != nil {
			return fmt.Errorf("unable to size shared region: %w", err)
		}
	}

	mem, err := unix.Mmap(fd, 0, regionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("unable to map shared region: %w", err)
	}
	defer unix.Munmap(mem) //nolint:errcheck

	if fn(&mem[0]) {
		if err := unix.Msync(mem, unix.MS_SYNC); err != nil {
			return fmt.Errorf("unable to flush shared region: %w", err)
		}
	}
	return nil
}
