//go:build !unix

package license

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// update reads the region file, applies fn and writes it back. There is no
// cross-process locking on these platforms.
func (s *Shared) update(fn func(count *byte) bool) error {
	buf, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unable to read shared region: %w", err)
	}
	if len(buf) < regionSize {
		buf = append(buf, make([]byte, regionSize-len(buf))...)
	}
	if fn(&buf[0]) {
		if err := os.WriteFile(s.path, buf, 0o666); err != nil { //nolint:gosec
			return fmt.Errorf("unable to write shared region: %w", err)
		}
	}
	return nil
}
