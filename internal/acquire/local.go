package acquire

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// CheckLocal verifies that path is a readable, non-empty regular file and
// returns its size.
func CheckLocal(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("firmware file %s does not exist", path)
		}
		return 0, fmt.Errorf("stat firmware file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("firmware path %s is not a regular file", path)
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return 0, fmt.Errorf("firmware file %s is not readable: %w", path, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("firmware file %s is empty", path)
	}
	return uint64(info.Size()), nil
}
