package download

import (
	"fmt"
	"os"
	"path/filepath"
)

// removeWorkspace deletes the directory containing audioPath and everything
// in it. A missing directory is not an error, so repeated calls are no-ops.
func removeWorkspace(audioPath string, removeAll func(string) error) error {
	if audioPath == "" {
		return nil
	}
	dir := filepath.Clean(filepath.Dir(audioPath))
	if dir == "." || dir == string(filepath.Separator) || dir == filepath.Clean(os.TempDir()) {
		return fmt.Errorf("refusing to remove %q as a download workspace", dir)
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return nil
	}
	return removeAll(dir)
}
