package httpstore

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

// tempDirMaxAge is the age after which a leftover tmp.* directory is
// considered abandoned and swept, per the specification's 10-minute
// sweeper.
const tempDirMaxAge = 10 * time.Minute

// newTempDir creates a fresh "tmp.XXXX-XXXX" directory inside root and
// returns its path.
func newTempDir(root string) (string, error) {
	for attempt := 0; attempt < 8; attempt++ {
		name := fmt.Sprintf("tmp.%04x-%04x", rand.Intn(1<<16), rand.Intn(1<<16))
		path := filepath.Join(root, name)
		if err := os.Mkdir(path, 0o755); err == nil {
			return path, nil
		} else if !os.IsExist(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("httpstore: could not allocate a temp directory under %s", root)
}

// commitTempDir renames a populated temp directory into its final,
// content-addressed location. dest's parent directories are created if
// missing (the store root, and the first-level shard directory).
func commitTempDir(tempPath, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.Rename(tempPath, dest)
}

// SweepTempDirs removes tmp.* directories under root older than 10
// minutes, mirroring the reference store's periodic sweeper. Recent
// directories (an in-progress store from another goroutine/process) are
// left untouched.
func SweepTempDirs(root string) error {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-tempDirMaxAge)
	for _, ent := range entries {
		if !ent.IsDir() || len(ent.Name()) < 4 || ent.Name()[:4] != "tmp." {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(root, ent.Name()))
		}
	}
	return nil
}
