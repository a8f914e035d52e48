package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

type Guard struct {
	file *flock.Flock
}

// Acquire obtains a filesystem lock so two mirror runs never write the
// same tree at once. A held lock means another run is in progress.
func Acquire(path string) (*Guard, error) {
	if path == "" {
		path = filepath.Join(os.TempDir(), "dmirror.lock")
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("another mirror run is already in progress (lock: %s)", path)
	}
	return &Guard{file: fl}, nil
}

// Release frees the lock.
func (g *Guard) Release() error {
	if g == nil || g.file == nil {
		return nil
	}
	return g.file.Unlock()
}
