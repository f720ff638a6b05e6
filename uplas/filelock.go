package uplas

import (
	"fmt"
	"os"
	"time"
)

const (
	lockStaleAfter = 30 * time.Second
	lockRetryDelay = 100 * time.Millisecond
	lockMaxRetries = 50
)

// sessionLock is an exclusive cross-process lock on the session file,
// implemented as a companion ".lock" file created with O_EXCL.
type sessionLock struct {
	file *os.File
	path string
}

// lockSessionFile acquires the lock for path, retrying until the current
// holder releases it. A lock file older than lockStaleAfter is assumed to
// belong to a dead process and is removed.
func lockSessionFile(path string) (*sessionLock, error) {
	lockPath := path + ".lock"

	for i := 0; i < lockMaxRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Record the holder's PID for debugging.
			fmt.Fprintf(f, "%d", os.Getpid())
			return &sessionLock{file: f, path: lockPath}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire session file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
					return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
				}
				continue
			}
		}

		time.Sleep(lockRetryDelay)
	}

	return nil, fmt.Errorf(
		"timeout waiting for session file lock after %v",
		lockMaxRetries*lockRetryDelay,
	)
}

func (l *sessionLock) release() error {
	if l.file != nil {
		l.file.Close()
	}
	return os.Remove(l.path)
}
