package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

var (
	ErrNotDirectory = errors.New("not a directory")
)

type Watcher interface {
	Add(dirPath string) error
}

type Notifier interface {
	Notify(path string)
}

// Walk walks through the given directory recursively performing the following actions:
//  1. Add every non-ignored directory to the filesystem watcher
//  2. Report every non-ignored regular file to the notifier as added, unless notifier is nil.
//
// It's used both for the initial scan of the watch root and for directories moved into the tree later on,
// whose files never produce their own create events.
func Walk(ctx context.Context, log *logrus.Logger, rootDir string, matcher *Matcher, watcher Watcher, notifier Notifier) error {
	logger := log.WithField("root_dir", rootDir)
	logger.Debug("Walking directory")

	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if matcher.Ignored(path) {
			// skip hidden files or directories and anything matching an ignore pattern
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			// the fsnotify module suggests not to add individual files to the watcher
			err = watcher.Add(path)
			if err != nil {
				return fmt.Errorf("add dir to watcher: %w", err)
			}
			return nil
		}

		if !d.Type().IsRegular() {
			// skip irregular files e.g. symlinks
			return nil
		}

		if notifier != nil {
			logger.WithField("path", path).Debug("Found existing file")
			notifier.Notify(path)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return nil
}

// CheckRoot makes sure the watch root exists and is a directory.
func CheckRoot(rootDir string) error {
	info, err := os.Stat(rootDir)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %q: %w", rootDir, ErrNotDirectory)
	}

	return nil
}
