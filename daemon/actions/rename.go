package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/djherbis/times"
	"github.com/sirupsen/logrus"
)

const (
	RenameToDateName = "rename-to-date"

	// StampLayout renders as YYMMDD_HHMMSS.
	StampLayout = "060102_150405"
	// MaxPathLen is the ceiling a renamed path must stay under (Windows MAX_PATH).
	MaxPathLen = 260
	// maxSafeLen is the budget for stamp, separator, name and extension together.
	maxSafeLen = 230
)

var (
	ErrPathTooLong  = errors.New("path too long")
	ErrTargetExists = errors.New("target already exists")

	datePrefixRe = regexp.MustCompile(`^\d{6}_\d{6}_`)
)

// TimeSource returns the creation time of the file at path.
type TimeSource func(path string) (time.Time, error)

// CreationTime returns the birth time of the file when the platform records one and its modification time
// otherwise.
func CreationTime(path string) (time.Time, error) {
	ts, err := times.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if ts.HasBirthTime() {
		return ts.BirthTime(), nil
	}
	return ts.ModTime(), nil
}

// HasDatePrefix reports whether name already starts with a canonical YYMMDD_HHMMSS_ stamp.
func HasDatePrefix(name string) bool {
	return datePrefixRe.MatchString(name)
}

// CanonicalPath computes the renamed path of the file at path created at the given time. The original name is
// truncated (never the extension) so that stamp, separator, name and extension fit in the safe budget. It
// returns ErrPathTooLong when the full path would still reach MaxPathLen.
func CanonicalPath(path string, created time.Time) (string, error) {
	dir, ext := filepath.Dir(path), filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(path), ext)

	stamp := created.UTC().Format(StampLayout)
	maxNameLen := maxSafeLen - len(stamp) - utf8.RuneCountInString(ext) - 1
	newPath := filepath.Join(dir, stamp+"_"+truncateRunes(name, maxNameLen)+ext)
	if utf8.RuneCountInString(newPath) >= MaxPathLen {
		return "", fmt.Errorf("%d characters: %w", utf8.RuneCountInString(newPath), ErrPathTooLong)
	}

	return newPath, nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

type RenameOption func(a *RenameToDate)

// WithTimeSource replaces how creation times are read.
func WithTimeSource(src TimeSource) RenameOption {
	return func(a *RenameToDate) {
		a.created = src
	}
}

// RenameToDate prefixes file names with their creation time stamp, e.g. vacation.jpg created at
// 2025-08-16 10:14:31 UTC becomes 250816_101431_vacation.jpg.
type RenameToDate struct {
	logger  *logrus.Logger
	created TimeSource
}

func NewRenameToDate(logger *logrus.Logger, opts ...RenameOption) *RenameToDate {
	a := &RenameToDate{
		logger:  logger,
		created: CreationTime,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *RenameToDate) Name() string {
	return RenameToDateName
}

// Applies is false for names that already carry the stamp, which is what makes renaming idempotent.
func (a *RenameToDate) Applies(path string) bool {
	return !HasDatePrefix(filepath.Base(path))
}

func (a *RenameToDate) Apply(ctx context.Context, path string) (*Result, error) {
	logger := a.logger.WithContext(ctx).WithFields(logrus.Fields{
		"path":   path,
		"action": RenameToDateName,
	})

	if HasDatePrefix(filepath.Base(path)) {
		return Skipped(path, "already renamed"), nil
	}

	created, err := a.created(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Skipped(path, "file no longer exists"), nil
		}
		return nil, fmt.Errorf("read creation time: %w", err)
	}

	newPath, err := CanonicalPath(path, created)
	if err != nil {
		logger.WithError(err).Warn("Skip: renamed path would be too long")
		return Skipped(path, err.Error()), nil
	}

	_, err = os.Lstat(newPath)
	if err == nil {
		logger.WithField("target", newPath).Warn("Skip: target already exists")
		return Skipped(path, ErrTargetExists.Error()), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat rename target: %w", err)
	}

	err = os.Rename(path, newPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Skipped(path, "file no longer exists"), nil
		}
		return nil, fmt.Errorf("rename: %w", err)
	}

	logger.WithField("target", filepath.Base(newPath)).Info("Renamed")
	return Applied(newPath), nil
}
