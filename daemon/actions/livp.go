package actions

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const LivpToJPGName = "livp-to-jpg"

type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

type Converter interface {
	Convert(ctx context.Context, srcPath, dstPath string) error
}

type LivpConfig struct {
	// ContainerExt selects the files the action applies to, compared case-insensitively.
	ContainerExt string
	// EmbeddedExt selects the extracted entries that get converted.
	EmbeddedExt string
	// OutputExt is the extension of the converted images; the converter picks the format from it.
	OutputExt string
	// TempSuffix is appended to the container file name to get the extraction dir.
	TempSuffix string
}

func DefaultLivpConfig() LivpConfig {
	return LivpConfig{
		ContainerExt: ".livp",
		EmbeddedExt:  ".heic",
		OutputExt:    ".jpg",
		TempSuffix:   "_temp",
	}
}

// TempDirSuffix is the name ending shared by every extraction dir, e.g. .livp_temp.
func (c LivpConfig) TempDirSuffix() string {
	return c.ContainerExt + c.TempSuffix
}

// LivpToJPG unpacks a Live Photo container and converts every embedded HEIC image into a JPEG next to it.
type LivpToJPG struct {
	logger    *logrus.Logger
	cfg       LivpConfig
	extractor Extractor
	converter Converter
}

func NewLivpToJPG(logger *logrus.Logger, cfg LivpConfig, extractor Extractor, converter Converter) *LivpToJPG {
	return &LivpToJPG{
		logger:    logger,
		cfg:       cfg,
		extractor: extractor,
		converter: converter,
	}
}

func (a *LivpToJPG) Name() string {
	return LivpToJPGName
}

// Applies is false for containers that already carry the date stamp: the rename runs after the conversion,
// so a stamped container was converted before (a restart rescanning the watch dir, for instance).
func (a *LivpToJPG) Applies(path string) bool {
	return strings.EqualFold(filepath.Ext(path), a.cfg.ContainerExt) && !HasDatePrefix(filepath.Base(path))
}

// TempDir returns the extraction dir used for the given container, e.g. photo.livp_temp.
func (a *LivpToJPG) TempDir(path string) string {
	return path + a.cfg.TempSuffix
}

// OutputPath returns where the converted image of entry ends up: <container base>_<entry base><output ext>
// in the container's directory.
func (a *LivpToJPG) OutputPath(containerPath, entry string) string {
	base := strings.TrimSuffix(filepath.Base(containerPath), filepath.Ext(containerPath))
	entryBase := strings.TrimSuffix(filepath.Base(entry), filepath.Ext(entry))
	return filepath.Join(filepath.Dir(containerPath), base+"_"+entryBase+a.cfg.OutputExt)
}

// Apply converts every embedded image it can. Conversions are independent of each other; when some of them
// fail the result still lists the outputs that were produced and the error joins the failures.
// The extraction dir is removed on every return path.
func (a *LivpToJPG) Apply(ctx context.Context, path string) (*Result, error) {
	logger := a.logger.WithContext(ctx).WithFields(logrus.Fields{
		"path":   path,
		"action": LivpToJPGName,
	})

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Skipped(path, "file no longer exists"), nil
		}
		return nil, fmt.Errorf("stat container: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Skipped(path, "not a regular file"), nil
	}

	tempDir := a.TempDir(path)
	err = os.MkdirAll(tempDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer a.removeTempDir(ctx, logger, tempDir)

	err = a.extractor.Extract(ctx, path, tempDir)
	if err != nil {
		return nil, fmt.Errorf("extract container: %w", err)
	}

	entries, err := a.embeddedEntries(tempDir)
	if err != nil {
		return nil, fmt.Errorf("list extracted entries: %w", err)
	}
	if len(entries) == 0 {
		logger.Info("No embedded images found in container")
		return Skipped(path, "no embedded images"), nil
	}

	var outputs []string
	var errs []error
	for _, entry := range entries {
		dst := a.OutputPath(path, entry)
		entryLogger := logger.WithFields(logrus.Fields{
			"entry":  filepath.Base(entry),
			"output": dst,
		})

		err = a.converter.Convert(ctx, entry, dst)
		if err != nil {
			entryLogger.WithError(err).Error("Failed to convert embedded image, continuing with the rest")
			errs = append(errs, fmt.Errorf("convert %s: %w", filepath.Base(entry), err))
			continue
		}

		entryLogger.Info("Converted embedded image")
		outputs = append(outputs, dst)
	}

	return Applied(path, outputs...), errors.Join(errs...)
}

// embeddedEntries lists the extracted files with the embedded extension in lexical order. Only the top level
// is read: output names are built from entry base names, so nested entries could collide.
func (a *LivpToJPG) embeddedEntries(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []string
	for _, e := range dirEntries {
		if e.Type().IsRegular() && strings.EqualFold(filepath.Ext(e.Name()), a.cfg.EmbeddedExt) {
			entries = append(entries, filepath.Join(dir, e.Name()))
		}
	}

	return entries, nil
}

func (a *LivpToJPG) removeTempDir(ctx context.Context, logger *logrus.Entry, dir string) {
	// the converter may hold a handle on an entry for a moment after it exits (mostly on Windows)
	bk := backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(time.Second*3),
		backoff.WithMaxInterval(time.Second),
		backoff.WithInitialInterval(time.Millisecond*100),
		backoff.WithMultiplier(2),
		backoff.WithRandomizationFactor(0.2),
	)
	// cleanup has to happen even when the pipeline is being canceled
	err := backoff.Retry(func() error {
		return os.RemoveAll(dir)
	}, backoff.WithContext(bk, context.WithoutCancel(ctx)))
	if err != nil {
		logger.WithField("dir", dir).WithError(err).Error("Failed to remove temp dir")
		return
	}

	logger.WithField("dir", dir).Debug("Removed temp dir")
}
