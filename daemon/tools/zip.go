package tools

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnsafeEntry = errors.New("archive entry escapes destination")
)

// ZipExtractor unpacks zip based containers (a .livp is a plain zip bundle) without any external tool.
// All writes go through an os.Root opened on the destination, so entries can't escape it.
type ZipExtractor struct {
	logger *logrus.Logger
}

func NewZipExtractor(logger *logrus.Logger) *ZipExtractor {
	return &ZipExtractor{
		logger: logger,
	}
}

// Extract overwrites files already present in destDir.
func (z *ZipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if errors.Is(err, zip.ErrInsecurePath) {
		// only reported with GODEBUG=zipinsecurepath=0, the reader is still usable
		_ = r.Close()
		return fmt.Errorf("open archive: %w", ErrUnsafeEntry)
	}
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	root, err := os.OpenRoot(destDir)
	if err != nil {
		return fmt.Errorf("open destination dir: %w", err)
	}
	defer root.Close()

	for _, f := range r.File {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("entry %q: %w", f.Name, ErrUnsafeEntry)
		}
		if f.FileInfo().IsDir() {
			err = mkdirAll(root, name)
			if err != nil {
				return fmt.Errorf("create dir for entry %q: %w", f.Name, err)
			}
			continue
		}

		if dir := path.Dir(name); dir != "." {
			err = mkdirAll(root, dir)
			if err != nil {
				return fmt.Errorf("create dir for entry %q: %w", f.Name, err)
			}
		}

		err = extractFile(root, f, filepath.FromSlash(name))
		if err != nil {
			return fmt.Errorf("extract entry %q: %w", f.Name, err)
		}
		z.logger.WithFields(logrus.Fields{
			"archive": archivePath,
			"entry":   name,
		}).Debug("Extracted archive entry")
	}

	return nil
}

func extractFile(root *os.Root, f *zip.File, name string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	out, err := root.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	_, err = io.Copy(out, rc)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("write file: %w", err)
	}

	return out.Close()
}

// mkdirAll creates every missing directory of the slash separated dir inside root.
func mkdirAll(root *os.Root, dir string) error {
	current := ""
	for _, part := range strings.Split(dir, "/") {
		current = path.Join(current, part)
		err := root.Mkdir(filepath.FromSlash(current), 0755)
		if err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}
