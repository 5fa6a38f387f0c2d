package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Placeholders substituted in command templates.
const (
	PlaceholderSrc = "{src}"
	PlaceholderDst = "{dst}"
)

var (
	ErrEmptyCommand = errors.New("empty command template")
)

// Command runs an external tool built from an argv template. There is no shell involved, so paths with
// spaces or quotes are passed through untouched.
type Command struct {
	logger  *logrus.Logger
	argv    []string
	timeout time.Duration
}

// NewCommand validates the template. A zero timeout lets the tool run until it exits.
func NewCommand(logger *logrus.Logger, argv []string, timeout time.Duration) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, ErrEmptyCommand
	}

	return &Command{
		logger:  logger,
		argv:    append([]string(nil), argv...),
		timeout: timeout,
	}, nil
}

// Args returns the argv for the given source and destination.
func (c *Command) Args(src, dst string) []string {
	replacer := strings.NewReplacer(PlaceholderSrc, src, PlaceholderDst, dst)

	args := make([]string, len(c.argv))
	for i, arg := range c.argv {
		args[i] = replacer.Replace(arg)
	}
	return args
}

// Run executes the tool and waits for it. The combined output is attached to the error on failure.
func (c *Command) Run(ctx context.Context, src, dst string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := c.Args(src, dst)
	c.logger.WithField("args", args).Debug("Running external tool")

	var output bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("run %s: %w", args[0], ctx.Err())
		}
		if out := strings.TrimSpace(output.String()); out != "" {
			return fmt.Errorf("run %s: %w: %s", args[0], err, out)
		}
		return fmt.Errorf("run %s: %w", args[0], err)
	}

	return nil
}

// CommandExtractor unpacks an archive by running an external tool, e.g. `unzip -o -q {src} -d {dst}`.
// The tool must overwrite existing files without prompting.
type CommandExtractor struct {
	cmd *Command
}

func NewCommandExtractor(logger *logrus.Logger, argv []string, timeout time.Duration) (*CommandExtractor, error) {
	cmd, err := NewCommand(logger, argv, timeout)
	if err != nil {
		return nil, fmt.Errorf("extract command: %w", err)
	}
	return &CommandExtractor{cmd: cmd}, nil
}

func (e *CommandExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	err := e.cmd.Run(ctx, archivePath, destDir)
	if err != nil {
		return fmt.Errorf("extract %s: %w", archivePath, err)
	}
	return nil
}

// CommandConverter converts one image into another by running an external tool, e.g. `magick {src} {dst}`.
// The output format is picked by the tool from the destination extension.
type CommandConverter struct {
	cmd *Command
}

func NewCommandConverter(logger *logrus.Logger, argv []string, timeout time.Duration) (*CommandConverter, error) {
	cmd, err := NewCommand(logger, argv, timeout)
	if err != nil {
		return nil, fmt.Errorf("convert command: %w", err)
	}
	return &CommandConverter{cmd: cmd}, nil
}

func (c *CommandConverter) Convert(ctx context.Context, srcPath, dstPath string) error {
	err := c.cmd.Run(ctx, srcPath, dstPath)
	if err != nil {
		return fmt.Errorf("convert %s: %w", srcPath, err)
	}
	return nil
}
