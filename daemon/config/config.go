package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hedisam/photoprep/daemon/actions"
	"github.com/hedisam/photoprep/daemon/debounce"
	"github.com/hedisam/photoprep/daemon/dispatch"
	"github.com/hedisam/photoprep/daemon/filesystem"
	"github.com/hedisam/photoprep/daemon/tools"
)

const (
	ExtractorZip     = "zip"
	ExtractorCommand = "command"

	DefaultToolTimeout = 5 * time.Minute
)

var (
	ErrInvalidConfig = errors.New("invalid config")
)

// Options defines the daemon configuration. Values come from the defaults, then the YAML file given with
// -config, then any flag set explicitly on the command line.
type Options struct {
	WatchDir       string        `yaml:"watch_dir"`
	Debounce       time.Duration `yaml:"debounce"`
	Workers        int           `yaml:"workers"`
	InitialScan    bool          `yaml:"initial_scan"`
	Ignore         []string      `yaml:"ignore"`
	ContainerExt   string        `yaml:"container_ext"`
	EmbeddedExt    string        `yaml:"embedded_ext"`
	OutputExt      string        `yaml:"output_ext"`
	Extractor      string        `yaml:"extractor"`
	ExtractCommand []string      `yaml:"extract_command"`
	ConvertCommand []string      `yaml:"convert_command"`
	// ToolTimeout bounds every external tool invocation, 0 disables it.
	ToolTimeout  time.Duration `yaml:"tool_timeout"`
	SettleWindow time.Duration `yaml:"settle_window"`
	// MetricsAddr enables the /metrics endpoint when not empty.
	MetricsAddr string `yaml:"metrics_addr"`
	Trace       bool   `yaml:"trace"`
	Verbose     bool   `yaml:"verbose"`
}

func Defaults() *Options {
	livp := actions.DefaultLivpConfig()
	return &Options{
		Debounce:       debounce.DefaultQuietWindow,
		Workers:        runtime.NumCPU(),
		InitialScan:    true,
		Ignore:         []string{"*~"},
		ContainerExt:   livp.ContainerExt,
		EmbeddedExt:    livp.EmbeddedExt,
		OutputExt:      livp.OutputExt,
		Extractor:      ExtractorZip,
		ExtractCommand: []string{"unzip", "-o", "-q", tools.PlaceholderSrc, "-d", tools.PlaceholderDst},
		ConvertCommand: []string{"magick", tools.PlaceholderSrc, tools.PlaceholderDst},
		ToolTimeout:    DefaultToolTimeout,
		SettleWindow:   dispatch.DefaultSettleWindow,
	}
}

// LivpConfig returns the conversion settings of the container action.
func (o *Options) LivpConfig() actions.LivpConfig {
	cfg := actions.DefaultLivpConfig()
	cfg.ContainerExt = o.ContainerExt
	cfg.EmbeddedExt = o.EmbeddedExt
	cfg.OutputExt = o.OutputExt
	return cfg
}

// Matcher builds the ignore rules for the watch dir: the configured patterns plus the extraction dirs of
// the container action, whatever the case of the container extension.
func (o *Options) Matcher() (*filesystem.Matcher, error) {
	m, err := filesystem.NewMatcher(o.WatchDir, o.Ignore, filesystem.WithIgnoredSuffixes(o.LivpConfig().TempDirSuffix()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return m, nil
}

// Load parses args (without the program name) and returns the validated options. A single positional
// argument is taken as the watch dir.
func Load(name string, args []string, output io.Writer) (*Options, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		configPath     string
		flagOpts       = Defaults()
		ignore         string
		extractCommand string
		convertCommand string
	)
	fs.StringVar(&configPath, "config", "", "Path to a YAML config file.")
	fs.StringVar(&flagOpts.WatchDir, "watch-dir", "", "Directory to watch recursively (required).")
	fs.DurationVar(&flagOpts.Debounce, "debounce", flagOpts.Debounce, "Quiet window a file must stay unchanged before it's processed.")
	fs.IntVar(&flagOpts.Workers, "workers", flagOpts.Workers, "How many files are processed concurrently.")
	fs.BoolVar(&flagOpts.InitialScan, "initial-scan", flagOpts.InitialScan, "Process files already present at startup.")
	fs.StringVar(&ignore, "ignore", strings.Join(flagOpts.Ignore, ","), "Comma separated glob patterns of paths to ignore.")
	fs.StringVar(&flagOpts.ContainerExt, "container-ext", flagOpts.ContainerExt, "Extension of Live Photo containers.")
	fs.StringVar(&flagOpts.EmbeddedExt, "embedded-ext", flagOpts.EmbeddedExt, "Extension of the images embedded in a container.")
	fs.StringVar(&flagOpts.OutputExt, "output-ext", flagOpts.OutputExt, "Extension of the converted images.")
	fs.StringVar(&flagOpts.Extractor, "extractor", flagOpts.Extractor, "How containers are unpacked: zip or command.")
	fs.StringVar(&extractCommand, "extract-command", strings.Join(flagOpts.ExtractCommand, " "), "Extraction command, {src} and {dst} are replaced.")
	fs.StringVar(&convertCommand, "convert-command", strings.Join(flagOpts.ConvertCommand, " "), "Conversion command, {src} and {dst} are replaced.")
	fs.DurationVar(&flagOpts.ToolTimeout, "tool-timeout", flagOpts.ToolTimeout, "Timeout of a single external tool run, 0 disables it.")
	fs.DurationVar(&flagOpts.SettleWindow, "settle-window", flagOpts.SettleWindow, "How long renamed files are not processed again.")
	fs.StringVar(&flagOpts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. localhost:9090.")
	fs.BoolVar(&flagOpts.Trace, "trace", false, "Print trace spans to stdout.")
	fs.BoolVar(&flagOpts.Verbose, "v", false, "Verbose output")

	err := fs.Parse(args)
	if err != nil {
		return nil, err
	}

	opts := Defaults()
	if configPath != "" {
		opts, err = ReadFile(configPath)
		if err != nil {
			return nil, err
		}
	}

	var watchDirSet bool
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "watch-dir":
			opts.WatchDir = flagOpts.WatchDir
			watchDirSet = true
		case "debounce":
			opts.Debounce = flagOpts.Debounce
		case "workers":
			opts.Workers = flagOpts.Workers
		case "initial-scan":
			opts.InitialScan = flagOpts.InitialScan
		case "ignore":
			opts.Ignore = splitList(ignore)
		case "container-ext":
			opts.ContainerExt = flagOpts.ContainerExt
		case "embedded-ext":
			opts.EmbeddedExt = flagOpts.EmbeddedExt
		case "output-ext":
			opts.OutputExt = flagOpts.OutputExt
		case "extractor":
			opts.Extractor = flagOpts.Extractor
		case "extract-command":
			opts.ExtractCommand = strings.Fields(extractCommand)
		case "convert-command":
			opts.ConvertCommand = strings.Fields(convertCommand)
		case "tool-timeout":
			opts.ToolTimeout = flagOpts.ToolTimeout
		case "settle-window":
			opts.SettleWindow = flagOpts.SettleWindow
		case "metrics-addr":
			opts.MetricsAddr = flagOpts.MetricsAddr
		case "trace":
			opts.Trace = flagOpts.Trace
		case "v":
			opts.Verbose = flagOpts.Verbose
		}
	})

	switch fs.NArg() {
	case 0:
	case 1:
		if watchDirSet && opts.WatchDir != fs.Arg(0) {
			return nil, fmt.Errorf("%w: watch dir given both as -watch-dir and argument", ErrInvalidConfig)
		}
		opts.WatchDir = fs.Arg(0)
	default:
		return nil, fmt.Errorf("%w: unexpected arguments %q", ErrInvalidConfig, fs.Args()[1:])
	}

	err = opts.Validate()
	if err != nil {
		return nil, err
	}

	return opts, nil
}

// ReadFile loads options from a YAML file on top of the defaults. Unknown keys are rejected.
func ReadFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	opts := Defaults()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err = decoder.Decode(opts)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalidConfig, path, err)
	}

	return opts, nil
}

// Validate reports every problem found at once.
func (o *Options) Validate() error {
	var errs []error
	if o.WatchDir == "" {
		errs = append(errs, errors.New("watch dir is required"))
	}
	if o.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("debounce must be positive, got %s", o.Debounce))
	}
	if o.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", o.Workers))
	}
	for key, ext := range map[string]string{
		"container_ext": o.ContainerExt,
		"embedded_ext":  o.EmbeddedExt,
		"output_ext":    o.OutputExt,
	} {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			errs = append(errs, fmt.Errorf("%s must look like .ext, got %q", key, ext))
		}
	}
	switch o.Extractor {
	case ExtractorZip:
	case ExtractorCommand:
		if len(o.ExtractCommand) == 0 {
			errs = append(errs, errors.New("extract_command is required with the command extractor"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown extractor %q", o.Extractor))
	}
	if len(o.ConvertCommand) == 0 {
		errs = append(errs, errors.New("convert_command is required"))
	}
	if o.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("tool_timeout can't be negative, got %s", o.ToolTimeout))
	}
	if o.SettleWindow < 0 {
		errs = append(errs, fmt.Errorf("settle_window can't be negative, got %s", o.SettleWindow))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
