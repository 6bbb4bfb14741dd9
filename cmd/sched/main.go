// Package main wires the sched CLI entrypoint: it parses a declarative
// periodic-schedule description and emits the C interrupt dispatcher that
// implements it.
package main

//nolint:depguard // main wires project-internal modules and zap logging
import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"sched/internal/buildinfo"
	"sched/internal/diag"
	"sched/pkg/schedcore"
	"sched/pkg/schedemit"
	"sched/pkg/schedparse"
)

const (
	defaultLogLevel = "info"

	exitCodeSuccess    = 0
	exitCodeRuntimeErr = 1
	exitCodeParseErr   = 2
)

func main() {
	code := run(context.Background(), os.Args[1:], defaultRunDeps(), os.Stdout, os.Stderr)
	if code != 0 {
		os.Exit(code)
	}
}

// runDeps isolates the side-effecting seams (logging and output-file
// handling) so tests can substitute the logger and the output destination.
// Config and schedule input files are still read from disk by run itself.
type runDeps struct {
	newLogger  func(level string) (*zap.Logger, error)
	openOutput func(path string) (io.Writer, func() error, error)
}

func defaultRunDeps() runDeps {
	return runDeps{
		newLogger:  newLogger,
		openOutput: openOutput,
	}
}

func run(_ context.Context, args []string, deps runDeps, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)

		return exitCodeParseErr
	}

	logger, err := deps.newLogger(opts.logLevel)
	if err != nil {
		fmt.Fprintf(stderr, "failed to configure logger: %v\n", err)

		return exitCodeRuntimeErr
	}

	defer func() {
		_ = logger.Sync()
	}()

	info := buildinfo.Current()
	logger.Info("starting sched",
		zap.String("version", info.Version),
		zap.String("commit", info.GitCommit),
		zap.String("buildDate", info.BuildDate),
		zap.Int("inputFiles", len(opts.inputFiles)),
	)

	cfg, cfgDefines, cfgIncludes, err := loadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)

		return exitCodeRuntimeErr
	}

	applyFlagOverrides(&cfg, opts)

	schedule, err := schedcore.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)

		return exitCodeRuntimeErr
	}

	for _, name := range append(cfgDefines, opts.defines...) {
		if err := schedule.Define(name); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)

			return exitCodeRuntimeErr
		}
	}

	for _, name := range append(cfgIncludes, opts.includes...) {
		if err := schedule.AddInclude(name); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)

			return exitCodeRuntimeErr
		}
	}

	rec := diag.NewRecorder(logger)

	for _, path := range opts.inputFiles {
		if err := schedparse.ParseFile(path, schedule, rec); err != nil {
			fmt.Fprintf(stderr, "%v\n", rec.Fatal("parse-failed", err))

			return exitCodeRuntimeErr
		}
	}

	out, closeOut, err := deps.openOutput(opts.outPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open output: %v\n", err)

		return exitCodeRuntimeErr
	}

	defer func() {
		_ = closeOut()
	}()

	if out == nil {
		out = stdout
	}

	if err := schedemit.Emit(out, schedule, rec); err != nil {
		fmt.Fprintf(stderr, "failed to emit schedule: %v\n", rec.Fatal("emit-failed", err))

		return exitCodeRuntimeErr
	}

	logger.Info("schedule generated",
		zap.Int("tasks", len(schedule.Tasks)),
		zap.Int("ticks", schedule.NTicks),
		zap.Int("warnings", rec.WarningCount()),
	)

	return exitCodeSuccess
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}

	cfg := zap.NewProductionConfig()

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidLogLevel, err)
	}

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.CallerKey = "caller"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}

	return logger, nil
}

// openOutput opens path for writing under an exclusive file lock, guarding
// against two concurrent builds racing on the same generated source file. An
// empty path means "write to stdout," which needs no lock. The returned
// closer flushes nothing itself; callers write through the returned
// io.Writer until they call it.
func openOutput(path string) (io.Writer, func() error, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, func() error { return nil }, nil
	}

	lock := flock.New(trimmed + ".lock")

	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("lock output file %q: %w", trimmed, err)
	}

	if !locked {
		return nil, nil, fmt.Errorf("%w: %q", errOutputLocked, trimmed)
	}

	f, err := os.Create(trimmed) //nolint:gosec // path is an operator-supplied CLI flag, not untrusted input
	if err != nil {
		_ = lock.Unlock()

		return nil, nil, fmt.Errorf("create output file %q: %w", trimmed, err)
	}

	return f, func() error {
		closeErr := f.Close()
		unlockErr := lock.Unlock()

		if closeErr != nil {
			return closeErr
		}

		return unlockErr
	}, nil
}

type options struct {
	configPath string
	logLevel   string
	outPath    string
	inputFiles []string
	includes   []string
	defines    []string

	maxTicks        int
	maxSlotsPerTick int
	maxTasks        int
	cyclesPerTick   float64
	prefix          string

	explicitFlags map[string]bool
}

func parseArgs(args []string) (options, error) {
	var (
		opts     options
		includes stringSliceFlag
		defines  stringSliceFlag
	)

	flagSet := flag.NewFlagSet("sched", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	flagSet.StringVar(&opts.outPath, "o", "", "Output file (default stdout)")
	flagSet.Var(&includes, "i", "Include file to emit via #include (repeatable)")
	flagSet.IntVar(&opts.maxTicks, "M", schedcore.DefaultMaxTicks, "Maximum number of unrolled ticks")
	flagSet.StringVar(&opts.prefix, "p", schedcore.DefaultPrefix, "Prefix for emitted symbol names")
	flagSet.Var(&defines, "D", "Define a conditional name (repeatable)")
	flagSet.Float64Var(&opts.cyclesPerTick, "cycles-per-tick", schedcore.DefaultCyclesPerTick, "Cycles per tick, for \"Nc\" time tokens")
	flagSet.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	flagSet.StringVar(&opts.logLevel, "log-level", defaultLogLevel, "Structured log level (debug, info, warn, error)")
	flagSet.IntVar(&opts.maxSlotsPerTick, "max-slots-per-tick", schedcore.DefaultMaxSlotsPerTick, "Maximum calls packed into a single tick")
	flagSet.IntVar(&opts.maxTasks, "max-tasks", schedcore.DefaultMaxTasks, "Maximum number of distinct tasks")

	if err := flagSet.Parse(args); err != nil {
		return options{}, fmt.Errorf("parse CLI arguments: %w", err) //nolint:exhaustruct
	}

	opts.includes = []string(includes)
	opts.defines = []string(defines)
	opts.inputFiles = flagSet.Args()

	if len(opts.inputFiles) == 0 {
		return options{}, fmt.Errorf("%w: at least one schedule input file is required", errNoInputFiles) //nolint:exhaustruct
	}

	opts.logLevel = strings.TrimSpace(opts.logLevel)
	if opts.logLevel == "" {
		opts.logLevel = defaultLogLevel
	}

	opts.explicitFlags = visitedFlags(flagSet)

	return opts, nil
}

// applyFlagOverrides layers explicitly-passed CLI flags on top of the
// config-file/env-derived cfg, matching the precedence chain: built-in
// default -> YAML -> env vars -> CLI flags.
func applyFlagOverrides(cfg *schedcore.Config, opts options) {
	if opts.explicitFlags["M"] {
		cfg.MaxTicks = opts.maxTicks
	}

	if opts.explicitFlags["p"] {
		cfg.Prefix = opts.prefix
	}

	if opts.explicitFlags["cycles-per-tick"] {
		cfg.CyclesPerTick = opts.cyclesPerTick
	}

	if opts.explicitFlags["max-slots-per-tick"] {
		cfg.MaxSlotsPerTick = opts.maxSlotsPerTick
	}

	if opts.explicitFlags["max-tasks"] {
		cfg.MaxTasks = opts.maxTasks
	}
}

func visitedFlags(flagSet *flag.FlagSet) map[string]bool {
	seen := make(map[string]bool)

	flagSet.Visit(func(f *flag.Flag) {
		seen[f.Name] = true
	})

	return seen
}

var (
	errInvalidLogLevel = errors.New("invalid log level")
	errNoInputFiles    = errors.New("no schedule input files given")
	errOutputLocked    = errors.New("output file is locked by another process")
)

// stringSliceFlag implements flag.Value for repeatable string flags such as
// -i and -D.
type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	if s == nil {
		return ""
	}

	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)

	return nil
}
