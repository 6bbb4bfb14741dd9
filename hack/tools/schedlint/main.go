// Command schedlint validates one or more schedule description files without
// emitting any generated source: it reports malformed lines and placement
// errors, shows the number of warnings raised while parsing, and exits
// nonzero if any schedule would fail to build. Warning texts are not printed,
// and the emitter's advisories (tick over-utilization, inline heuristics)
// are not checked.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"sched/internal/diag"
	"sched/pkg/schedcore"
	"sched/pkg/schedparse"
)

var errNoInputFiles = errors.New("no schedule input files given")

type lintConfig struct {
	maxTicks        int
	maxSlotsPerTick int
	cyclesPerTick   float64
	defines         stringSliceFlag
	inputFiles      []string
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		logFatal(err)
	}

	if err := runLint(context.Background(), cfg, os.Stdout); err != nil {
		logFatal(err)
	}
}

func parseConfig(args []string) (lintConfig, error) {
	var cfg lintConfig

	flags := flag.NewFlagSet("schedlint", flag.ContinueOnError)
	flags.SetOutput(io.Discard)

	flags.IntVar(&cfg.maxTicks, "M", schedcore.DefaultMaxTicks, "Maximum number of unrolled ticks")
	flags.IntVar(&cfg.maxSlotsPerTick, "max-slots-per-tick", schedcore.DefaultMaxSlotsPerTick, "Maximum calls packed into a single tick")
	flags.Float64Var(&cfg.cyclesPerTick, "cycles-per-tick", schedcore.DefaultCyclesPerTick, "Cycles per tick, for \"Nc\" time tokens")
	flags.Var(&cfg.defines, "D", "Define a conditional name (repeatable)")

	if err := flags.Parse(args); err != nil {
		return lintConfig{}, fmt.Errorf("parse flags: %w", err) //nolint:exhaustruct
	}

	cfg.inputFiles = flags.Args()
	if len(cfg.inputFiles) == 0 {
		return lintConfig{}, fmt.Errorf("%w", errNoInputFiles) //nolint:exhaustruct
	}

	return cfg, nil
}

// runLint parses every input file into its own Schedule (schedule files are
// independent units; lint checks each in isolation) and prints a summary
// table. It returns an error if any file failed to parse or build.
func runLint(_ context.Context, cfg lintConfig, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "FILE\tTASKS\tTICKS\tWARNINGS\tSTATUS")

	var failed bool

	for _, path := range cfg.inputFiles {
		schedule, warnings, lintErr := lintFile(path, cfg)

		status := "ok"
		if lintErr != nil {
			status = "FAIL"
			failed = true
		}

		tasks, ticks := 0, 0
		if schedule != nil {
			tasks, ticks = len(schedule.Tasks), schedule.NTicks
		}

		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", path, tasks, ticks, warnings, status)

		if lintErr != nil {
			fmt.Fprintf(tw, "\t\t\t\t%v\n", lintErr)
		}
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush summary: %w", err)
	}

	if failed {
		return errLintFailed
	}

	return nil
}

var errLintFailed = errors.New("one or more schedule files failed to build")

func lintFile(path string, cfg lintConfig) (*schedcore.Schedule, int, error) {
	coreCfg := schedcore.DefaultConfig()
	coreCfg.MaxTicks = cfg.maxTicks
	coreCfg.MaxSlotsPerTick = cfg.maxSlotsPerTick
	coreCfg.CyclesPerTick = cfg.cyclesPerTick

	schedule, err := schedcore.New(coreCfg)
	if err != nil {
		return nil, 0, err
	}

	for _, name := range cfg.defines {
		if err := schedule.Define(name); err != nil {
			return nil, 0, err
		}
	}

	rec := diag.NewRecorder(zap.NewNop())

	if err := schedparse.ParseFile(path, schedule, rec); err != nil {
		return schedule, rec.WarningCount(), err
	}

	return schedule, rec.WarningCount(), nil
}

func logFatal(err error) {
	log.Printf("error: %v", err)
	os.Exit(1)
}

// stringSliceFlag implements flag.Value for a repeatable -D flag.
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
