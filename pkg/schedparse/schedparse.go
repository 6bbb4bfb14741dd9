// Package schedparse reads a declarative schedule input file, one task per
// line, and inserts each task into a schedcore.Schedule.
package schedparse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/multierr"

	"sched/internal/diag"
	"sched/pkg/schedcore"
	"sched/pkg/timeparse"
)

// ErrWrongFieldCount reports a non-comment, non-blank line that does not
// carry exactly the three whitespace-delimited fields the grammar requires.
var ErrWrongFieldCount = errors.New("schedparse: expected exactly 3 fields: name period length")

// ErrInvalidUnrollSuffix reports a trailing "/<n>" with more than one
// digit: the grammar only supports a single ASCII digit here, and the
// generator must reject rather than guess at the intended count.
var ErrInvalidUnrollSuffix = errors.New("schedparse: already-unrolled suffix must be exactly one digit")

// ParseFile opens path and parses it into schedule, recording advisories
// through rec. All fatal line errors in the file are collected and
// returned together via go.uber.org/multierr, rather than stopping at the
// first malformed line.
func ParseFile(path string, schedule *schedcore.Schedule, rec *diag.Recorder) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("schedparse: open %s: %w", path, err)
	}
	defer f.Close()

	return ParseReader(path, f, schedule, rec)
}

// ParseReader parses r (named sourceName for diagnostics) into schedule.
func ParseReader(sourceName string, r io.Reader, schedule *schedcore.Schedule, rec *diag.Recorder) error {
	scanner := bufio.NewScanner(r)

	var errs error

	lineno := 0

	for scanner.Scan() {
		lineno++

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		if len(fields) != 3 {
			errs = multierr.Append(errs, fmt.Errorf("%s:%d: %w (got %d)", sourceName, lineno, ErrWrongFieldCount, len(fields)))

			continue
		}

		if err := parseLine(sourceName, lineno, fields[0], fields[1], fields[2], schedule, rec); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if err := scanner.Err(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", sourceName, err))
	}

	return errs
}

func parseLine(sourceName string, lineno int, nameTok, periodTok, lengthTok string, schedule *schedcore.Schedule, rec *diag.Recorder) error {
	decoded, skip, err := decodeName(nameTok, schedule, rec)
	if err != nil {
		return fmt.Errorf("%s:%d: %w", sourceName, lineno, err)
	}

	if skip {
		return nil
	}

	period, err := timeparse.Period(periodTok, schedule.Config.CyclesPerTick)
	if err != nil {
		return fmt.Errorf("%s:%d: %q: %w", sourceName, lineno, nameTok, err)
	}

	length, err := timeparse.Ticks(lengthTok, schedule.Config.CyclesPerTick)
	if err != nil {
		return fmt.Errorf("%s:%d: %q: %w", sourceName, lineno, nameTok, err)
	}

	if _, err := schedule.AddTask(decoded.name, decoded.inline, period, length, decoded.unrolled); err != nil {
		return fmt.Errorf("%s:%d: %w", sourceName, lineno, err)
	}

	return nil
}

type decodedName struct {
	name     string
	inline   bool
	unrolled int
}

// decodeName strips the grammar's optional "?cond" and "/<digit>"
// annotations, in that order (spec §4.2), then the leading "!" inline
// marker. It returns skip=true (with no error) when the name carries an
// undefined conditional: the line is dropped with a warning, not an error.
func decodeName(tok string, schedule *schedcore.Schedule, rec *diag.Recorder) (decodedName, bool, error) {
	name := tok

	if idx := strings.IndexByte(name, '?'); idx >= 0 {
		cond := name[idx+1:]
		name = name[:idx]

		if !schedule.IsDefined(cond) {
			rec.Warn("undefined-conditional", "skipping entry for %q: conditional %q is not defined", tok, cond)

			return decodedName{}, true, nil //nolint:exhaustruct // zero value discarded by caller on skip
		}
	}

	unrolled := 0

	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		suffix := name[idx+1:]
		if suffix != "" && isAllDigits(suffix) {
			if len(suffix) != 1 {
				return decodedName{}, false, fmt.Errorf("%w: %q", ErrInvalidUnrollSuffix, tok) //nolint:exhaustruct
			}

			unrolled = int(suffix[0] - '0')
			name = name[:idx]
		}
	}

	inline := false
	if strings.HasPrefix(name, "!") {
		inline = true
		name = name[1:]
	}

	return decodedName{name: name, inline: inline, unrolled: unrolled}, false, nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
