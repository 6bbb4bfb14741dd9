package schedparse

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"sched/internal/diag"
	"sched/pkg/schedcore"
)

func newTestSchedule(t *testing.T) *schedcore.Schedule {
	t.Helper()

	s, err := schedcore.New(schedcore.DefaultConfig())
	if err != nil {
		t.Fatalf("schedcore.New: %v", err)
	}

	return s
}

func newObservedRecorder() (*diag.Recorder, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)

	return diag.NewRecorder(zap.New(core)), logs
}

func TestParseReaderBasicLine(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	input := "scan 1 0.1\n"
	if err := ParseReader("test", strings.NewReader(input), s, rec); err != nil {
		t.Fatalf("ParseReader returned error: %v", err)
	}

	if len(s.Tasks) != 1 || s.Tasks[0].Name != "scan" {
		t.Fatalf("expected one task named scan, got %+v", s.Tasks)
	}
}

func TestParseReaderSkipsBlankLinesAndComments(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	input := "\n# a comment\nscan 1 0.1\n   \n# trailing\n"
	if err := ParseReader("test", strings.NewReader(input), s, rec); err != nil {
		t.Fatalf("ParseReader returned error: %v", err)
	}

	if len(s.Tasks) != 1 {
		t.Fatalf("expected exactly one task, got %d", len(s.Tasks))
	}
}

// Scenario E: a conditional suffix referring to an undefined name causes the
// line to be dropped with a warning, not a fatal error.
func TestParseReaderSkipsUndefinedConditional(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, logs := newObservedRecorder()

	input := "diag?DEBUG 4 0.1\n"
	if err := ParseReader("test", strings.NewReader(input), s, rec); err != nil {
		t.Fatalf("ParseReader returned error: %v", err)
	}

	if len(s.Tasks) != 0 {
		t.Fatalf("expected no tasks, got %+v", s.Tasks)
	}

	if rec.WarningCount() != 1 {
		t.Fatalf("expected 1 warning, got %d", rec.WarningCount())
	}

	all := logs.All()
	if len(all) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(all))
	}

	if code := all[0].ContextMap()["code"]; code != "undefined-conditional" {
		t.Fatalf("expected code=undefined-conditional, got %v", code)
	}
}

func TestParseReaderAcceptsDefinedConditional(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	if err := s.Define("DEBUG"); err != nil {
		t.Fatalf("Define: %v", err)
	}

	rec, _ := newObservedRecorder()

	input := "diag?DEBUG 4 0.1\n"
	if err := ParseReader("test", strings.NewReader(input), s, rec); err != nil {
		t.Fatalf("ParseReader returned error: %v", err)
	}

	if len(s.Tasks) != 1 || s.Tasks[0].Name != "diag" {
		t.Fatalf("expected one task named diag, got %+v", s.Tasks)
	}
}

// Scenario F: a non-power-of-two period fails and is reported with line
// context, but parsing continues to later lines.
func TestParseReaderReportsNonPowerOfTwoPeriodAndContinues(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	input := "bad 3 0.1\nscan 1 0.1\n"
	err := ParseReader("test", strings.NewReader(input), s, rec)
	if err == nil {
		t.Fatal("expected an error for the non-power-of-two period")
	}

	if !errors.Is(err, schedcore.ErrPeriodNotPowerOfTwo) {
		t.Fatalf("expected ErrPeriodNotPowerOfTwo, got %v", err)
	}

	if !strings.Contains(err.Error(), "test:1") {
		t.Fatalf("expected line context in error, got %v", err)
	}

	if len(s.Tasks) != 1 || s.Tasks[0].Name != "scan" {
		t.Fatalf("expected the later valid line to still be inserted, got %+v", s.Tasks)
	}
}

// Multiple malformed lines accumulate into one combined error instead of
// stopping at the first.
func TestParseReaderAccumulatesMultipleErrors(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	input := "bad1 3 0.1\nonlytwo fields\nbad2 5 0.1\n"
	err := ParseReader("test", strings.NewReader(input), s, rec)
	if err == nil {
		t.Fatal("expected a combined error")
	}

	msg := err.Error()
	for _, want := range []string{"test:1", "test:2", "test:3"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected combined error to mention %s, got %q", want, msg)
		}
	}
}

func TestParseReaderRejectsWrongFieldCount(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	err := ParseReader("test", strings.NewReader("scan 1\n"), s, rec)
	if !errors.Is(err, ErrWrongFieldCount) {
		t.Fatalf("expected ErrWrongFieldCount, got %v", err)
	}
}

func TestDecodeNameStripsAnnotationsInOrder(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	if err := s.Define("DEBUG"); err != nil {
		t.Fatalf("Define: %v", err)
	}

	rec, _ := newObservedRecorder()

	decoded, skip, err := decodeName("!diag/2?DEBUG", s, rec)
	if err != nil {
		t.Fatalf("decodeName returned error: %v", err)
	}

	if skip {
		t.Fatal("did not expect skip")
	}

	if decoded.name != "diag" || !decoded.inline || decoded.unrolled != 2 {
		t.Fatalf("unexpected decode result: %+v", decoded)
	}
}

func TestDecodeNameRejectsMultiDigitUnrollSuffix(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	_, _, err := decodeName("task/12", s, rec)
	if !errors.Is(err, ErrInvalidUnrollSuffix) {
		t.Fatalf("expected ErrInvalidUnrollSuffix, got %v", err)
	}
}

func TestDecodeNamePlainInlineTask(t *testing.T) {
	t.Parallel()

	s := newTestSchedule(t)
	rec, _ := newObservedRecorder()

	decoded, skip, err := decodeName("!fastpath", s, rec)
	if err != nil {
		t.Fatalf("decodeName returned error: %v", err)
	}

	if skip {
		t.Fatal("did not expect skip")
	}

	if decoded.name != "fastpath" || !decoded.inline || decoded.unrolled != 0 {
		t.Fatalf("unexpected decode result: %+v", decoded)
	}
}
