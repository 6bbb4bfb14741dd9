// Package schedemit renders a finalized schedcore.Schedule as generated C
// source: prototypes, per-tick interrupt handlers, the round-robin driver,
// and the init routine.
package schedemit

import (
	"bufio"
	"io"
	"strconv"

	"sched/internal/diag"
	"sched/pkg/schedcore"
)

// Attribute strings controlling section placement and interrupt linkage.
// These are FreeWPC/m6809-toolchain specific, matching the original
// generator's ATTR_FASTVAR / ATTR_INTERRUPT macros.
const (
	fastVarAttr  = `__attribute__((section ("direct")))`
	interruptAttr = "__interrupt__"

	// inlineOveruseCycles is the cycle threshold above which a
	// multiply-called inline task should probably be de-inlined.
	inlineOveruseCycles = 200.0
	inlineOveruseSlots  = 2

	// shouldInlineCycles is the cycle threshold below which a non-inline
	// task should probably be inlined instead.
	shouldInlineCycles = 40.0
)

// Emit renders schedule to out as a single compilable source file.
func Emit(out io.Writer, schedule *schedcore.Schedule, rec *diag.Recorder) error {
	bw := bufio.NewWriter(out)
	cw := newCodeWriter(bw)

	prefix := schedule.Config.Prefix

	emitPreamble(cw, schedule, rec)
	emitPrototypes(cw, schedule, prefix)

	for i := range schedule.NTicks {
		emitHandler(cw, schedule, i, rec)
	}

	emitDriver(cw, prefix)
	emitInit(cw, prefix)

	if cw.err != nil {
		return cw.err
	}

	return bw.Flush()
}

func emitPreamble(cw *codeWriter, schedule *schedcore.Schedule, rec *diag.Recorder) {
	cw.printf("/* Automatically generated by sched */\n")
	cw.printf("%s void (*%s_function) (void);\n\n", fastVarAttr, schedule.Config.Prefix)
	cw.printf("%s unsigned char %s_divider;\n", fastVarAttr, schedule.Config.Prefix)

	for _, include := range schedule.Includes {
		cw.printf("#include \"%s\"\n", include)
	}

	cw.printf("\n")

	emitAdvisories(schedule, rec)
	cw.printf("\n")
}

func emitAdvisories(schedule *schedcore.Schedule, rec *diag.Recorder) {
	cyclesPerTick := schedule.Config.CyclesPerTick

	for _, task := range schedule.Tasks {
		if task.Inline && task.NSlots > inlineOveruseSlots && task.Length*cyclesPerTick > inlineOveruseCycles {
			rec.Warn("inline-overused", "%s should not be inline", task.Name)
		}

		cycles := task.Length * cyclesPerTick
		if !task.Inline && cycles < shouldInlineCycles {
			rec.Warn("should-inline", "%s should be inline, only takes %d cycles", task.Name, int(cycles))
		}
	}
}

func emitPrototypes(cw *codeWriter, schedule *schedcore.Schedule, prefix string) {
	for i := range schedule.NTicks {
		cw.printf("static %s void %s_%d (void);\n", interruptAttr, prefix, i)
	}

	cw.printf("\n")
}

func emitHandler(cw *codeWriter, schedule *schedcore.Schedule, tickIndex int, rec *diag.Recorder) {
	prefix := schedule.Config.Prefix
	tick := schedule.Ticks[tickIndex]

	cw.printf("static %s void %s_%d (void)\n", interruptAttr, prefix, tickIndex)
	cw.blockBegin()

	for divider := 1; divider <= schedule.MaxDivider; divider *= 2 {
		emitDividerGroup(cw, schedule, tick, tickIndex, divider)
	}

	if tickIndex == schedule.NTicks-1 && schedule.MaxDivider > 1 {
		cw.printf("%s_divider++;\n", prefix)
	}

	if schedule.NTicks > 1 {
		cw.printf("%s_function = %s_%d;\n", prefix, prefix, (tickIndex+1)%schedule.NTicks)
	}

	cw.printf("")
	writeTimeComment(cw, tick.Length, schedule.Config.CyclesPerTick)
	cw.printf("\n")

	if tick.Length >= 1.0 {
		rec.Warn("tick-overutilized", "tick %d takes too long (%.3f ticks of work)", tickIndex, tick.Length)
	}

	cw.blockEnd()
	cw.printf("\n")
}

// emitDividerGroup emits every slot in tick carrying exactly divider,
// wrapped in a divider-guard "if" block when divider > 1. Each divider
// value gets its own flat, independently-closed block (spec §4.5 item 3):
// unlike the original generator, blocks are not left open across divider
// values, since d2's d%2==0 guard subsuming a d4 block was an accidental
// nesting quirk, not a requirement.
func emitDividerGroup(cw *codeWriter, schedule *schedcore.Schedule, tick schedcore.Tick, tickIndex, divider int) {
	prefix := schedule.Config.Prefix

	opened := false

	for _, slot := range tick.Slots {
		if slot.Divider != divider {
			continue
		}

		if divider > 1 && !opened {
			cw.printf("\n")
			cw.printf("if ((%s_divider & %d) == 0)\n", prefix, divider-1)
			cw.blockBegin()

			opened = true
		}

		emitCallSite(cw, slot, tickIndex, schedule.Config.CyclesPerTick)
	}

	if opened {
		cw.blockEnd()
	}
}

func emitCallSite(cw *codeWriter, slot schedcore.Slot, tickIndex int, cyclesPerTick float64) {
	task := slot.Task
	callName := task.Name

	if task.AlreadyUnrolledCount > 0 {
		n1 := tickIndex % (task.AlreadyUnrolledCount * task.Period)
		variant := n1 / task.Period
		callName = callName + "_" + strconv.Itoa(variant)
	}

	if !task.Inline {
		cw.printf("extern void %s (void);\n", callName)
	}

	cw.printf("%s (); ", callName)
	writeTimeComment(cw, task.Length, cyclesPerTick)
	cw.printf("\n")
}

func writeTimeComment(cw *codeWriter, length, cyclesPerTick float64) {
	cw.printf("/* %g interrupts / %g cycles */", length, length*cyclesPerTick)
}

func emitDriver(cw *codeWriter, prefix string) {
	cw.printf(" void %s_driver (void)\n", prefix)
	cw.blockBegin()
	cw.printf("#ifdef __m6809__\n")
	cw.printf("asm (\"jmp\\t[_%s_function]\");\n", prefix)
	cw.printf("#else\n")
	cw.printf("(*%s_function) ();\n", prefix)
	cw.printf("#endif\n")
	cw.blockEnd()
	cw.printf("\n")
}

func emitInit(cw *codeWriter, prefix string) {
	cw.printf("void %s_init (void)\n", prefix)
	cw.blockBegin()
	cw.printf("%s_function = %s_0;\n", prefix, prefix)
	cw.printf("%s_divider = 0;\n", prefix)
	cw.blockEnd()
}
