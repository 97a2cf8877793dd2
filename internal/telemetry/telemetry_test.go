package telemetry

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestPhasesKeepInsertionOrder(t *testing.T) {
	rec := NewRecorder()
	rec.AddPhase("parse", 2*time.Millisecond)
	rec.AddPhase("opt", 5*time.Millisecond)
	rec.AddPhase("codegen", 3*time.Millisecond)

	rep := rec.Report("cinderc", "")
	want := []string{"parse", "opt", "codegen"}
	if len(rep.Phases) != len(want) {
		t.Fatalf("got %d phases, want %d", len(rep.Phases), len(want))
	}
	for i, name := range want {
		if rep.Phases[i].Name != name {
			t.Fatalf("phase %d = %q, want %q", i, rep.Phases[i].Name, name)
		}
	}
	if rep.Phases[1].Millis < 4.9 || rep.Phases[1].Millis > 5.1 {
		t.Fatalf("opt phase recorded %vms, want about 5ms", rep.Phases[1].Millis)
	}
	if rep.WallMS < 0 {
		t.Fatalf("negative wall time %v", rep.WallMS)
	}
}

func TestPhaseTimerMeasuresEnclosedWork(t *testing.T) {
	rec := NewRecorder()
	stop := rec.Phase("sleep")
	time.Sleep(10 * time.Millisecond)
	stop()

	rep := rec.Report("cinderc", "")
	if len(rep.Phases) != 1 {
		t.Fatalf("got %d phases, want 1", len(rep.Phases))
	}
	if rep.Phases[0].Millis < 9 {
		t.Fatalf("sleep phase recorded %vms, want at least 9ms", rep.Phases[0].Millis)
	}
}

func TestFunctionQuantilesAreOrdered(t *testing.T) {
	rec := NewRecorder()
	for i := 1; i <= 100; i++ {
		rec.RecordFunction("fn", 10, time.Duration(i)*time.Millisecond)
	}

	fs := rec.Report("cinderc", "").Functions
	if fs.Count != 100 {
		t.Fatalf("count = %d, want 100", fs.Count)
	}
	if fs.Words != 1000 {
		t.Fatalf("total words = %d, want 1000", fs.Words)
	}
	if fs.Slowest != "fn" {
		t.Fatalf("slowest = %q, want fn", fs.Slowest)
	}
	if fs.MeanUS <= 0 {
		t.Fatalf("mean = %d, want positive", fs.MeanUS)
	}
	if !(fs.P50US <= fs.P95US && fs.P95US <= fs.P99US && fs.P99US <= fs.MaxUS) {
		t.Fatalf("quantiles out of order: p50=%d p95=%d p99=%d max=%d",
			fs.P50US, fs.P95US, fs.P99US, fs.MaxUS)
	}
	// 100ms recorded; three significant figures keep the max within 1%.
	if fs.MaxUS < 100_000 || fs.MaxUS > 101_000 {
		t.Fatalf("max = %dus, want about 100000", fs.MaxUS)
	}
}

func TestOverlongFunctionTimeSaturates(t *testing.T) {
	rec := NewRecorder()
	rec.RecordFunction("huge", 1, time.Hour)

	fs := rec.Report("cinderc", "").Functions
	if fs.Count != 1 {
		t.Fatalf("count = %d, want 1", fs.Count)
	}
	if fs.MaxUS < 9_900_000 {
		t.Fatalf("max = %dus, want saturation near the 10s bound", fs.MaxUS)
	}
}

func TestSlowestTracksWorstFunction(t *testing.T) {
	rec := NewRecorder()
	rec.RecordFunction("quick", 4, time.Millisecond)
	rec.RecordFunction("slow", 9, 20*time.Millisecond)
	rec.RecordFunction("mid", 7, 5*time.Millisecond)

	fs := rec.Report("cinderc", "").Functions
	if fs.Slowest != "slow" {
		t.Fatalf("slowest = %q, want slow", fs.Slowest)
	}
}

func TestEncodeShape(t *testing.T) {
	rec := NewRecorder()
	rec.AddPhase("parse", time.Millisecond)
	rec.RecordFunction("main", 12, 2*time.Millisecond)

	out, err := rec.Report("cinderc", "target-vm=1.3.0 opt-level=2").Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasSuffix(string(out), "\n") {
		t.Fatal("encoded report lacks trailing newline")
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	for _, key := range []string{"tool", "config", "wall_ms", "phases", "functions"} {
		if _, ok := doc[key]; !ok {
			t.Fatalf("report is missing %q:\n%s", key, out)
		}
	}
	if doc["tool"] != "cinderc" {
		t.Fatalf("tool = %v, want cinderc", doc["tool"])
	}
}
