// Package telemetry tracks where compilation time goes: coarse timers
// around the driver's stages and a latency histogram over per-function
// backend times. The driver renders the report as JSON for
// --metrics-out; nothing in here does I/O of its own.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/codahale/hdrhistogram"
)

// Histogram bounds: 1µs to 10s at three significant figures covers any
// function short of a pathological one.
const (
	histMin     = 1
	histMax     = int64(10 * time.Second / time.Microsecond)
	histSigFigs = 3
)

// Recorder accumulates timings for one compilation. One unit, one
// Recorder; it is not safe for concurrent use.
type Recorder struct {
	started time.Time
	phases  []PhaseStat
	hist    *hdrhistogram.Histogram

	funcs   int
	words   int
	slowest string
	worst   time.Duration
}

// NewRecorder starts the wall clock for one compilation.
func NewRecorder() *Recorder {
	return &Recorder{
		started: time.Now(),
		hist:    hdrhistogram.New(histMin, histMax, histSigFigs),
	}
}

// Phase times one named stage:
//
//	stop := rec.Phase("codegen")
//	... work ...
//	stop()
func (r *Recorder) Phase(name string) func() {
	start := time.Now()
	return func() { r.AddPhase(name, time.Since(start)) }
}

// AddPhase records an externally measured stage, e.g. a pass timing
// reported by the optimizer pipeline.
func (r *Recorder) AddPhase(name string, d time.Duration) {
	r.phases = append(r.phases, PhaseStat{Name: name, Millis: toMillis(d)})
}

// RecordFunction feeds one function's backend compile time into the
// histogram. Durations past the trackable bound saturate at it.
func (r *Recorder) RecordFunction(name string, words int, d time.Duration) {
	r.funcs++
	r.words += words
	if d > r.worst {
		r.worst = d
		r.slowest = name
	}
	us := d.Microseconds()
	if us < histMin {
		us = histMin
	}
	if err := r.hist.RecordValue(us); err != nil {
		_ = r.hist.RecordValue(r.hist.HighestTrackableValue())
	}
}

// PhaseStat is one named stage and how long it took.
type PhaseStat struct {
	Name   string  `json:"name"`
	Millis float64 `json:"ms"`
}

// FuncSummary aggregates the per-function backend times the way latency
// gauges usually do: mean and tail quantiles, in microseconds.
type FuncSummary struct {
	Count   int    `json:"count"`
	Words   int    `json:"total_words"`
	Slowest string `json:"slowest,omitempty"`
	MeanUS  int64  `json:"us_mean"`
	P50US   int64  `json:"us_p50"`
	P95US   int64  `json:"us_p95"`
	P99US   int64  `json:"us_p99"`
	MaxUS   int64  `json:"us_max"`
}

// Report is the metrics document written next to the bytecode.
type Report struct {
	Tool      string      `json:"tool"`
	Config    string      `json:"config,omitempty"`
	WallMS    float64     `json:"wall_ms"`
	Phases    []PhaseStat `json:"phases,omitempty"`
	Functions FuncSummary `json:"functions"`
}

// Report snapshots the recorder once the compilation is done.
func (r *Recorder) Report(tool, config string) *Report {
	rep := &Report{
		Tool:   tool,
		Config: config,
		WallMS: toMillis(time.Since(r.started)),
		Phases: r.phases,
		Functions: FuncSummary{
			Count:   r.funcs,
			Words:   r.words,
			Slowest: r.slowest,
		},
	}
	if r.hist.TotalCount() > 0 {
		rep.Functions.MeanUS = int64(r.hist.Mean())
		rep.Functions.P50US = r.hist.ValueAtQuantile(50.0)
		rep.Functions.P95US = r.hist.ValueAtQuantile(95.0)
		rep.Functions.P99US = r.hist.ValueAtQuantile(99.0)
		rep.Functions.MaxUS = r.hist.Max()
	}
	return rep
}

// Encode renders the report as indented JSON with a trailing newline.
func (rep *Report) Encode() ([]byte, error) {
	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func toMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1e3
}
