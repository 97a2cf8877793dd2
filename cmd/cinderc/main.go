// Command cinderc is the Cinder middle-end driver. It reads one or more
// textual IR units produced by the front end, verifies them, runs the
// optimization pipeline, and writes CVM images with their ABI and
// metrics documents. Units compile in parallel through the build
// executor; --watch keeps the process alive and rebuilds units whose
// source changed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cinder-lang/cinder/internal/abi"
	"github.com/cinder-lang/cinder/internal/build"
	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/cli"
	"github.com/cinder-lang/cinder/internal/codegen"
	"github.com/cinder-lang/cinder/internal/diag"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/opt"
	"github.com/cinder-lang/cinder/internal/source"
	"github.com/cinder-lang/cinder/internal/telemetry"
	"github.com/cinder-lang/cinder/internal/watch"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		outDir      = flag.String("out-dir", ".", "directory the image and JSON documents are written to")
		printIR     = flag.Bool("print-ir", false, "print the optimized IR to stdout instead of writing files")
		printAsm    = flag.Bool("print-finalized-asm", false, "print the finalized assembly listing to stdout instead of writing files")
		abiOut      = flag.String("abi-out", "", "write the ABI descriptor to this file (single input only)")
		metricsOut  = flag.String("metrics-out", "", "write the compilation metrics JSON to this file (single input only)")
		output      = flag.String("o", "", "write the image to this file (single input only)")
		targetVM    = flag.String("target-vm", "", "CVM release to target (default "+buildcfg.DefaultTargetVM+")")
		optLevel    = flag.Int("opt-level", int(buildcfg.OptFull), "optimization level: 0 none, 1 basic, 2 full")
		noVerify    = flag.Bool("no-verify-each", false, "skip re-verification of the module between passes")
		jobs        = flag.Int("jobs", 0, "units compiled in parallel (0 = number of CPUs)")
		watchMode   = flag.Bool("watch", false, "stay running and rebuild units whose source changes")
		verbose     = flag.Bool("verbose", false, "log configuration, per-pass and per-unit timings")
		colorMode   = flag.String("color", "auto", "diagnostic colors: auto, always, never")
	)
	var features []buildcfg.Feature
	flag.Func("feature", "enable a feature gate, repeatable (default: everything the target supports)", func(name string) error {
		f, err := buildcfg.ParseFeature(name)
		if err != nil {
			return err
		}
		features = append(features, f)
		return nil
	})
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(cli.Banner("cinderc"))
		return
	}

	inputs := flag.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "cinderc: no input files")
		flag.Usage()
		os.Exit(2)
	}
	if len(inputs) > 1 && (*output != "" || *abiOut != "" || *metricsOut != "") {
		log.Fatalf("cinderc: -o, --abi-out and --metrics-out need a single input file")
	}

	cfg, err := makeConfig(*targetVM, *optLevel, features, !*noVerify)
	if err != nil {
		log.Fatalf("cinderc: %v", err)
	}
	if *verbose {
		log.Printf("cinderc: %s", cfg)
	}

	renderer := cli.NewRenderer(os.Stderr)
	switch *colorMode {
	case "always":
		renderer.ForceColor(true)
	case "never":
		renderer.ForceColor(false)
	case "auto":
	default:
		log.Fatalf("cinderc: --color must be auto, always, or never (got %q)", *colorMode)
	}

	d := &driver{
		cfg:      cfg,
		renderer: renderer,
		outDir:   *outDir,
		output:   *output,
		printIR:  *printIR,
		printAsm: *printAsm,
		abiOut:   *abiOut,
		metrics:  *metricsOut,
		verbose:  *verbose,
	}

	cache := build.NewCache(4 * len(inputs))
	exec := build.NewExecutor(*jobs, cache)
	plan, err := d.plan(inputs)
	if err != nil {
		log.Fatalf("cinderc: %v", err)
	}

	ok := d.run(context.Background(), exec, plan)
	if !*watchMode {
		if !ok {
			os.Exit(1)
		}
		return
	}
	d.watch(context.Background(), exec, plan, inputs)
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: cinderc [options] <unit.cir> ...\n\noptions:\n")
	flag.PrintDefaults()
}

func makeConfig(targetVM string, level int, features []buildcfg.Feature, verifyEach bool) (*buildcfg.Config, error) {
	if level < int(buildcfg.OptNone) || level > int(buildcfg.OptFull) {
		return nil, fmt.Errorf("--opt-level must be 0, 1, or 2 (got %d)", level)
	}
	if len(features) == 0 {
		fs, err := buildcfg.FeaturesFor(targetVM)
		if err != nil {
			return nil, err
		}
		features = fs
	}
	cfg, err := buildcfg.New(targetVM, buildcfg.OptLevel(level), features...)
	if err != nil {
		return nil, err
	}
	cfg.VerifyEach = verifyEach
	return cfg, nil
}

// driver holds everything one cinderc invocation shares across units.
type driver struct {
	cfg      *buildcfg.Config
	renderer *cli.Renderer
	outDir   string
	output   string
	printIR  bool
	printAsm bool
	abiOut   string
	metrics  string
	verbose  bool
}

// plan builds one independent unit per input file. Units share nothing,
// so the dependency graph is flat; the executor still bounds parallelism
// and consults the artifact cache, which is what watch mode rebuilds
// lean on.
func (d *driver) plan(inputs []string) (*build.Plan, error) {
	p := build.NewPlan()
	for _, path := range inputs {
		path := path
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		u := build.Unit{
			ID:   build.UnitID(path),
			Path: path,
			Key:  build.Fingerprint(d.cfg, src),
			Action: func(ctx context.Context) (*build.Output, error) {
				return d.compile(path, src)
			},
		}
		if err := p.Add(u); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// compile takes one unit from textual IR to its output documents.
func (d *driver) compile(path string, src []byte) (*build.Output, error) {
	rec := telemetry.NewRecorder()

	stop := rec.Phase("parse")
	m, err := ir.Parse(string(src))
	stop()
	if err != nil {
		if pe, ok := err.(*ir.ParseError); ok {
			return nil, diag.Diagnostic{
				Severity: diag.SeverityError,
				Code:     "C0001",
				Span:     source.Span{Path: path},
				Message:  fmt.Sprintf("line %d: %s", pe.Line, pe.Msg),
			}
		}
		return nil, err
	}

	stop = rec.Phase("verify")
	err = ir.Verify(m)
	stop()
	if err != nil {
		return nil, err
	}

	stop = rec.Phase("optimize")
	pipe := opt.New(d.cfg)
	err = pipe.Run(m)
	stop()
	if err != nil {
		return nil, err
	}
	for _, st := range pipe.Stats() {
		rec.AddPhase("pass/"+st.Name, st.Elapsed)
	}

	stop = rec.Phase("codegen")
	art, err := codegen.Generate(m, d.cfg)
	stop()
	if err != nil {
		return nil, err
	}
	for _, fs := range art.Funcs {
		rec.RecordFunction(fs.Name, fs.Words, fs.Elapsed)
	}

	files := map[string][]byte{
		"image": append(append([]byte{}, art.Bytecode...), art.Data...),
	}
	if d.printIR {
		files["ir"] = []byte(ir.Print(m))
	}
	if d.printAsm {
		files["asm"] = []byte(art.Listing())
	}
	desc, err := abi.Describe(m).Encode()
	if err != nil {
		return nil, err
	}
	files["abi"] = desc
	report, err := rec.Report("cinderc", d.cfg.String()).Encode()
	if err != nil {
		return nil, err
	}
	files["metrics"] = report
	return &build.Output{Files: files}, nil
}

// run executes the plan once and writes the outputs. It reports whether
// every unit succeeded; failures are rendered, not fatal, so one broken
// unit does not hide diagnostics from the others.
func (d *driver) run(ctx context.Context, exec *build.Executor, plan *build.Plan) bool {
	results, stats, err := exec.Execute(ctx, plan)
	if err != nil {
		log.Fatalf("cinderc: %v", err)
	}
	ok := true
	for _, r := range results {
		if r.Err != nil {
			ok = false
			d.report(string(r.ID), r.Err)
			continue
		}
		if d.verbose {
			if r.Cached {
				log.Printf("cinderc: %s: cached", r.ID)
			} else {
				log.Printf("cinderc: %s: compiled in %s", r.ID, r.Took.Round(time.Millisecond))
			}
		}
		if err := d.write(string(r.ID), r.Out); err != nil {
			ok = false
			fmt.Fprintf(os.Stderr, "cinderc: %s: %v\n", r.ID, err)
		}
	}
	if stats.Failed > 0 {
		fmt.Fprintf(os.Stderr, "cinderc: %d of %d units failed\n", stats.Failed, stats.Units)
	}
	return ok
}

// report renders one unit failure. Lowering diagnostics and parse errors
// go through the diagnostic renderer; verifier errors are internal
// compiler errors and print raw, dump included.
func (d *driver) report(unit string, err error) {
	var (
		dg   diag.Diagnostic
		list *diag.List
	)
	switch {
	case errors.As(err, &dg):
		d.renderer.Render(dg)
	case errors.As(err, &list):
		d.renderer.RenderAll(list.Diagnostics)
	default:
		fmt.Fprintf(os.Stderr, "cinderc: %s: %v\n", unit, err)
	}
}

// write lands one unit's outputs. Print modes go to stdout and suppress
// the files; otherwise the image and ABI always land in --out-dir and
// metrics only when asked for.
func (d *driver) write(unit string, out *build.Output) error {
	if d.printIR || d.printAsm {
		if text, ok := out.Files["ir"]; ok {
			os.Stdout.Write(text)
		}
		if text, ok := out.Files["asm"]; ok {
			os.Stdout.Write(text)
		}
		return nil
	}
	base := strings.TrimSuffix(filepath.Base(unit), filepath.Ext(unit))
	if err := os.MkdirAll(d.outDir, 0o755); err != nil {
		return err
	}
	imagePath := d.output
	if imagePath == "" {
		imagePath = filepath.Join(d.outDir, base+".cvm")
	}
	if err := os.WriteFile(imagePath, out.Files["image"], 0o644); err != nil {
		return err
	}
	abiPath := d.abiOut
	if abiPath == "" {
		abiPath = filepath.Join(d.outDir, base+".abi.json")
	}
	if err := os.WriteFile(abiPath, out.Files["abi"], 0o644); err != nil {
		return err
	}
	if d.metrics != "" {
		if err := os.WriteFile(d.metrics, out.Files["metrics"], 0o644); err != nil {
			return err
		}
	}
	return nil
}

// watch rebuilds units whose source changed until interrupted. Each
// batch re-reads the changed files so the cache keys track content.
func (d *driver) watch(ctx context.Context, exec *build.Executor, plan *build.Plan, inputs []string) {
	w, err := watch.New(0, inputs...)
	if err != nil {
		log.Fatalf("cinderc: watch: %v", err)
	}
	defer w.Close()
	fmt.Fprintf(os.Stderr, "cinderc: watching %d units\n", plan.Len())

	for {
		select {
		case batch, ok := <-w.Changes():
			if !ok {
				return
			}
			var ids []build.UnitID
			for _, path := range batch {
				ids = append(ids, plan.ByPath(path)...)
			}
			if len(ids) == 0 {
				continue
			}
			fresh, err := d.replan(plan, plan.Dependents(ids...))
			if err != nil {
				fmt.Fprintf(os.Stderr, "cinderc: %v\n", err)
				continue
			}
			d.run(ctx, exec, fresh)
		case err := <-w.Errors():
			fmt.Fprintf(os.Stderr, "cinderc: watch: %v\n", err)
		case <-ctx.Done():
			return
		}
	}
}

// replan rebuilds the plan entries for the given units from their
// current on-disk source, keeping everything else untouched.
func (d *driver) replan(plan *build.Plan, ids []build.UnitID) (*build.Plan, error) {
	fresh := build.NewPlan()
	for _, id := range ids {
		u, ok := plan.Get(id)
		if !ok {
			continue
		}
		path := u.Path
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		err = fresh.Add(build.Unit{
			ID:   u.ID,
			Path: path,
			Key:  build.Fingerprint(d.cfg, src),
			Action: func(ctx context.Context) (*build.Output, error) {
				return d.compile(path, src)
			},
		})
		if err != nil {
			return nil, err
		}
	}
	return fresh, nil
}
