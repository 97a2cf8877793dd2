// Command cinder-ir is an interactive shell over the Cinder middle end:
// load a textual IR unit, poke at its functions, run optimization passes
// one at a time, and inspect the finalized assembly. It drives exactly
// the APIs cinderc uses, which makes it the quickest way to watch what a
// pass does to a module.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/cinder-lang/cinder/internal/abi"
	"github.com/cinder-lang/cinder/internal/buildcfg"
	"github.com/cinder-lang/cinder/internal/cli"
	"github.com/cinder-lang/cinder/internal/codegen"
	"github.com/cinder-lang/cinder/internal/ir"
	"github.com/cinder-lang/cinder/internal/opt"
)

const historyFile = ".cinder_ir_history"

var commands = []string{
	"load", "list", "print", "pass", "pipeline", "verify",
	"asm", "abi", "config", "help", "quit",
}

func main() {
	showVersion := flag.Bool("version", false, "show version information")
	targetVM := flag.String("target-vm", "", "CVM release to target (default "+buildcfg.DefaultTargetVM+")")
	flag.Parse()

	if *showVersion {
		fmt.Println(cli.Banner("cinder-ir"))
		return
	}

	features, err := buildcfg.FeaturesFor(*targetVM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cinder-ir: %v\n", err)
		os.Exit(2)
	}
	cfg, err := buildcfg.New(*targetVM, buildcfg.OptFull, features...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cinder-ir: %v\n", err)
		os.Exit(2)
	}

	s := &shell{cfg: cfg}
	if path := flag.Arg(0); path != "" {
		if err := s.load(path); err != nil {
			fmt.Fprintf(os.Stderr, "cinder-ir: %v\n", err)
			os.Exit(1)
		}
	}

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c+" ")
			}
		}
		return out
	})
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	fmt.Printf("%s  (type 'help' for commands)\n", cli.Banner("cinder-ir"))
	for {
		line, err := ln.Prompt(s.prompt())
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "cinder-ir: %v\n", err)
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		if quit := s.dispatch(line); quit {
			break
		}
	}

	if f, err := os.Create(histPath); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
}

// shell is the REPL state: one loaded module at a time plus the build
// configuration passes and codegen run under.
type shell struct {
	cfg *buildcfg.Config
	m   *ir.Module
}

func (s *shell) prompt() string {
	if s.m == nil {
		return "cir> "
	}
	return s.m.Name + "> "
}

// dispatch runs one command line and reports whether the shell should
// exit.
func (s *shell) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		s.help()
	case "load":
		if len(args) != 1 {
			fmt.Println("usage: load <unit.cir>")
			return false
		}
		if err := s.load(args[0]); err != nil {
			fmt.Println(err)
		}
	case "list":
		s.withModule(func() { s.list() })
	case "print":
		s.withModule(func() { s.print(args) })
	case "pass":
		s.withModule(func() { s.pass(args) })
	case "pipeline":
		s.withModule(func() { s.pipeline() })
	case "verify":
		s.withModule(func() {
			if err := ir.Verify(s.m); err != nil {
				fmt.Println(err)
				return
			}
			fmt.Println("ok")
		})
	case "asm":
		s.withModule(func() { s.asm() })
	case "abi":
		s.withModule(func() { s.abi() })
	case "config":
		fmt.Println(s.cfg)
	default:
		fmt.Printf("unknown command %q (try 'help')\n", cmd)
	}
	return false
}

func (s *shell) help() {
	fmt.Print(`commands:
  load <unit.cir>     parse and verify a textual IR unit
  list                list functions with block/instruction counts
  print [fn]          print the module, or one function
  pass <name> ...     run passes in order (` + strings.Join(opt.Names(), ", ") + `)
  pipeline            run the full pipeline for the current opt level
  verify              re-run the structural verifier
  asm                 generate and print the finalized assembly listing
  abi                 print the ABI descriptor JSON
  config              show the build configuration
  quit                exit
`)
}

func (s *shell) withModule(fn func()) {
	if s.m == nil {
		fmt.Println("no module loaded (use 'load <unit.cir>')")
		return
	}
	fn()
}

func (s *shell) load(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m, err := ir.Parse(string(src))
	if err != nil {
		return err
	}
	if err := ir.Verify(m); err != nil {
		return err
	}
	s.m = m
	fmt.Printf("loaded %s: %s %s, %d functions, %d configurables\n",
		path, m.Kind, m.Name, len(m.Funcs), len(m.Configs))
	return nil
}

func (s *shell) list() {
	for _, f := range s.m.Funcs {
		instrs := 0
		for _, blk := range f.Blocks {
			instrs += len(blk.Instrs)
		}
		marker := " "
		if f.IsEntry {
			marker = "*"
		}
		fmt.Printf("%s %-32s %2d blocks %4d instrs\n", marker, f.Name, len(f.Blocks), instrs)
	}
}

func (s *shell) print(args []string) {
	text := ir.Print(s.m)
	if len(args) == 0 {
		fmt.Print(text)
		return
	}
	name := args[0]
	if s.m.Function(name) == nil {
		fmt.Printf("no function %q\n", name)
		return
	}
	fmt.Print(functionText(text, name))
}

// functionText cuts one function's block out of the module dump: from
// its "fn name(" header line through the matching close brace at the
// same indent.
func functionText(dump, name string) string {
	lines := strings.Split(dump, "\n")
	var b strings.Builder
	in := false
	for _, line := range lines {
		if !in {
			t := strings.TrimPrefix(strings.TrimSpace(line), "entry ")
			if strings.HasPrefix(t, "fn "+name+"(") {
				in = true
			}
		}
		if in {
			b.WriteString(line)
			b.WriteByte('\n')
			if strings.TrimSpace(line) == "}" {
				break
			}
		}
	}
	return b.String()
}

func (s *shell) pass(names []string) {
	if len(names) == 0 {
		fmt.Println("usage: pass <name> ...  (" + strings.Join(opt.Names(), ", ") + ")")
		return
	}
	for _, name := range names {
		p, ok := opt.ByName(s.cfg, name)
		if !ok {
			fmt.Printf("unknown pass %q\n", name)
			return
		}
		changed, err := p.Run(s.m)
		if err != nil {
			fmt.Printf("%s: %v\n", name, err)
			return
		}
		if err := ir.Verify(s.m); err != nil {
			fmt.Printf("after %s: %v\n", name, err)
			return
		}
		fmt.Printf("%s: changed=%v\n", name, changed)
	}
}

func (s *shell) pipeline() {
	pipe := opt.New(s.cfg)
	if err := pipe.Run(s.m); err != nil {
		fmt.Println(err)
		return
	}
	for _, st := range pipe.Stats() {
		fmt.Printf("%-16s changed=%-5v %s\n", st.Name, st.Changed, st.Elapsed.Round(10*time.Microsecond))
	}
}

func (s *shell) asm() {
	art, err := codegen.Generate(s.m, s.cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Print(art.Listing())
}

func (s *shell) abi() {
	out, err := abi.Describe(s.m).Encode()
	if err != nil {
		fmt.Println(err)
		return
	}
	os.Stdout.Write(out)
}
