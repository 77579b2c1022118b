// Command stu is the build engine's CLI entrypoint: it reads a rule file,
// resolves the requested targets against it, and drives the scheduler
// until they're up to date (spec.md §1-§2). Flag parsing, logging
// bootstrap and version reporting follow the teacher's please.go shape
// (SPEC_FULL.md §0/§A/§B), scaled down to this engine's much smaller
// option surface.
package main

import (
	"fmt"
	"os"
	"runtime"

	flags "github.com/thought-machine/go-flags"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/stubuild/stu/internal/logging"
	"github.com/stubuild/stu/internal/stuerr"
	"github.com/stubuild/stu/internal/version"
	"github.com/stubuild/stu/src/build"
	"github.com/stubuild/stu/src/core"
	"github.com/stubuild/stu/src/rulefile"
	"github.com/stubuild/stu/src/watch"
)

var log = logging.Log

// opts mirrors SPEC_FULL.md §B's command-line surface: job slots,
// keep-going, random order, verbosity and the initial target list. The
// `.stu` rule-file tokenizer itself is out of scope (spec.md §1); -f only
// selects which pre-existing file this CLI's minimal reference frontend
// (package rulefile) reads.
var opts struct {
	JobSlots          int    `short:"j" long:"jobs" default:"0" description:"Number of concurrent jobs (0 = number of CPUs)"`
	KeepGoing         bool   `short:"k" long:"keep-going" description:"Continue building unrelated targets after a failure"`
	IgnoreSystemTime  bool   `short:"z" long:"ignore-system-time" description:"Accepted for source compatibility; has no effect (mtime-only staleness, no content-hash cache)"`
	Random            bool   `short:"Z" long:"random" description:"Deploy children in random order instead of declaration order"`
	Watch             bool   `short:"w" long:"watch" description:"Rebuild automatically when a source dependency changes"`
	Verbosity         int    `short:"v" long:"verbosity" default:"2" description:"Log verbosity, 0 (critical) to 5 (debug)"`
	File              string `short:"f" long:"file" default:"main.stu" description:"Rule file to read"`
	Version           bool   `long:"version" description:"Print version and exit"`

	Args struct {
		Targets []string `positional-arg-name:"target"`
	} `positional-args:"yes"`
}

var verbosityLevels = []logging.Level{
	logging.CRITICAL, logging.ERROR, logging.WARNING,
	logging.NOTICE, logging.INFO, logging.DEBUG,
}

func main() {
	os.Exit(run())
}

func run() int {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flags.WroteHelp(err) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return stuerr.ExitSystem
	}

	if opts.Version {
		fmt.Println(version.String())
		return 0
	}

	level := verbosityLevels[len(verbosityLevels)-1]
	if opts.Verbosity >= 0 && opts.Verbosity < len(verbosityLevels) {
		level = verbosityLevels[opts.Verbosity]
	}
	logging.Init(level)

	if os.Getenv("STU_STATUS") != "" {
		log.Critical("STU_STATUS is set: refusing recursive invocation")
		return stuerr.ExitSystem
	}

	if _, err := maxprocs.Set(maxprocs.Logger(log.Infof)); err != nil {
		log.Warning("failed to set GOMAXPROCS: %s", err)
	}

	jobSlots := opts.JobSlots
	if jobSlots <= 0 {
		jobSlots = runtime.NumCPU()
	}

	data, err := os.ReadFile(opts.File)
	if err != nil {
		log.Error("%s", err)
		return stuerr.ExitSystem
	}
	ruleSet, err := rulefile.Load(opts.File, data)
	if err != nil {
		log.Error("%s", err)
		return stuerr.ExitLogical
	}

	deps, err := initialDeps(opts.Args.Targets)
	if err != nil {
		log.Error("%s", err)
		return stuerr.ExitSystem
	}

	if opts.IgnoreSystemTime {
		log.Notice("-z/--ignore-system-time has no effect: staleness is always mtime-only")
	}

	buildOnce := func(deps []core.Dep) (*build.Scheduler, error) {
		sched := build.NewScheduler(build.Options{
			Rules:     ruleSet,
			Parser:    rulefile.Parser{},
			JobSlots:  jobSlots,
			KeepGoing: opts.KeepGoing,
			Random:    opts.Random,
		})
		return sched, sched.Build(deps)
	}

	if opts.Watch {
		if err := watch.Watch(deps, buildOnce); err != nil {
			log.Error("%s", err)
			return stuerr.ExitSystem
		}
		return 0
	}

	sched, buildErr := buildOnce(deps)
	log.Notice("%s", sched.Stats().Summary())
	if buildErr == nil {
		return 0
	}
	log.Error("%s", buildErr)
	if code := sched.ExitCode(); code != 0 {
		return code
	}
	return stuerr.ExitSystem
}

// initialDeps turns the CLI's bare target-name arguments into plain
// dependencies, the "initial dependency list" spec.md §1/§2 says the
// driver hands to the scheduler. A leading '@' requests a transient
// target, matching rulefile's target-list syntax.
func initialDeps(targets []string) ([]core.Dep, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no targets given")
	}
	deps := make([]core.Dep, 0, len(targets))
	for _, name := range targets {
		if len(name) > 0 && name[0] == '@' {
			deps = append(deps, core.NewPlainDep(0, [3]core.Place{}, core.NewTransientTarget(name[1:])))
			continue
		}
		deps = append(deps, core.NewPlainDep(0, [3]core.Place{}, core.NewFileTarget(name)))
	}
	return deps, nil
}
