// cmd/sdyn/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"sdyn/internal/datamodel"
	"sdyn/internal/errors"
	"sdyn/internal/ledger"
	"sdyn/internal/patch"
	"sdyn/internal/project"
	"sdyn/internal/streamserver"
)

const version = "0.1.0"

var commandAliases = map[string]string{
	"b": "build",
	"r": "run",
	"p": "patch",
	"s": "serve",
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cmd := args[0]
	if alias, ok := commandAliases[cmd]; ok {
		cmd = alias
	}
	rest := args[1:]

	switch cmd {
	case "--help", "-h", "help":
		showUsage()
	case "--version", "-v", "version":
		fmt.Println("sdyn", version)
	case "build":
		runBuild(rest)
	case "run":
		runRun(rest)
	case "patch":
		runPatch(rest)
	case "serve":
		runServe(rest)
	default:
		fmt.Fprintf(os.Stderr, "sdyn: unknown command %q\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println("sdyn - system dynamics model compiler and simulator")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sdyn build <project.json> [-model main]                  Stage and compile, report errors  (alias: b)")
	fmt.Println("  sdyn run   <project.json> [-model main] [-to t] [-ltm]   Run a simulation to completion    (alias: r)")
	fmt.Println("  sdyn patch <project.json> <patch.json> [-dry-run]        Apply a patch                     (alias: p)")
	fmt.Println("  sdyn serve <project.json> [-addr :7777] [-model main]    Stream a run over WebSocket        (alias: s)")
	fmt.Println()
	fmt.Println("The build and run subcommands accept -ledger <path> to record the run (default: sdyn.ledger.db).")
}

// openProject loads and validates a project from path, exiting the
// process with a printed error list on failure.
func openProject(path string) *datamodel.Project {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("sdyn: reading %s: %v", path, err)
	}
	proj, errs := project.Open("json", data)
	if proj == nil {
		printErrors(errs)
		os.Exit(1)
	}
	if verrs := project.Validate(proj); len(verrs) > 0 {
		printErrors(verrs)
		os.Exit(1)
	}
	return proj
}

func printErrors(errs errors.List) {
	for _, e := range errs {
		fmt.Fprintln(os.Stderr, e.Error())
	}
}

func openLedger(path string) *ledger.Ledger {
	if path == "" {
		path = "sdyn.ledger.db"
	}
	l, err := ledger.Open(path)
	if err != nil {
		log.Printf("sdyn: warning: could not open ledger at %s: %v", path, err)
		return nil
	}
	return l
}

func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	model := fs.String("model", "main", "model to compile")
	ledgerPath := fs.String("ledger", "", "path to the run ledger")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("sdyn build: missing project file")
	}
	projPath := fs.Arg(0)
	data, err := os.ReadFile(projPath)
	if err != nil {
		log.Fatalf("sdyn: reading %s: %v", projPath, err)
	}

	proj := openProject(projPath)
	sim, errs := project.NewSim(proj, *model, false)
	if sim == nil {
		printErrors(errs)
		os.Exit(1)
	}
	if len(errs) > 0 {
		fmt.Printf("build of %q succeeded with %d warning(s):\n", *model, len(errs))
		printErrors(errs)
	} else {
		fmt.Printf("build of %q succeeded: %s variables\n", *model, humanize.Comma(int64(len(sim.SeriesNames()))))
	}

	if l := openLedger(*ledgerPath); l != nil {
		defer l.Close()
		now := time.Now()
		if _, err := l.RecordRun(ledger.Run{
			ProjectName: proj.Name,
			SpecHash:    ledger.SpecHash(data),
			ModelName:   *model,
			StartedAt:   now,
			FinishedAt:  now,
			StepCount:   0,
		}); err != nil {
			log.Printf("sdyn: warning: recording build in ledger: %v", err)
		}
	}
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	model := fs.String("model", "main", "model to run")
	to := fs.Float64("to", 0, "run only to this time instead of the configured stop (0 = use stop)")
	ltm := fs.Bool("ltm", false, "augment the project with Loops That Matter tracing variables")
	ledgerPath := fs.String("ledger", "", "path to the run ledger")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("sdyn run: missing project file")
	}
	projPath := fs.Arg(0)
	data, err := os.ReadFile(projPath)
	if err != nil {
		log.Fatalf("sdyn: reading %s: %v", projPath, err)
	}

	proj := openProject(projPath)
	started := time.Now()
	sim, errs := project.NewSim(proj, *model, *ltm)
	if sim == nil {
		printErrors(errs)
		os.Exit(1)
	}
	printErrors(errs)

	if rerrs := sim.RunInitials(); len(rerrs) > 0 {
		printErrors(rerrs)
		os.Exit(1)
	}
	if *to > 0 {
		errs = sim.RunTo(*to)
	} else {
		errs = sim.RunToEnd()
	}
	if len(errs) > 0 {
		printErrors(errs)
		os.Exit(1)
	}
	finished := time.Now()

	steps := sim.GetStepCount()
	names := sim.SeriesNames()
	resultBytes := int64(steps) * int64(len(names)) * 8

	fmt.Printf("ran %q: %s steps, %s variables, %s of results in %s\n",
		*model, humanize.Comma(int64(steps)), humanize.Comma(int64(len(names))),
		humanize.Bytes(uint64(resultBytes)), finished.Sub(started))

	if steps > 0 {
		times := sim.Times()
		last := times[len(times)-1]
		fmt.Printf("final values at t=%v:\n", last)
		for _, name := range names {
			if series, ok := sim.GetSeries(name); ok && len(series) > 0 {
				fmt.Printf("  %-30s %v\n", name, series[len(series)-1])
			}
		}
	}

	if l := openLedger(*ledgerPath); l != nil {
		defer l.Close()
		if _, err := l.RecordRun(ledger.Run{
			ProjectName: proj.Name,
			SpecHash:    ledger.SpecHash(data),
			ModelName:   *model,
			StartedAt:   started,
			FinishedAt:  finished,
			StepCount:   steps,
			ResultBytes: resultBytes,
		}); err != nil {
			log.Printf("sdyn: warning: recording run in ledger: %v", err)
		}
	}
}

func runPatch(args []string) {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "validate the patch without committing it")
	allowErrors := fs.Bool("allow-errors", false, "commit even if the patched project has static errors")
	fs.Parse(args)
	if fs.NArg() < 2 {
		log.Fatal("sdyn patch: usage: sdyn patch <project.json> <patch.json>")
	}
	projPath, patchPath := fs.Arg(0), fs.Arg(1)

	proj := openProject(projPath)

	patchData, err := os.ReadFile(patchPath)
	if err != nil {
		log.Fatalf("sdyn: reading %s: %v", patchPath, err)
	}
	ops, err := decodePatchFile(patchData)
	if err != nil {
		log.Fatalf("sdyn: decoding %s: %v", patchPath, err)
	}

	result := project.ApplyPatch(proj, ops, *dryRun, *allowErrors)
	fmt.Printf("patch %s: committed=%v\n", result.PatchID, result.Committed)
	for _, op := range result.AppliedOps {
		status := "applied"
		if op.Error != nil {
			status = "failed: " + op.Error.Error()
		} else if !op.Applied {
			status = "skipped"
		}
		fmt.Printf("  op[%d]: %s\n", op.Index, status)
	}
	if len(result.Errors) > 0 {
		fmt.Println("static errors after patch:")
		printErrors(result.Errors)
	}
	if !result.Committed && !*dryRun {
		os.Exit(1)
	}

	if !*dryRun && result.Committed {
		out, err := project.Save(proj)
		if err != nil {
			log.Fatalf("sdyn: encoding patched project: %v", err)
		}
		if err := os.WriteFile(projPath, out, 0o644); err != nil {
			log.Fatalf("sdyn: writing %s: %v", projPath, err)
		}
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	model := fs.String("model", "main", "model to run")
	addr := fs.String("addr", ":7777", "address to listen on")
	ltm := fs.Bool("ltm", false, "augment the project with Loops That Matter tracing variables")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("sdyn serve: missing project file")
	}
	projPath := fs.Arg(0)

	proj := openProject(projPath)
	sim, errs := project.NewSim(proj, *model, *ltm)
	if sim == nil {
		printErrors(errs)
		os.Exit(1)
	}
	printErrors(errs)

	srv := streamserver.New(*addr)
	if err := srv.Start(); err != nil {
		log.Fatalf("sdyn: starting stream server: %v", err)
	}
	defer srv.Close()
	log.Printf("sdyn: streaming %q on ws://%s/stream", *model, *addr)

	if rerrs := sim.RunInitials(); len(rerrs) > 0 {
		printErrors(rerrs)
		os.Exit(1)
	}
	broadcastRow(srv, sim, 0)

	// Advance in save-step-sized increments so each newly recorded row
	// reaches connected clients shortly after it lands in the result
	// slab, without the VM's step loop ever suspending to wait on the
	// network (spec §5's no-suspension-points invariant).
	cadence := proj.SimSpecs.SaveStep
	if cadence <= 0 {
		cadence = proj.SimSpecs.DT
	}
	step := 1
	for t := proj.SimSpecs.Start + cadence; t <= proj.SimSpecs.Stop+cadence/2; t += cadence {
		if errs := sim.RunTo(t); len(errs) > 0 {
			printErrors(errs)
			break
		}
		for ; step < sim.GetStepCount(); step++ {
			broadcastRow(srv, sim, step)
		}
	}
	log.Printf("sdyn: run complete, %d rows streamed", step)
}

func broadcastRow(srv *streamserver.Server, sim *project.Sim, idx int) {
	times := sim.Times()
	if idx >= len(times) {
		return
	}
	values := map[string]float64{}
	for _, name := range sim.SeriesNames() {
		if series, ok := sim.GetSeries(name); ok && idx < len(series) {
			values[name] = series[idx]
		}
	}
	srv.Broadcast(streamserver.Row{Time: times[idx], Values: values})
}

func decodePatchFile(data []byte) ([]patch.Op, error) {
	var raw []cliPatchOp
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	ops := make([]patch.Op, 0, len(raw))
	for i, r := range raw {
		op, err := r.toOp()
		if err != nil {
			return nil, fmt.Errorf("patch op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
