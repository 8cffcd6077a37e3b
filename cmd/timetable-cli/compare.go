package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/timetable-api/internal/scheduler"
)

type engineRun struct {
	Engine   string
	Result   *scheduler.Result
	Err      error
	Verified error
	Duration time.Duration
}

type comparison struct {
	Runs     []engineRun
	Breaking []string
	Optional []string
}

func compareCommand() *cli.Command {
	return &cli.Command{
		Name:   "compare",
		Usage:  "solve the same input with every engine and report disagreements",
		Flags:  inputFlags(),
		Action: runCompare,
	}
}

func runCompare(c *cli.Context) error {
	cfg, logr, err := setup()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	opts, _, err := solveOptions(c, cfg.Scheduler)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	input, err := loadInput(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	runs := solveAll(c.Context, input, opts, []string{scheduler.EngineSAT, scheduler.EngineSearch}, logr)
	comp := compareRuns(runs)
	printComparison(c.App.Writer, comp)
	if len(comp.Breaking) > 0 {
		return cli.Exit(fmt.Sprintf("%d breaking differences", len(comp.Breaking)), 1)
	}
	return nil
}

// solveAll runs each engine on its own goroutine; engine errors are kept per run.
func solveAll(ctx context.Context, input scheduler.Input, opts scheduler.Options, engines []string, logr *zap.Logger) []engineRun {
	runs := make([]engineRun, len(engines))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range engines {
		i, name := i, name
		g.Go(func() error {
			run := engineRun{Engine: name}
			start := time.Now()
			solver, err := scheduler.NewSolver(name, logr)
			if err == nil {
				var engine *scheduler.Engine
				engine, err = scheduler.NewEngine(solver, opts, logr.With(zap.String("engine", name)))
				if err == nil {
					run.Result, err = engine.Run(ctx, input)
				}
			}
			run.Err = err
			run.Duration = time.Since(start)
			if run.Result != nil {
				run.Verified = scheduler.Verify(run.Result, input, opts)
			}
			runs[i] = run
			return nil
		})
	}
	_ = g.Wait()
	return runs
}

func compareRuns(runs []engineRun) comparison {
	comp := comparison{Runs: runs}
	for _, run := range runs {
		if run.Verified != nil {
			comp.Breaking = append(comp.Breaking, fmt.Sprintf("%s output failed verification: %v", run.Engine, run.Verified))
		}
	}
	for i := 0; i < len(runs); i++ {
		for j := i + 1; j < len(runs); j++ {
			a, b := runs[i], runs[j]
			if infeasible(a) != infeasible(b) {
				comp.Breaking = append(comp.Breaking, fmt.Sprintf("%s and %s disagree on feasibility", a.Engine, b.Engine))
				continue
			}
			if a.Result == nil || b.Result == nil {
				continue
			}
			objA, objB := a.Result.Stats.Objective, b.Result.Stats.Objective
			if objA == objB {
				continue
			}
			switch {
			case a.Result.ProvenOptimal() && objB > objA,
				b.Result.ProvenOptimal() && objA > objB,
				a.Result.ProvenOptimal() && b.Result.ProvenOptimal():
				comp.Breaking = append(comp.Breaking, fmt.Sprintf("%s objective %d contradicts %s objective %d", a.Engine, objA, b.Engine, objB))
			default:
				comp.Optional = append(comp.Optional, fmt.Sprintf("%s objective %d, %s objective %d", a.Engine, objA, b.Engine, objB))
			}
		}
	}
	return comp
}

func infeasible(run engineRun) bool {
	return errors.Is(run.Err, scheduler.ErrInfeasible)
}

func printComparison(out io.Writer, comp comparison) {
	fmt.Fprintln(out, "Engine Compare Report")
	fmt.Fprintln(out, "=====================")
	for _, run := range comp.Runs {
		if run.Err != nil {
			fmt.Fprintf(out, "[ERROR] %s (%s): %v\n", run.Engine, run.Duration.Round(time.Millisecond), run.Err)
			continue
		}
		fmt.Fprintf(out, "[%s] %s (%s)\n", run.Result.Status, run.Engine, run.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "  placed: %d | unplaced: %d | objective: %d/%d\n",
			len(run.Result.Entries), len(run.Result.Unplaced), run.Result.Stats.Objective, run.Result.Stats.UpperBound)
	}
	for _, diff := range comp.Breaking {
		fmt.Fprintf(out, "BREAKING: %s\n", diff)
	}
	for _, diff := range comp.Optional {
		fmt.Fprintf(out, "diff: %s\n", diff)
	}
	fmt.Fprintf(out, "Breaking diffs: %d, Optional diffs: %d\n", len(comp.Breaking), len(comp.Optional))
}
