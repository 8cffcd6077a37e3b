package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-api/internal/csvio"
	"github.com/noah-isme/timetable-api/internal/models"
	"github.com/noah-isme/timetable-api/internal/scheduler"
	"github.com/noah-isme/timetable-api/internal/service"
	"github.com/noah-isme/timetable-api/pkg/config"
	"github.com/noah-isme/timetable-api/pkg/logger"
)

const exitNoSolution = 2

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitErr.ExitCode())
		}
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "timetable-cli",
		Usage:  "build weekly course timetables from CSV inputs",
		Writer: out,
		// main maps exit codes itself.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			solveCommand(),
			compareCommand(),
			tokenCommand(),
		},
	}
}

// inputFlags are shared by every command that loads a CSV scheduling input.
func inputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "rooms", Usage: "room inventory CSV", Required: true},
		&cli.StringFlag{Name: "staff", Usage: "staff unavailability CSV", Required: true},
		&cli.StringFlag{Name: "assignments", Usage: "staff to course assignments CSV", Required: true},
		&cli.StringSliceFlag{Name: "courses", Usage: "course section CSV, repeat or comma-separate for several", Required: true},
		&cli.StringFlag{Name: "fixed", Usage: "pinned sessions CSV"},
		&cli.StringFlag{Name: "policy", Usage: "compact or flexible (default from config)"},
		&cli.DurationFlag{Name: "budget", Usage: "solver time budget (default from config)"},
	}
}

func solveCommand() *cli.Command {
	return &cli.Command{
		Name:  "solve",
		Usage: "solve a timetable and write it as CSV",
		Flags: append(inputFlags(),
			&cli.StringFlag{Name: "engine", Usage: "sat or search (default from config)"},
			&cli.StringFlag{Name: "out", Usage: "output schedule CSV", Value: "schedule.csv"},
			&cli.StringFlag{Name: "unplaced-out", Usage: "also write unplaced tasks to this CSV"},
		),
		Action: runSolve,
	}
}

func runSolve(c *cli.Context) error {
	cfg, logr, err := setup()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	opts, engineName, err := solveOptions(c, cfg.Scheduler)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	input, err := loadInput(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	solver, err := scheduler.NewSolver(engineName, logr)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	engine, err := scheduler.NewEngine(solver, opts, logr)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	result, err := engine.Run(c.Context, input)
	switch {
	case errors.Is(err, scheduler.ErrInfeasible), errors.Is(err, scheduler.ErrNoSolution):
		return cli.Exit(err.Error(), exitNoSolution)
	case err != nil:
		return cli.Exit(err.Error(), 1)
	}

	if err := csvio.WriteScheduleFile(c.String("out"), result.Entries); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if path := c.String("unplaced-out"); path != "" {
		if err := writeUnplacedFile(path, result.Unplaced); err != nil {
			return cli.Exit(err.Error(), 1)
		}
	}

	logr.Info("timetable written",
		zap.String("out", c.String("out")),
		zap.String("status", result.Status.String()),
		zap.Int("placed", len(result.Entries)),
		zap.Int("unplaced", len(result.Unplaced)),
		zap.Int64("objective", result.Stats.Objective),
	)
	return reportResult(c.App.Writer, result)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Log.Format == "json" && cfg.Env != config.EnvProduction {
		cfg.Log.Format = "console"
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logr, nil
}

func loadInput(c *cli.Context) (scheduler.Input, error) {
	return csvio.Load(csvio.Paths{
		Rooms:       c.String("rooms"),
		Staff:       c.String("staff"),
		Assignments: c.String("assignments"),
		Courses:     splitPaths(c.StringSlice("courses")),
		Fixed:       c.String("fixed"),
	})
}

func solveOptions(c *cli.Context, cfg config.SchedulerConfig) (scheduler.Options, string, error) {
	if policy := c.String("policy"); policy != "" {
		cfg.Policy = policy
	}
	if c.IsSet("budget") {
		cfg.TimeBudget = c.Duration("budget")
	}
	engine := cfg.Engine
	if name := c.String("engine"); name != "" {
		engine = strings.ToLower(name)
	}
	if engine == "" {
		engine = scheduler.EngineSAT
	}
	opts, err := scheduler.OptionsFromConfig(cfg)
	return opts, engine, err
}

// splitPaths accepts both repeated flags and a comma-separated list.
func splitPaths(values []string) []string {
	var paths []string
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				paths = append(paths, p)
			}
		}
	}
	return paths
}

func reportResult(out io.Writer, result *scheduler.Result) error {
	fmt.Fprintf(out, "status: %s (%s)\n", result.Status, result.Outcome())
	fmt.Fprintf(out, "placed: %d, unplaced: %d, objective: %d/%d\n",
		len(result.Entries), len(result.Unplaced), result.Stats.Objective, result.Stats.UpperBound)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	if len(result.Unplaced) == 0 {
		return nil
	}
	fmt.Fprintln(out, "unplaced tasks:")
	return csvio.WriteUnplaced(out, result.Unplaced)
}

func writeUnplacedFile(path string, unplaced []models.UnplacedTask) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := csvio.WriteUnplaced(f, unplaced); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue an API access token signed with JWT_SECRET",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "subject user id", Required: true},
			&cli.StringFlag{Name: "role", Usage: "ADMIN, SCHEDULER or VIEWER", Value: string(models.RoleScheduler)},
			&cli.StringFlag{Name: "email"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime", Value: time.Hour},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			auth := service.NewAuthService(nil, service.AuthConfig{
				AccessTokenSecret: cfg.JWT.Secret,
				AccessTokenExpiry: c.Duration("ttl"),
			})
			token, expiresAt, err := auth.IssueToken(c.String("user"), models.UserRole(strings.ToUpper(c.String("role"))), c.String("email"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Fprintln(c.App.Writer, token)
			fmt.Fprintf(c.App.ErrWriter, "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
