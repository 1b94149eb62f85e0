// Package expansion runs the multi-year capacity expansion: one optimized
// network per fiscal year, each seeded with the capacities built in the year
// before.
package expansion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devskill-org/capacity-planner/cluster"
	"github.com/devskill-org/capacity-planner/inputs"
	"github.com/devskill-org/capacity-planner/lifecycle"
	"github.com/devskill-org/capacity-planner/network"
	"github.com/devskill-org/capacity-planner/optimize"
	"github.com/devskill-org/capacity-planner/results"
	"github.com/devskill-org/capacity-planner/settings"
	"github.com/devskill-org/capacity-planner/snapshots"
)

// Names of the settings sub-tables the engine reads.
const (
	MainSettingsTable  = "Main_Settings"
	MonthlyTable       = "Monthly_Constraints"
	BatteryCycleTable  = "Battery_Cycle"
	CommitabilityTable = "commitable"
)

// State is the lifecycle state of a run.
type State string

const (
	StateIdle           State = "Idle"
	StateInitializing   State = "Initializing"
	StateProcessingYear State = "ProcessingYear"
	StateCompleted      State = "Completed"
	StateFailed         State = "Failed"
)

// YearStore persists solved years. *results.PostgresStore implements it.
type YearStore interface {
	SaveYear(ctx context.Context, rec results.YearRecord) error
}

// Request describes one planning run.
type Request struct {
	Inputs    *inputs.Inputs
	Overrides map[string]string // UI overrides, win over the workbook
	OutputDir string            // results land in OutputDir/Scenario/<year>
	Scenario  string

	// SolveTimeout bounds every single optimization. Zero means no limit.
	SolveTimeout time.Duration

	Store YearStore
}

// YearResult is the solved state of one year. Network is read-only once
// returned; the next year copies values out of it.
type YearResult struct {
	Year      int              `json:"year"`
	Network   *network.Network `json:"-"`
	Objective float64          `json:"objective"`
	Dir       string           `json:"dir"`
	Files     []string         `json:"files"`
}

// RunReport is the outcome of a run and, while it is in progress, its
// current status.
type RunReport struct {
	RunID      uuid.UUID    `json:"run_id"`
	Scenario   string       `json:"scenario"`
	State      State        `json:"state"`
	Year       int          `json:"year,omitempty"`
	Years      []YearResult `json:"years"`
	Skipped    []int        `json:"skipped,omitempty"`
	Files      []string     `json:"files"` // relative to the scenario directory
	Message    string       `json:"message"`
	Log        []string     `json:"log,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at,omitempty"`
}

// Engine runs the year loop. One run at a time.
type Engine struct {
	logger  *log.Logger
	runLog  *RunLog
	metrics *Metrics

	runMu sync.Mutex

	mu     sync.RWMutex
	status RunReport
}

// NewEngine creates an engine whose log goes to mirror (and to the run
// log). metrics may be nil.
func NewEngine(mirror io.Writer, metrics *Metrics) *Engine {
	runLog := NewRunLog(mirror)
	return &Engine{
		logger:  log.New(runLog, "[PLANNER] ", log.LstdFlags),
		runLog:  runLog,
		metrics: metrics,
		status:  RunReport{State: StateIdle},
	}
}

// Logger returns the engine logger.
func (e *Engine) Logger() *log.Logger { return e.logger }

// Log returns the run log shared by every run of the engine.
func (e *Engine) Log() *RunLog { return e.runLog }

// Status returns a copy of the current run status.
func (e *Engine) Status() RunReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.status
	s.Years = append([]YearResult(nil), s.Years...)
	s.Files = append([]string(nil), s.Files...)
	s.Skipped = append([]int(nil), s.Skipped...)
	s.Log = nil
	return s
}

func (e *Engine) publish(r *RunReport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = *r
}

// Run executes a planning run. It never returns nil: failures are reported
// in the Failed state together with the years completed before the error.
func (e *Engine) Run(ctx context.Context, req Request) (report *RunReport) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	firstLine := len(e.runLog.Lines())
	report = &RunReport{
		RunID:     uuid.New(),
		Scenario:  req.Scenario,
		State:     StateInitializing,
		StartedAt: time.Now(),
	}
	e.publish(report)
	e.metrics.setRunning(true)
	e.logger.Printf("Run %s started for scenario %q", report.RunID, req.Scenario)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("Panic during run: %v\n%s", r, debug.Stack())
			e.fail(report, fmt.Errorf("panic: %v", r))
		}
		report.FinishedAt = time.Now()
		report.Log = e.runLog.Lines()[firstLine:]
		e.metrics.setRunning(false)
		e.publish(report)
	}()

	if err := e.run(ctx, req, report); err != nil {
		e.fail(report, err)
		return report
	}

	report.State = StateCompleted
	report.Year = 0
	report.Message = fmt.Sprintf("Completed %d years", len(report.Years))
	if len(report.Skipped) > 0 {
		report.Message += fmt.Sprintf(", skipped %v", report.Skipped)
	}
	e.logger.Printf("Run %s completed in %v: %s", report.RunID, time.Since(report.StartedAt).Round(time.Millisecond), report.Message)
	return report
}

func (e *Engine) fail(report *RunReport, err error) {
	report.State = StateFailed
	report.Message = describe(err)
	e.metrics.runFailed()
	e.logger.Printf("Run %s failed after %d completed years: %v", report.RunID, len(report.Years), err)
}

func (e *Engine) run(ctx context.Context, req Request, report *RunReport) error {
	in := req.Inputs
	if in == nil {
		return &InputError{Resource: "inputs", Err: errors.New("no inputs loaded")}
	}
	if err := in.Validate(); err != nil {
		return &InputError{Resource: "inputs", Err: err}
	}
	if req.Scenario == "" {
		return &ConfigError{Field: "Scenario", Message: "scenario name is required"}
	}

	mainTable, ok := in.Table(MainSettingsTable)
	if !ok {
		e.logger.Printf("Warning: no %s table, using default settings", MainSettingsTable)
	}
	s, err := settings.Resolve(mainTable, req.Overrides, e.logger)
	if err != nil {
		return &ConfigError{Field: "Settings", Message: err.Error()}
	}
	e.logger.Printf("Settings: %s", s.Summary())

	years, baseYear, err := e.years(in, s)
	if err != nil {
		return err
	}
	e.logger.Printf("Simulating years %v (base year %d)", years, baseYear)

	scenarioDir := filepath.Join(req.OutputDir, req.Scenario)
	loop := &yearLoop{
		engine:   e,
		req:      req,
		settings: s,
		baseYear: baseYear,
		dir:      scenarioDir,
		manager:  lifecycle.NewManager(in, baseYear, e.logger),
		asm:      &assembler{in: in, settings: s, baseYear: baseYear, engine: e},
		solver:   optimize.NewSolver(optimize.OptionsFrom(s.Solver), e.logger),
		tables:   constraintTables(in),
		runID:    report.RunID,
	}

	var prev *network.Network
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled before year %d: %w", year, err)
		}
		report.State = StateProcessingYear
		report.Year = year
		e.publish(report)

		yr, err := loop.process(ctx, year, prev)
		if err != nil {
			return fmt.Errorf("year %d: %w", year, err)
		}
		if yr == nil {
			report.Skipped = append(report.Skipped, year)
			continue
		}
		report.Years = append(report.Years, *yr)
		for _, f := range yr.Files {
			report.Files = append(report.Files, filepath.Join(strconv.Itoa(year), f))
		}
		prev = yr.Network
	}
	return nil
}

// years returns the simulated years and the base year.
func (e *Engine) years(in *inputs.Inputs, s settings.Settings) ([]int, int, error) {
	all := in.DemandYears()
	baseYear := s.BaseYear
	if baseYear == 0 {
		baseYear = all[0]
	}

	var years []int
	for _, y := range all {
		if y >= baseYear {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return nil, 0, &ConfigError{Field: "Base year", Message: fmt.Sprintf("no demand year at or after %d (have %v)", baseYear, all)}
	}
	if years[0] != baseYear {
		e.logger.Printf("Warning: no demand column for base year %d, starting at %d", baseYear, years[0])
	}

	switch s.MultiYear {
	case settings.SingleYear:
		return years[:1], baseYear, nil
	case settings.AllInOne:
		return nil, 0, fmt.Errorf("multi-year mode %q: %w", s.MultiYear, ErrNotImplemented)
	default:
		return years, baseYear, nil
	}
}

func constraintTables(in *inputs.Inputs) optimize.ConstraintTables {
	var ct optimize.ConstraintTables
	ct.Monthly, _ = in.Table(MonthlyTable)
	ct.BatteryCycle, _ = in.Table(BatteryCycleTable)
	return ct
}

// yearLoop carries what stays fixed across the years of one run.
type yearLoop struct {
	engine   *Engine
	req      Request
	settings settings.Settings
	baseYear int
	dir      string
	manager  *lifecycle.Manager
	asm      *assembler
	solver   *optimize.Solver
	tables   optimize.ConstraintTables
	runID    uuid.UUID
}

// process runs one year. A nil result with a nil error means the year had
// no snapshots and was skipped.
func (l *yearLoop) process(ctx context.Context, year int, prev *network.Network) (*YearResult, error) {
	logger := l.engine.logger
	in := l.req.Inputs
	logger.Printf("Processing year %d", year)

	demand, ok := in.Demand[year]
	if !ok {
		demand = in.Demand[l.baseYear]
	}
	snaps := snapshots.Generate(snapshots.Request{
		Year:       year,
		Strategy:   l.settings.Strategy,
		Resolution: l.settings.Resolution,
		Demand:     demand,
		CustomDays: in.CustomDays,
	}, logger)
	if len(snaps.Snapshots) == 0 {
		logger.Printf("Warning: year %d has no snapshots, skipping", year)
		l.engine.metrics.yearSkipped()
		return nil, nil
	}
	logger.Printf("Year %d: %d snapshots (%s)", year, len(snaps.Snapshots), snaps.Strategy)

	fleet := l.manager.Resolve(year, prev)
	net, err := l.asm.build(year, snaps, fleet)
	if err != nil {
		return nil, err
	}
	if l.settings.Cluster {
		sum := cluster.Generators(net, logger)
		logger.Printf("Year %d: clustered %d generators into %d", year, sum.Before, sum.After)
	}
	logger.Printf("Year %d network: %s", year, net.Summary())

	f, err := optimize.Formulate(net, l.solver.Options())
	if err != nil {
		return nil, fmt.Errorf("failed to formulate: %w", err)
	}

	solveCtx, cancel := l.solveContext()
	defer cancel()

	start := time.Now()
	res, err := l.solver.Solve(solveCtx, f.Model)
	if err != nil {
		return nil, err
	}
	if l.settings.MonthlyConstraints {
		res, _, err = optimize.ApplyConstraints(solveCtx, f, res, l.tables, l.solver, logger)
		if err != nil {
			return nil, err
		}
	}
	elapsed := time.Since(start)
	f.Apply(res)

	yearDir := filepath.Join(l.dir, strconv.Itoa(year))
	files, err := results.Export(net, yearDir)
	if err != nil {
		return nil, fmt.Errorf("failed to export results: %w", err)
	}
	logger.Printf("Year %d: objective %.2f, exported %d files to %s", year, net.Objective, len(files), yearDir)

	if l.req.Store != nil {
		rec := results.YearRecord{RunID: l.runID, Scenario: l.req.Scenario, Year: year, Objective: net.Objective, Network: net}
		if err := l.req.Store.SaveYear(ctx, rec); err != nil {
			logger.Printf("Warning: failed to persist year %d: %v", year, err)
		}
	}
	l.engine.metrics.observeYear(year, net.Objective, elapsed.Seconds())

	return &YearResult{Year: year, Network: net, Objective: net.Objective, Dir: yearDir, Files: files}, nil
}

// solveContext is detached from the run context: a run is only cancelled
// between years.
func (l *yearLoop) solveContext() (context.Context, context.CancelFunc) {
	if l.req.SolveTimeout > 0 {
		return context.WithTimeout(context.Background(), l.req.SolveTimeout)
	}
	return context.WithCancel(context.Background())
}
