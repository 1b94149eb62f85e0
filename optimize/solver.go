package optimize

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/devskill-org/capacity-planner/settings"
)

// Algorithms understood by the solver.
const (
	AlgorithmSimplex        = "simplex"
	AlgorithmBranchAndBound = "branch-and-bound"
)

// Backends linked into the binary. BackendSparse is the bounded dual simplex
// on sparse storage; BackendGonum is the dense gonum simplex and only takes
// models up to maxDenseCells.
const (
	BackendSparse = "sparse"
	BackendGonum  = "gonum"
)

const maxDenseCells = 4_000_000

// Status describes how a solve ended.
type Status string

const (
	StatusOptimal   Status = "optimal"
	StatusGap       Status = "gap_reached"
	StatusNodeLimit Status = "node_limit"
	StatusTimeLimit Status = "time_limit"
)

// Options configures a solve.
type Options struct {
	Name      string
	Algorithm string
	Tolerance float64
	Threads   int
	Presolve  bool
	Parallel  bool

	// branch and bound
	MIPGap            float64
	BranchingStrategy int // 0 = most fractional, 1 = first fractional
	NodeLimit         int

	// Aggregate merges identical snapshots of a month when the network has
	// no intertemporal coupling.
	Aggregate bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return OptionsFrom(settings.Defaults().Solver)
}

// OptionsFrom maps the settings bundle onto solver options.
func OptionsFrom(s settings.Solver) Options {
	return Options{
		Name:              s.Name,
		Algorithm:         s.Algorithm,
		Tolerance:         s.Tolerance,
		Threads:           s.Threads,
		Presolve:          s.Presolve,
		Parallel:          s.Parallel,
		MIPGap:            s.MIPGap,
		BranchingStrategy: s.BranchingStrategy,
		NodeLimit:         s.NodeLimit,
		Aggregate:         true,
	}
}

// Result is the outcome of a successful solve.
type Result struct {
	Objective float64
	X         []float64
	Status    Status
	Nodes     int
	Gap       float64
	Duration  time.Duration
}

// Solver solves models with one of the simplex backends.
type Solver struct {
	opts      Options
	logger    *log.Logger
	denseOnce sync.Once
}

// NewSolver normalizes opts and returns a solver. Unknown backends fall back
// to the sparse simplex with a warning.
func NewSolver(opts Options, logger *log.Logger) *Solver {
	if logger == nil {
		logger = log.Default()
	}
	switch name := strings.ToLower(opts.Name); name {
	case BackendSparse, BackendGonum:
		opts.Name = name
	case "":
		opts.Name = BackendSparse
	default:
		logger.Printf("Warning: solver %q is not available, using %s", opts.Name, BackendSparse)
		opts.Name = BackendSparse
	}
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmSimplex
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = 1e-9
	}
	if opts.Threads < 1 {
		opts.Threads = 1
	}
	if opts.MIPGap < 0 {
		opts.MIPGap = 0
	}
	return &Solver{opts: opts, logger: logger}
}

// Options returns the effective options.
func (s *Solver) Options() Options { return s.opts }

// Solve minimizes m. Models with integer variables go through branch and
// bound; ctx is checked between nodes.
func (s *Solver) Solve(ctx context.Context, m *Model) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	if m.HasIntegers() {
		if s.opts.Algorithm != AlgorithmBranchAndBound {
			s.logger.Printf("Warning: model has integer variables, using %s instead of %s", AlgorithmBranchAndBound, s.opts.Algorithm)
		}
		res, err = s.branchAndBound(ctx, m)
	} else {
		var f float64
		var x []float64
		f, x, err = s.relaxation(ctx, m)
		if err == nil {
			res = &Result{Objective: f, X: x, Status: StatusOptimal, Nodes: 1}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to solve model with %d variables and %d constraints: %w", len(m.Vars), len(m.Constraints), err)
	}

	res.Duration = time.Since(start)
	s.logger.Printf("Solved %d variables, %d constraints: objective %.4f (%s, %d nodes, %v)",
		len(m.Vars), len(m.Constraints), res.Objective, res.Status, res.Nodes, res.Duration.Round(time.Millisecond))
	return res, nil
}

// relaxation solves the continuous relaxation of m with the configured
// backend. Models too large for the dense backend go to the sparse one.
func (s *Solver) relaxation(ctx context.Context, m *Model) (float64, []float64, error) {
	if s.opts.Name == BackendGonum {
		if cells := denseCells(m); cells <= maxDenseCells {
			return solveDense(m, s.opts.Tolerance, s.opts.Presolve)
		}
		s.denseOnce.Do(func() {
			s.logger.Printf("Warning: model too large for the %s backend, using %s", BackendGonum, BackendSparse)
		})
	}
	return solveSparse(ctx, m, s.opts.Tolerance, s.opts.Presolve)
}
