package optimize

import (
	"context"
	"errors"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const integralityTol = 1e-6

type node struct {
	model *Model
	bound float64 // relaxation objective of the parent
}

type nodeResult struct {
	f   float64
	x   []float64
	err error
}

// branchAndBound runs a depth-first search over integer bounds. With
// Parallel set, up to Threads open nodes are relaxed concurrently.
func (s *Solver) branchAndBound(ctx context.Context, root *Model) (*Result, error) {
	batch := 1
	if s.opts.Parallel {
		batch = s.opts.Threads
	}

	incumbent := math.Inf(1)
	var best []float64
	status := StatusOptimal
	nodes := 0

	stack := []node{{model: root, bound: math.Inf(-1)}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			if best == nil {
				return nil, err
			}
			status = StatusTimeLimit
			break
		}
		if s.opts.NodeLimit > 0 && nodes >= s.opts.NodeLimit {
			if best == nil {
				return nil, errors.New("node limit reached without an integer solution")
			}
			status = StatusNodeLimit
			break
		}
		if best != nil && gap(incumbent, lowerBound(stack, incumbent)) <= s.opts.MIPGap && s.opts.MIPGap > 0 {
			status = StatusGap
			break
		}

		k := min(batch, len(stack))
		open := stack[len(stack)-k:]
		stack = stack[:len(stack)-k]

		results := make([]nodeResult, k)
		var g errgroup.Group
		g.SetLimit(s.opts.Threads)
		for i := range open {
			i := i
			g.Go(func() error {
				f, x, err := s.relaxation(ctx, open[i].model)
				results[i] = nodeResult{f: f, x: x, err: err}
				return nil
			})
		}
		_ = g.Wait()

		for i, r := range results {
			nodes++
			if r.err != nil {
				if nodes == 1 {
					return nil, r.err
				}
				if !errors.Is(r.err, lp.ErrInfeasible) {
					s.logger.Printf("Warning: pruning node after solver error: %v", r.err)
				}
				continue
			}
			if r.f >= incumbent-s.opts.Tolerance {
				continue
			}

			j := s.branchVariable(open[i].model, r.x)
			if j < 0 {
				incumbent, best = r.f, r.x
				continue
			}

			v := r.x[j]
			up := open[i].model.withVars()
			up.Vars[j].Lower = math.Ceil(v)
			down := open[i].model.withVars()
			down.Vars[j].Upper = math.Floor(v)
			// the closer side is explored first
			if v-math.Floor(v) < 0.5 {
				stack = append(stack, node{model: up, bound: r.f}, node{model: down, bound: r.f})
			} else {
				stack = append(stack, node{model: down, bound: r.f}, node{model: up, bound: r.f})
			}
		}
	}

	if best == nil {
		return nil, lp.ErrInfeasible
	}
	for j, v := range root.Vars {
		if v.Integer {
			best[j] = math.Round(best[j])
		}
	}
	return &Result{
		Objective: root.Objective(best),
		X:         best,
		Status:    status,
		Nodes:     nodes,
		Gap:       gap(incumbent, lowerBound(stack, incumbent)),
	}, nil
}

// branchVariable picks a fractional integer variable, or -1 when x is
// integral.
func (s *Solver) branchVariable(m *Model, x []float64) int {
	pick, score := -1, 0.0
	for j, v := range m.Vars {
		if !v.Integer {
			continue
		}
		frac := x[j] - math.Floor(x[j])
		if frac < integralityTol || frac > 1-integralityTol {
			continue
		}
		if s.opts.BranchingStrategy == 1 {
			return j
		}
		if d := 0.5 - math.Abs(frac-0.5); d > score {
			pick, score = j, d
		}
	}
	return pick
}

func lowerBound(open []node, incumbent float64) float64 {
	lb := incumbent
	for _, n := range open {
		lb = math.Min(lb, n.bound)
	}
	return lb
}

func gap(incumbent, bound float64) float64 {
	if math.IsInf(incumbent, 0) || math.IsInf(bound, 0) {
		return math.Inf(1)
	}
	return math.Abs(incumbent-bound) / math.Max(1, math.Abs(incumbent))
}
