package backtest

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/eventsource"
)

// ParamSet is one point in a grid search, keyed by a caller-chosen parameter
// name (e.g. "max_trade_fraction", "trailing_percent"). Kept generic rather
// than a fixed struct so a grid search can vary any subset of Config without
// the optimizer needing to know about every field.
type ParamSet map[string]float64

// BuildConfig applies a ParamSet on top of a base Config, producing the
// Config a single backtest run should use.
type BuildConfig func(base Config, params ParamSet) Config

// TargetMetric scores a completed run; GridSearch picks the best by this.
type TargetMetric func(*Result) float64

// GridSearch is grid search over a Cartesian product of parameter ranges
// (spec.md section 4.12): "generates the Cartesian product, runs a backtest
// for each, tracks the best by a target metric."
type GridSearch struct {
	Base     Config
	Ranges   map[string][]float64
	Build    BuildConfig
	Metric   TargetMetric
	Maximize bool
}

// GridResult is one evaluated grid point.
type GridResult struct {
	Params ParamSet
	Result *Result
	Score  float64
}

// RunGridSearch evaluates every combination in gs.Ranges against events,
// returning the best result and every evaluated point (in evaluation order,
// which is deterministic given deterministic parameter range ordering).
func RunGridSearch(ctx context.Context, gs GridSearch, events []eventsource.Event, log *zap.Logger) (*GridResult, []GridResult, error) {
	combos := cartesianProduct(gs.Ranges)
	all := make([]GridResult, 0, len(combos))
	var best *GridResult

	for _, params := range combos {
		if err := ctx.Err(); err != nil {
			return best, all, err
		}
		cfg := gs.Build(gs.Base, params)
		eng := NewEngine(cfg, log)
		result, err := eng.Run(ctx, events)
		if err != nil {
			return best, all, err
		}
		score := gs.Metric(result)
		gr := GridResult{Params: params, Result: result, Score: score}
		all = append(all, gr)
		if best == nil || betterScore(score, best.Score, gs.Maximize) {
			found := gr
			best = &found
		}
	}
	return best, all, nil
}

func betterScore(score, bestScore float64, maximize bool) bool {
	if maximize {
		return score > bestScore
	}
	return score < bestScore
}

// cartesianProduct expands ranges into every ParamSet combination. Keys are
// sorted first so the same ranges map always yields the same evaluation
// order, which RunWalkForward's consensus step depends on for determinism.
func cartesianProduct(ranges map[string][]float64) []ParamSet {
	keys := make([]string, 0, len(ranges))
	for k := range ranges {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	combos := []ParamSet{{}}
	for _, k := range keys {
		values := ranges[k]
		next := make([]ParamSet, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				extended := make(ParamSet, len(combo)+1)
				for ck, cv := range combo {
					extended[ck] = cv
				}
				extended[k] = v
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

// TotalReturnMetric maximizes ending capital minus starting capital.
func TotalReturnMetric(cfg Config) TargetMetric {
	starting := cfg.StartingCapital
	return func(r *Result) float64 {
		return float64(r.FinalCapital) - float64(starting)
	}
}

// WinRateMetric maximizes the fraction of winning trades recorded in the
// daily P&L ledger (ties toward more trades are not broken here; callers
// combine metrics if that matters to them).
func WinRateMetric() TargetMetric {
	return func(r *Result) float64 {
		total := r.DailyPnL.Wins + r.DailyPnL.Losses
		if total == 0 {
			return 0
		}
		return float64(r.DailyPnL.Wins) / float64(total)
	}
}
