package backtest

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// WalkForwardConfig controls window partitioning (spec.md section 4.12):
// "partitions tokens chronologically into N windows, performs grid search
// on the training portion (default 75%), evaluates the best parameters on
// the validation portion."
type WalkForwardConfig struct {
	Windows       int
	TrainFraction float64
}

// DefaultWalkForwardConfig matches the spec's stated default split.
func DefaultWalkForwardConfig() WalkForwardConfig {
	return WalkForwardConfig{Windows: 4, TrainFraction: 0.75}
}

// WindowResult is one walk-forward window's training and validation outcome.
type WindowResult struct {
	Index           int
	TrainParams     ParamSet
	TrainScore      float64
	ValidationScore float64
	Validation      *Result
}

// WalkForwardResult is the full report: per-window results plus the
// consensus parameter set voted across all windows.
type WalkForwardResult struct {
	Windows   []WindowResult
	Consensus ParamSet
}

// RunWalkForward partitions timelines chronologically into wf.Windows
// windows, grid-searches each window's training slice, evaluates the winning
// parameters on that window's validation slice, and reports a median-vote
// consensus across windows (spec.md section 9: "median of parameter votes
// ... ties within integer-grid steps break by the smaller value").
func RunWalkForward(ctx context.Context, gs GridSearch, timelines []TokenTimeline, wf WalkForwardConfig, log *zap.Logger) (*WalkForwardResult, error) {
	if wf.Windows <= 0 {
		wf.Windows = 1
	}
	if wf.TrainFraction <= 0 || wf.TrainFraction >= 1 {
		wf.TrainFraction = 0.75
	}

	sortTimelines(timelines)
	buckets := partitionChronologically(timelines, wf.Windows)

	result := &WalkForwardResult{}
	for i, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if len(bucket) == 0 {
			continue
		}
		trainTimelines, validateTimelines := splitTrainValidate(bucket, wf.TrainFraction)
		trainEvents := MergeTimelines(trainTimelines)
		validateEvents := MergeTimelines(validateTimelines)

		best, _, err := RunGridSearch(ctx, gs, trainEvents, log)
		if err != nil {
			return result, err
		}
		if best == nil {
			continue
		}

		validateCfg := gs.Build(gs.Base, best.Params)
		validateEngine := NewEngine(validateCfg, log)
		validateResult, err := validateEngine.Run(ctx, validateEvents)
		if err != nil {
			return result, err
		}

		result.Windows = append(result.Windows, WindowResult{
			Index:           i,
			TrainParams:     best.Params,
			TrainScore:      best.Score,
			ValidationScore: gs.Metric(validateResult),
			Validation:      validateResult,
		})
	}

	result.Consensus = medianConsensus(result.Windows)
	return result, nil
}

// partitionChronologically buckets timelines (already sorted by first event
// time) into n roughly-equal, chronologically contiguous groups.
func partitionChronologically(timelines []TokenTimeline, n int) [][]TokenTimeline {
	buckets := make([][]TokenTimeline, n)
	if len(timelines) == 0 {
		return buckets
	}
	per := (len(timelines) + n - 1) / n
	for i, tl := range timelines {
		b := i / per
		if b >= n {
			b = n - 1
		}
		buckets[b] = append(buckets[b], tl)
	}
	return buckets
}

// splitTrainValidate splits each token's own event sequence at the
// TrainFraction point, so both sides retain every token (a token is not
// assigned wholesale to only one half), matching "chronologically into N
// windows ... training portion / validation portion" at the window level.
func splitTrainValidate(bucket []TokenTimeline, trainFraction float64) (train, validate []TokenTimeline) {
	for _, tl := range bucket {
		cut := int(float64(len(tl.Events)) * trainFraction)
		train = append(train, TokenTimeline{Token: tl.Token, Events: tl.Events[:cut]})
		validate = append(validate, TokenTimeline{Token: tl.Token, Events: tl.Events[cut:]})
	}
	return train, validate
}

// medianConsensus takes, per parameter key, the median of each window's
// winning value; for an even window count it picks the lower of the two
// middle values (spec.md section 9's deterministic smaller-value tie-break).
func medianConsensus(windows []WindowResult) ParamSet {
	if len(windows) == 0 {
		return ParamSet{}
	}
	byKey := make(map[string][]float64)
	for _, w := range windows {
		for k, v := range w.TrainParams {
			byKey[k] = append(byKey[k], v)
		}
	}
	consensus := make(ParamSet, len(byKey))
	for k, values := range byKey {
		sort.Float64s(values)
		mid := len(values) / 2
		if len(values)%2 == 1 {
			consensus[k] = values[mid]
		} else {
			consensus[k] = values[mid-1]
		}
	}
	return consensus
}
