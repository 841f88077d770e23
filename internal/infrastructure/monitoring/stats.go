package monitoring

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// BlockSummary describes how long live processes have spent blocked.
type BlockSummary struct {
	Count  int           `json:"count"`
	Mean   time.Duration `json:"mean_ns"`
	StdDev time.Duration `json:"stddev_ns"`
	P50    time.Duration `json:"p50_ns"`
	P95    time.Duration `json:"p95_ns"`
	Max    time.Duration `json:"max_ns"`
}

// Summarize computes a BlockSummary. An empty input yields the zero value.
func Summarize(durations []time.Duration) BlockSummary {
	if len(durations) == 0 {
		return BlockSummary{}
	}
	xs := make([]float64, len(durations))
	for i, d := range durations {
		xs[i] = float64(d)
	}
	sort.Float64s(xs)

	s := BlockSummary{
		Count: len(xs),
		Mean:  time.Duration(stat.Mean(xs, nil)),
		P50:   time.Duration(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P95:   time.Duration(stat.Quantile(0.95, stat.Empirical, xs, nil)),
		Max:   time.Duration(xs[len(xs)-1]),
	}
	if len(xs) > 1 {
		s.StdDev = time.Duration(stat.StdDev(xs, nil))
	}
	return s
}
