package analyzer

import (
	"math"

	"github.com/fleetsight/fleetsight/internal/storage"
	"gonum.org/v1/gonum/stat"
)

// Numeric feature names used across the scoring engine. Order matters:
// feature vectors, scalers and the trained artifact all share it.
const (
	FeatRunCount     = "run_count"
	FeatFailureCount = "failure_count"
	FeatSuccessRate  = "success_rate_pct"
	FeatAvgExecTime  = "avg_exec_time_s"
)

func NumericFeatureNames() []string {
	return []string{FeatRunCount, FeatFailureCount, FeatSuccessRate, FeatAvgExecTime}
}

func CategoricalFeatureNames() []string {
	return []string{"bot_type", "owner"}
}

// featureLabel is the human-readable form used in attribution text.
var featureLabel = map[string]string{
	FeatRunCount:     "run count",
	FeatFailureCount: "failure count",
	FeatSuccessRate:  "success rate",
	FeatAvgExecTime:  "execution time",
}

// FeatureStat is one feature's population mean and standard deviation.
type FeatureStat struct {
	Mean float64
	Std  float64
}

// FleetStats maps feature name to population statistics. Computed fresh
// over whatever record set is in scope for a call and never cached
// across scopes: two calls with different filters see different stats.
type FleetStats map[string]FeatureStat

// ComputeFleetStats calculates per-feature mean and standard deviation
// over the given records.
func ComputeFleetStats(fleet storage.Fleet) FleetStats {
	stats := make(FleetStats, 4)
	if len(fleet) == 0 {
		return stats
	}

	for _, name := range NumericFeatureNames() {
		values := make([]float64, 0, len(fleet))
		for i := range fleet {
			v := featureValue(&fleet[i], name)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			stats[name] = FeatureStat{}
			continue
		}
		mean := stat.Mean(values, nil)
		std := 0.0
		if len(values) > 1 {
			std = stat.StdDev(values, nil)
		}
		stats[name] = FeatureStat{Mean: mean, Std: std}
	}
	return stats
}

// Mean returns the population mean for a feature, zero when unknown.
func (s FleetStats) Mean(name string) float64 {
	return s[name].Mean
}

// Std returns the population standard deviation floored at the given
// minimum, guarding degenerate division.
func (s FleetStats) Std(name string, floor float64) float64 {
	return math.Max(s[name].Std, floor)
}

// stdFloor is the per-feature epsilon used for attribution z-scores.
// Execution time uses the coarser floor; rates and counts the finer one.
func stdFloor(name string) float64 {
	if name == FeatAvgExecTime {
		return 0.1
	}
	return 0.01
}

// ZScore computes (value - mean) / std for a feature with the feature's
// documented std floor.
func (s FleetStats) ZScore(name string, value float64) float64 {
	st, ok := s[name]
	if !ok {
		return 0
	}
	return (value - st.Mean) / math.Max(st.Std, stdFloor(name))
}

func featureValue(r *storage.TelemetryRecord, name string) float64 {
	switch name {
	case FeatRunCount:
		return float64(r.RunCount)
	case FeatFailureCount:
		return float64(r.FailureCount)
	case FeatSuccessRate:
		return r.SuccessRate
	case FeatAvgExecTime:
		return r.AvgExecTime
	}
	return 0
}

// FeatureImpacts returns the absolute z-score of every numeric feature
// for the record against the population.
func FeatureImpacts(r *storage.TelemetryRecord, stats FleetStats) map[string]float64 {
	impacts := make(map[string]float64, 4)
	for _, name := range NumericFeatureNames() {
		impacts[name] = math.Abs(stats.ZScore(name, featureValue(r, name)))
	}
	return impacts
}

// AttributionFactors converts feature z-scores into human-readable
// anomaly attribution: |z| > 2 is unusual, |z| > 3 severely abnormal.
func AttributionFactors(r *storage.TelemetryRecord, stats FleetStats) []string {
	var factors []string
	for _, name := range NumericFeatureNames() {
		z := math.Abs(stats.ZScore(name, featureValue(r, name)))
		if z <= 2 {
			continue
		}
		label := featureLabel[name]
		if z > 3 {
			factors = append(factors, "severely abnormal "+label)
		} else {
			factors = append(factors, "unusual "+label)
		}
	}
	return factors
}
