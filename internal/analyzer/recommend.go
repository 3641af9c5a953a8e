package analyzer

import (
	"fmt"
	"math"
	"strings"

	"github.com/fleetsight/fleetsight/internal/storage"
)

// genericRecommendations is the fallback set when no rule fires.
var genericRecommendations = []string{
	"Monitor performance metrics and error patterns",
	"Schedule routine maintenance and code review",
	"Consider implementing automated testing and validation",
}

// anomalyRecommendations is always appended for flagged anomalies,
// regardless of what earlier rules produced.
var anomalyRecommendations = []string{
	"Investigate unusual behavior patterns detected by anomaly detection",
	"Compare current metrics with historical baselines",
	"Review system resources and dependencies",
}

// RecommendInput bundles the scored state the rule engine reads.
type RecommendInput struct {
	Record    *storage.TelemetryRecord
	Stats     FleetStats
	IsAnomaly bool
	RiskProb  float64
	// Impacts are the absolute attribution z-scores per numeric feature.
	Impacts map[string]float64
}

// Recommendations evaluates the rule list in priority order and returns
// ordered guidance. The list is never empty: when nothing fires, the
// three generic suggestions are returned. Anomaly suggestions are
// additive and never capped.
func Recommendations(in RecommendInput) []string {
	r := in.Record
	var recs []string

	// Failure severity, highest tier only. The absolute z-score floors
	// the std at 1 so tiny fleets do not explode the score.
	failureRatio := r.FailureRatio()
	failureZ := (float64(r.FailureCount) - in.Stats.Mean(FeatFailureCount)) / in.Stats.Std(FeatFailureCount, 1)
	switch {
	case failureRatio >= 0.7 || failureZ > 2:
		recs = append(recs, fmt.Sprintf(
			"Critical failure rate (%d%%) with %d failures - Immediate investigation required",
			roundPct(failureRatio*100), r.FailureCount))
	case failureRatio >= 0.4 || failureZ > 1:
		recs = append(recs, fmt.Sprintf(
			"Moderate failure rate (%d%% of runs failed) with %d failures - Review error patterns and recovery procedures",
			roundPct(failureRatio*100), r.FailureCount))
	case failureRatio >= 0.2:
		recs = append(recs, fmt.Sprintf(
			"Elevated failure rate (%d%%) detected - Monitor error patterns",
			roundPct(failureRatio*100)))
	}

	// Activity pattern.
	avgRuns := in.Stats.Mean(FeatRunCount)
	runZ := (float64(r.RunCount) - avgRuns) / in.Stats.Std(FeatRunCount, 1)
	if math.Abs(runZ) > 2 {
		diffPct := (float64(r.RunCount) - avgRuns) / math.Max(avgRuns, 1) * 100
		if float64(r.RunCount) < avgRuns {
			recs = append(recs, fmt.Sprintf(
				"Significantly low activity detected (%d%% below average, %d runs) - Verify bot scheduling and triggers",
				roundPct(math.Abs(diffPct)), r.RunCount))
		} else {
			recs = append(recs, fmt.Sprintf(
				"Unusually high activity detected (%d%% above average, %d runs) - Review workload distribution",
				roundPct(diffPct), r.RunCount))
		}
	}

	// Performance.
	execBaseline := in.Stats.Mean(FeatAvgExecTime)
	execZ := (r.AvgExecTime - execBaseline) / in.Stats.Std(FeatAvgExecTime, 0.1)
	if math.Abs(execZ) > 2 {
		increase := (r.AvgExecTime - execBaseline) / math.Max(execBaseline, 0.1) * 100
		if increase > 0 {
			recs = append(recs, fmt.Sprintf(
				"Performance degradation detected (%d%% slower than average) - Investigate bottlenecks",
				roundPct(increase)))
		} else {
			recs = append(recs, fmt.Sprintf(
				"Unusual performance pattern (%d%% faster than average) - Validate process completion",
				roundPct(math.Abs(increase))))
		}
	}

	// Critical anomaly attribution when there is still room.
	if in.IsAnomaly && len(recs) < 3 {
		var critical []string
		if math.Abs((r.AvgExecTime-execBaseline)/in.Stats.Std(FeatAvgExecTime, 0.1)) > 3 {
			critical = append(critical, "performance")
		}
		if math.Abs((float64(r.FailureCount)-in.Stats.Mean(FeatFailureCount))/in.Stats.Std(FeatFailureCount, 0.1)) > 3 {
			critical = append(critical, "failure patterns")
		}
		if len(critical) > 0 {
			recs = append(recs, fmt.Sprintf(
				"CRITICAL: Anomalous behavior detected in %s - Immediate investigation required",
				strings.Join(critical, " and ")))
		}
	}

	// High overall risk: name the features driving it.
	if in.RiskProb > 0.8 {
		var impactFactors []string
		for _, name := range NumericFeatureNames() {
			if in.Impacts[name] > 1.5 {
				impactFactors = append(impactFactors, featureLabel[name])
			}
		}
		if len(impactFactors) > 0 {
			recs = append(recs, fmt.Sprintf(
				"High risk detected in: %s - Consider temporary suspension for thorough investigation",
				strings.Join(impactFactors, ", ")))
		}
	}

	if len(recs) == 0 {
		recs = append(recs, genericRecommendations...)
	}
	if in.IsAnomaly {
		recs = append(recs, anomalyRecommendations...)
	}
	return recs
}

func roundPct(v float64) int {
	return int(math.Round(v))
}
