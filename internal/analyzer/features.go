package analyzer

import (
	"math"

	"github.com/fleetsight/fleetsight/internal/storage"
)

// FeatureVector normalizes one telemetry record into the numeric vector
// consumed by the models. Missing or non-finite values degrade to the
// population mean, or zero when no statistics are available; extraction
// never fails on malformed input.
func FeatureVector(r *storage.TelemetryRecord, stats FleetStats) []float64 {
	names := NumericFeatureNames()
	vec := make([]float64, len(names))
	for i, name := range names {
		v := featureValue(r, name)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			if stats != nil {
				v = stats.Mean(name)
			} else {
				v = 0
			}
		}
		vec[i] = v
	}
	return vec
}

// CategoricalValues returns the record's categorical attributes in the
// order of CategoricalFeatureNames.
func CategoricalValues(r *storage.TelemetryRecord) []string {
	return []string{r.BotType, r.Owner}
}

// featureMatrix extracts the numeric vectors for an entire fleet.
func featureMatrix(fleet storage.Fleet, stats FleetStats) [][]float64 {
	X := make([][]float64, len(fleet))
	for i := range fleet {
		X[i] = FeatureVector(&fleet[i], stats)
	}
	return X
}
