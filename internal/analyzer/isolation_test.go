package analyzer

import (
	"math"
	"math/rand"
	"testing"

	"github.com/fleetsight/fleetsight/internal/storage"
)

// syntheticFleet builds n similar bots plus the given extras.
func syntheticFleet(n int, extras ...storage.TelemetryRecord) storage.Fleet {
	rng := rand.New(rand.NewSource(7))
	fleet := make(storage.Fleet, 0, n+len(extras))
	for i := 0; i < n; i++ {
		fleet = append(fleet, storage.TelemetryRecord{
			BotName:      botName(i),
			BotType:      "scraper",
			Owner:        "ops",
			RunCount:     95 + rng.Intn(10),
			FailureCount: rng.Intn(3),
			SuccessRate:  94 + rng.Float64()*4,
			AvgExecTime:  1.8 + rng.Float64()*0.4,
		})
	}
	return append(fleet, extras...)
}

func botName(i int) string {
	return "bot-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestRobustScaler(t *testing.T) {
	X := [][]float64{{1, 5}, {2, 5}, {3, 5}, {4, 5}, {100, 5}}
	s := &RobustScaler{}
	s.Fit(X)

	if s.IQR[1] != 1 {
		t.Errorf("expected degenerate IQR floored to 1, got %v", s.IQR[1])
	}
	out := s.Transform([]float64{s.Median[0], 5})
	if out[0] != 0 {
		t.Errorf("median should transform to 0, got %v", out[0])
	}
	if out[1] != 0 {
		t.Errorf("constant column should transform to 0, got %v", out[1])
	}
}

func TestIsolationForestScoresOutlierHigher(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	X := make([][]float64, 0, 101)
	for i := 0; i < 100; i++ {
		X = append(X, []float64{rng.NormFloat64(), rng.NormFloat64()})
	}
	outlier := []float64{40, -40}
	X = append(X, outlier)

	f := NewIsolationForest(100, 256)
	f.Fit(X, rng)

	if f.Score(outlier) <= f.Score(X[0]) {
		t.Errorf("outlier score %v not above inlier score %v", f.Score(outlier), f.Score(X[0]))
	}
	for _, x := range [][]float64{X[0], outlier} {
		s := f.Score(x)
		if s < 0 || s > 1 {
			t.Errorf("score %v out of [0,1]", s)
		}
	}
}

func TestFitDetectorFlagsExtremeBot(t *testing.T) {
	rogue := storage.TelemetryRecord{
		BotName: "rogue", RunCount: 2000, FailureCount: 1500,
		SuccessRate: 10, AvgExecTime: 60,
	}
	fleet := syntheticFleet(50, rogue)

	d := FitDetector(fleet, 0.1, 42)
	verdict := d.Assess(&rogue)
	if !verdict.IsAnomaly {
		t.Error("extreme bot not flagged anomalous")
	}
	if verdict.Score < 0.9 {
		t.Errorf("extreme bot normalized score %v, expected near 1", verdict.Score)
	}

	typical := d.Assess(&fleet[0])
	if typical.IsAnomaly {
		t.Error("typical bot flagged anomalous")
	}
	if typical.Score >= verdict.Score {
		t.Errorf("typical score %v not below outlier score %v", typical.Score, verdict.Score)
	}
}

func TestFitDetectorContaminationBound(t *testing.T) {
	fleet := syntheticFleet(60)
	contamination := 0.1
	d := FitDetector(fleet, contamination, 42)

	flagged := 0
	for i := range fleet {
		if d.Assess(&fleet[i]).IsAnomaly {
			flagged++
		}
	}
	limit := int(math.Ceil(contamination*float64(len(fleet)))) + 1
	if flagged > limit {
		t.Errorf("flagged %d of %d, above contamination bound %d", flagged, len(fleet), limit)
	}
}

func TestFitDetectorDeterministic(t *testing.T) {
	fleet := syntheticFleet(30)
	a := FitDetector(fleet, 0.1, 42)
	b := FitDetector(fleet, 0.1, 42)

	for i := range fleet {
		va, vb := a.Assess(&fleet[i]), b.Assess(&fleet[i])
		if va != vb {
			t.Fatalf("bot %d: verdicts diverge with identical seed: %+v vs %+v", i, va, vb)
		}
	}
}

func TestAssessVerdictRanges(t *testing.T) {
	fleet := syntheticFleet(40)
	d := FitDetector(fleet, 0.05, 42)
	for i := range fleet {
		v := d.Assess(&fleet[i])
		if v.Score < 0 || v.Score > 1 {
			t.Errorf("score %v out of [0,1]", v.Score)
		}
		if v.Percentile < 0 || v.Percentile > 100 {
			t.Errorf("percentile %v out of [0,100]", v.Percentile)
		}
	}
}
