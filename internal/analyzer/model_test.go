package analyzer

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/fleetsight/fleetsight/internal/storage"
)

// trainingFleet builds a fleet where failure rate separates cleanly by
// bot type, so a trained classifier has signal to pick up.
func trainingFleet(n int) storage.Fleet {
	fleet := make(storage.Fleet, 0, n)
	for i := 0; i < n; i++ {
		r := storage.TelemetryRecord{
			BotName:     botName(i),
			Owner:       "ops",
			RunCount:    100,
			SuccessRate: 97,
			AvgExecTime: 2,
		}
		if i%2 == 0 {
			r.BotType = "stable"
			r.FailureCount = 2 + i%3
		} else {
			r.BotType = "flaky"
			r.FailureCount = 40 + i%10
			r.SuccessRate = 60
			r.AvgExecTime = 8
		}
		fleet = append(fleet, r)
	}
	return fleet
}

func TestTrainRiskModel(t *testing.T) {
	fleet := trainingFleet(60)
	m, err := TrainRiskModel(fleet, 50, 42)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}

	if m.KPIAccuracy < 0.8 {
		t.Errorf("holdout accuracy %v, expected >= 0.8 on separable data", m.KPIAccuracy)
	}
	if m.KPIAUC < 0.8 || m.KPIAUC > 1 {
		t.Errorf("holdout AUC %v, expected in [0.8, 1]", m.KPIAUC)
	}
	if len(m.NumericFeatures) != 4 || len(m.CategoricalFeatures) != 2 {
		t.Errorf("unexpected feature lists: %v / %v", m.NumericFeatures, m.CategoricalFeatures)
	}

	flaky := &fleet[1]
	stable := &fleet[0]
	pFlaky, err := m.PredictRiskProbability(flaky)
	if err != nil {
		t.Fatalf("inference failed: %v", err)
	}
	pStable, _ := m.PredictRiskProbability(stable)
	if pFlaky <= pStable {
		t.Errorf("flaky bot %v not riskier than stable bot %v", pFlaky, pStable)
	}
	if pFlaky < 0 || pFlaky > 1 || pStable < 0 || pStable > 1 {
		t.Errorf("probabilities out of [0,1]: %v, %v", pFlaky, pStable)
	}
}

func TestTrainRiskModelDegenerateLabels(t *testing.T) {
	fleet := make(storage.Fleet, 20)
	for i := range fleet {
		fleet[i] = storage.TelemetryRecord{
			BotName: botName(i), BotType: "stable", Owner: "ops",
			RunCount: 100, FailureCount: 1, SuccessRate: 99, AvgExecTime: 2,
		}
	}
	if _, err := TrainRiskModel(fleet, 10, 42); err == nil {
		t.Error("expected error for single-class labels")
	}
}

func TestTrainRiskModelTooFewRecords(t *testing.T) {
	fleet := trainingFleet(4)
	if _, err := TrainRiskModel(fleet, 10, 42); err == nil {
		t.Error("expected error for tiny training set")
	}
}

func TestTrainRiskModelExcludesIncompleteRows(t *testing.T) {
	fleet := trainingFleet(40)
	// rows missing categorical fields or carrying NaN must not break training
	fleet = append(fleet,
		storage.TelemetryRecord{BotName: "no-type", Owner: "ops", RunCount: 10, FailureCount: 9},
		storage.TelemetryRecord{BotName: "nan-bot", BotType: "flaky", Owner: "ops", SuccessRate: math.NaN()},
	)
	if _, err := TrainRiskModel(fleet, 20, 42); err != nil {
		t.Fatalf("training failed with incomplete rows present: %v", err)
	}
}

func TestRiskModelSaveLoadRoundtrip(t *testing.T) {
	fleet := trainingFleet(60)
	m, err := TrainRiskModel(fleet, 30, 42)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "risk_model.json")
	if err := m.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := LoadRiskModel(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	for i := range fleet {
		want, _ := m.PredictRiskProbability(&fleet[i])
		got, err := loaded.PredictRiskProbability(&fleet[i])
		if err != nil {
			t.Fatalf("inference on loaded model failed: %v", err)
		}
		if math.Abs(want-got) > 1e-12 {
			t.Fatalf("bot %d: prediction drifted after roundtrip: %v vs %v", i, want, got)
		}
	}
	if loaded.KPIAccuracy != m.KPIAccuracy || loaded.KPIAUC != m.KPIAUC {
		t.Error("KPIs not preserved by roundtrip")
	}
}

func TestLoadRiskModelMissingFile(t *testing.T) {
	if _, err := LoadRiskModel(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing artifact")
	}
}
