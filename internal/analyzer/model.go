package analyzer

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/fleetsight/fleetsight/internal/storage"
)

// highFailureLabelPct is the failure-rate percentage above which a bot
// is labeled high-risk for classifier training.
const highFailureLabelPct = 20.0

// RiskModel bundles the fitted classifier with the preprocessing state
// and feature-name lists used at training time. It is persisted as a
// single JSON artifact and loaded once at process start; a missing
// artifact selects the heuristic-only scoring path, never an error.
type RiskModel struct {
	Forest              *RandomForest   `json:"forest"`
	Scaler              *StandardScaler `json:"scaler"`
	Encoder             *OneHotEncoder  `json:"encoder"`
	NumericFeatures     []string        `json:"numeric_features"`
	CategoricalFeatures []string        `json:"categorical_features"`

	// Holdout KPIs. The deployed model is refit on the full dataset
	// after validation, so these describe a slightly different model;
	// that trade-off is deliberate.
	KPIAccuracy float64   `json:"kpi_accuracy"`
	KPIAUC      float64   `json:"kpi_auc"`
	TrainedAt   time.Time `json:"trained_at"`
}

// trainable reports whether a record has every field the classifier
// needs. Rows failing this are excluded from training.
func trainable(r *storage.TelemetryRecord) bool {
	if r.BotType == "" || r.Owner == "" {
		return false
	}
	if math.IsNaN(r.SuccessRate) || math.IsNaN(r.AvgExecTime) {
		return false
	}
	return true
}

// TrainRiskModel fits the supervised classifier offline. Labels derive
// from the failure rate (above 20% is high-risk); a stratified 75/25
// holdout reports accuracy and ROC-AUC, then the model is refit on the
// entire dataset before being returned.
func TrainRiskModel(fleet storage.Fleet, numTrees int, seed int64) (*RiskModel, error) {
	var rows storage.Fleet
	for _, r := range fleet {
		if trainable(&r) {
			rows = append(rows, r)
		}
	}
	if len(rows) < 8 {
		return nil, fmt.Errorf("not enough trainable records: %d", len(rows))
	}

	y := make([]int, len(rows))
	positives := 0
	for i := range rows {
		if rows[i].FailureRatePct() > highFailureLabelPct {
			y[i] = 1
			positives++
		}
	}
	if positives == 0 || positives == len(rows) {
		return nil, fmt.Errorf("degenerate labels: %d positive of %d", positives, len(rows))
	}

	rng := rand.New(rand.NewSource(seed))
	trainIdx, valIdx := stratifiedSplit(y, 0.25, rng)

	// Fit preprocessing on the training split only, validate, then
	// refit everything on the full dataset for deployment.
	m := fitPipeline(rows, y, trainIdx, numTrees, rng)
	accuracy, auc := evaluate(m, rows, y, valIdx)

	m = fitPipeline(rows, y, allIndices(len(rows)), numTrees, rng)
	m.KPIAccuracy = accuracy
	m.KPIAUC = auc
	m.TrainedAt = time.Now().UTC()
	return m, nil
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// stratifiedSplit shuffles each class independently and carves off
// valFraction of it, preserving the label ratio in both splits.
func stratifiedSplit(y []int, valFraction float64, rng *rand.Rand) (train, val []int) {
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	for _, idx := range byClass {
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		nVal := int(math.Round(valFraction * float64(len(idx))))
		if nVal < 1 {
			nVal = 1
		}
		if nVal >= len(idx) {
			nVal = len(idx) - 1
		}
		val = append(val, idx[:nVal]...)
		train = append(train, idx[nVal:]...)
	}
	return train, val
}

func fitPipeline(rows storage.Fleet, y []int, idx []int, numTrees int, rng *rand.Rand) *RiskModel {
	numeric := make([][]float64, len(idx))
	categorical := make([][]string, len(idx))
	labels := make([]int, len(idx))
	for k, i := range idx {
		numeric[k] = FeatureVector(&rows[i], nil)
		categorical[k] = CategoricalValues(&rows[i])
		labels[k] = y[i]
	}

	scaler := &StandardScaler{}
	scaler.Fit(numeric)
	encoder := &OneHotEncoder{}
	encoder.Fit(categorical)

	X := make([][]float64, len(idx))
	for k := range idx {
		X[k] = append(scaler.Transform(numeric[k]), encoder.Transform(categorical[k])...)
	}

	forest := NewRandomForest(numTrees)
	forest.Fit(X, labels, BalancedWeights(labels), rng)

	return &RiskModel{
		Forest:              forest,
		Scaler:              scaler,
		Encoder:             encoder,
		NumericFeatures:     NumericFeatureNames(),
		CategoricalFeatures: CategoricalFeatureNames(),
	}
}

func evaluate(m *RiskModel, rows storage.Fleet, y []int, valIdx []int) (accuracy, auc float64) {
	probs := make([]float64, len(valIdx))
	labels := make([]int, len(valIdx))
	correct := 0
	for k, i := range valIdx {
		p, err := m.PredictRiskProbability(&rows[i])
		if err != nil {
			p = 0
		}
		probs[k] = p
		labels[k] = y[i]
		pred := 0
		if p >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}
	if len(valIdx) > 0 {
		accuracy = float64(correct) / float64(len(valIdx))
	}
	return accuracy, rocAUC(probs, labels)
}

// rocAUC computes the area under the ROC curve via the rank statistic,
// with the midrank correction for tied scores.
func rocAUC(probs []float64, labels []int) float64 {
	n := len(probs)
	pos, neg := 0, 0
	for _, l := range labels {
		if l == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return probs[order[a]] < probs[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j < n && probs[order[j]] == probs[order[i]] {
			j++
		}
		// 1-based midrank across the tie group
		mid := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[order[k]] = mid
		}
		i = j
	}

	rankSum := 0.0
	for i, l := range labels {
		if l == 1 {
			rankSum += ranks[i]
		}
	}
	return (rankSum - float64(pos)*float64(pos+1)/2) / (float64(pos) * float64(neg))
}

// PredictRiskProbability returns the classifier's probability that the
// bot is heading for a high failure rate.
func (m *RiskModel) PredictRiskProbability(r *storage.TelemetryRecord) (float64, error) {
	if m == nil || m.Forest == nil || m.Scaler == nil || m.Encoder == nil {
		return 0, fmt.Errorf("risk model not loaded")
	}
	x := append(m.Scaler.Transform(FeatureVector(r, nil)), m.Encoder.Transform(CategoricalValues(r))...)
	return m.Forest.PredictProba(x), nil
}

// Save persists the artifact as a single JSON blob.
func (m *RiskModel) Save(path string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode risk model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write risk model: %w", err)
	}
	return nil
}

// LoadRiskModel reads a persisted artifact. Callers treat a missing file
// as "run without the classifier", not as a startup failure.
func LoadRiskModel(path string) (*RiskModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read risk model: %w", err)
	}
	var m RiskModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode risk model: %w", err)
	}
	return &m, nil
}
